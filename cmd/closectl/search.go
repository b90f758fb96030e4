package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Sternrassler/close-api-client/pkg/pagination"
	"github.com/Sternrassler/close-api-client/pkg/record"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSearchCommand(opts *options) *cobra.Command {
	var (
		queryFile string
		fields    []string
		sort      string
		limit     int
		pageSize  int
	)

	cmd := &cobra.Command{
		Use:   "search <object-type>",
		Short: "Run an advanced search and print every matching record",
		Long: `Run an advanced search and page through all results.

The query is read from a JSON or YAML file holding the search "query"
document. Without --query, every object of the type matches.`,
		Example: `  closectl search opportunity --query stale.json --fields id,lead_id,date_updated
  closectl search lead --sort date_created:desc --limit 50 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectType := args[0]

			var query any = pagination.ObjectTypeQuery(objectType)
			if queryFile != "" {
				q, err := readQuery(queryFile)
				if err != nil {
					return err
				}
				query = q
			}

			req := pagination.SearchRequest{
				ObjectType:   objectType,
				Query:        query,
				Fields:       fields,
				PageSize:     pageSize,
				ResultsLimit: limit,
			}
			if sort != "" {
				field, direction, _ := strings.Cut(sort, ":")
				if direction == "" {
					direction = "asc"
				}
				if direction != "asc" && direction != "desc" {
					return fmt.Errorf("sort direction must be asc or desc (got %q)", direction)
				}
				req.Sort = pagination.SortBy(objectType, field, direction)
			}

			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.fetcher.FetchAll(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search %s: %w", objectType, err)
			}

			columns := fields
			if len(columns) == 0 {
				columns = []string{"id"}
			}
			return a.render(records, columns, recordRows(records, columns))
		},
	}

	cmd.Flags().StringVarP(&queryFile, "query", "q", "", "file holding the search query (JSON or YAML)")
	cmd.Flags().StringSliceVarP(&fields, "fields", "f", nil, "fields to return")
	cmd.Flags().StringVar(&sort, "sort", "", "sort by a regular field, e.g. date_updated:asc")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results (0 for all)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "records per page (default 100)")

	return cmd
}

// readQuery decodes a query document. YAML is a superset of JSON, so both
// formats go through the YAML decoder.
func readQuery(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	var q record.Fields
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("parse query %s: %w", path, err)
	}
	return &q, nil
}

func recordRows(records []record.Record, columns []string) [][]string {
	rows := make([][]string, len(records))
	for i, r := range records {
		row := make([]string, len(columns))
		for j, col := range columns {
			if v, ok := r.Get(col); ok {
				row[j] = v.Text()
			}
		}
		rows[i] = row
	}
	return rows
}
