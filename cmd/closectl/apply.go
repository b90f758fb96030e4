package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/batch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// errBatchFailures is returned when a batch finished with failed writes.
var errBatchFailures = errors.New("batch finished with failures")

func newApplyCommand(opts *options) *cobra.Command {
	var (
		file        string
		op          string
		sliceSize   int
		concurrency int
		failFast    bool
		timeout     time.Duration
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a file of updates or deletes in slices",
		Long: `Apply a list of writes read from a JSON or YAML file:

  - target: opportunity/oppo_123/
    payload:
      status_id: stat_456
      note: Closed by cleanup

Writes run in slices; the writes of one slice run concurrently and the next
slice starts when all of them have settled. Deletes ignore the payload.`,
		Example: `  closectl apply -f updates.yaml
  closectl apply -f stale.json --op delete --fail-fast --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if op != string(batch.OpUpdate) && op != string(batch.OpDelete) {
				return fmt.Errorf("%w: %q", batch.ErrUnsupportedOp, op)
			}
			requests, err := readWriteRequests(file)
			if err != nil {
				return err
			}

			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			batchOpts := a.batchOptions()
			if cmd.Flags().Changed("slice-size") {
				batchOpts.SliceSize = sliceSize
			}
			batchOpts.MaxConcurrency = concurrency
			batchOpts.FailFast = failFast
			if cmd.Flags().Changed("timeout") {
				batchOpts.Timeout = timeout
			}

			if dryRun {
				fmt.Fprintf(a.out, "DRY RUN: would %s %d objects in slices of %d\n", op, len(requests), batchOpts.SliceSize)
				rows := make([][]string, len(requests))
				for i, r := range requests {
					rows[i] = []string{r.Target, payloadText(r)}
				}
				return a.table([]string{"Target", "Payload"}, rows)
			}

			ok, err := a.confirm.Confirm(fmt.Sprintf("%s %d objects?", op, len(requests)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "Aborted")
				return nil
			}

			result, err := a.executor.Execute(cmd.Context(), batch.Op(op), requests, batchOpts)
			if err != nil {
				return err
			}
			return a.reportBatch(result)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file holding the writes (JSON or YAML)")
	cmd.Flags().StringVar(&op, "op", string(batch.OpUpdate), "operation: update or delete")
	cmd.Flags().IntVar(&sliceSize, "slice-size", 0, "writes per slice (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent writes within a slice (0 for the slice size)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop dispatching slices after the first failure")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "timeout per write (default 60s)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the writes without sending them")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readWriteRequests decodes a list of writes. JSON input is valid YAML.
func readWriteRequests(path string) ([]batch.WriteRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read writes: %w", err)
	}
	var requests []batch.WriteRequest
	if err := yaml.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("parse writes %s: %w", path, err)
	}
	return requests, nil
}

func payloadText(r batch.WriteRequest) string {
	if r.Payload == nil {
		return ""
	}
	data, err := r.Payload.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

// reportBatch prints the failures and the summary line. It returns
// errBatchFailures when any write failed.
func (a *app) reportBatch(result *batch.Result) error {
	if len(result.Failures) > 0 {
		var rows [][]string
		for _, f := range result.Failures {
			rows = append(rows, failureRows(f)...)
		}
		if err := a.table([]string{"Target", "Kind", "Field", "Message"}, rows); err != nil {
			return err
		}

		counts := result.FailuresByKind()
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(a.out, "%s: %d\n", k, counts[batch.FailureKind(k)])
		}
	}

	fmt.Fprintln(a.out, result.Summary())
	if len(result.Failures) > 0 {
		return fmt.Errorf("%w: %d of %d", errBatchFailures, len(result.Failures), result.Total())
	}
	return nil
}

// failureRows renders one row per validation message, field errors sorted
// by field, or a single row for other failures.
func failureRows(f batch.Failure) [][]string {
	if f.Detail.Empty() {
		return [][]string{{f.Target, string(f.Kind), "", f.Message()}}
	}

	var rows [][]string
	for _, msg := range f.Detail.Errors {
		rows = append(rows, []string{f.Target, string(f.Kind), "", msg})
	}
	fields := make([]string, 0, len(f.Detail.FieldErrors))
	for field := range f.Detail.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		rows = append(rows, []string{f.Target, string(f.Kind), field, f.Detail.FieldErrors[field]})
	}
	return rows
}
