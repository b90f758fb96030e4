package main

import (
	"fmt"

	"github.com/Sternrassler/close-api-client/pkg/schema"
	"github.com/spf13/cobra"
)

func newCatalogCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <kind> [object-type]",
		Short: "List a schema catalog",
		Long: `List a schema catalog in the order Close returns it.

Kinds: custom_field and status take an object type; custom_object_type,
custom_activity_type and user do not.`,
		Example: `  closectl catalog custom_field opportunity
  closectl catalog status lead
  closectl catalog custom_activity_type -o json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := schema.Catalog{Kind: schema.CatalogKind(args[0])}
			if len(args) == 2 {
				c.ObjectType = schema.ObjectType(args[1])
			}
			if err := c.Validate(); err != nil {
				return err
			}

			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.resolver.Entries(cmd.Context(), c)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.Name, string(e.ID), e.Type}
			}
			return a.render(entries, []string{"Name", "ID", "Type"}, rows)
		},
	}
}
