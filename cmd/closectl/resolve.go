package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/close-api-client/pkg/schema"
	"github.com/spf13/cobra"
)

func newResolveCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve schema names into identifiers",
	}

	var prefixed bool
	field := &cobra.Command{
		Use:   "field <object-type> <name>",
		Short: "Resolve a custom field",
		Long: `Resolve a custom field name. Activity fields take the object type
activity/<custom activity type id>.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[1], func(ctx context.Context, r *schema.Resolver) (string, error) {
				ot, err := schema.ParseObjectType(args[0])
				if err != nil {
					return "", err
				}
				id, err := r.FieldID(ctx, ot, args[1])
				if err != nil || !prefixed {
					return string(id), err
				}
				return schema.Prefixed(id), nil
			})
		},
	}
	field.Flags().BoolVar(&prefixed, "prefixed", false, "print the payload key (custom.<id>)")

	var statusType string
	status := &cobra.Command{
		Use:   "status <lead|opportunity> <label>",
		Short: "Resolve a lead or opportunity status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[1], func(ctx context.Context, r *schema.Resolver) (string, error) {
				id, err := r.StatusID(ctx, schema.ObjectType(args[0]), args[1], statusType)
				return string(id), err
			})
		},
	}
	status.Flags().StringVar(&statusType, "type", "", "only match statuses of this type (active, won, lost)")

	objectType := &cobra.Command{
		Use:   "object-type <name>",
		Short: "Resolve a custom object type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[0], func(ctx context.Context, r *schema.Resolver) (string, error) {
				id, err := r.CustomObjectTypeID(ctx, args[0])
				return string(id), err
			})
		},
	}

	activityType := &cobra.Command{
		Use:   "activity-type <name>",
		Short: "Resolve a custom activity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[0], func(ctx context.Context, r *schema.Resolver) (string, error) {
				id, err := r.CustomActivityTypeID(ctx, args[0])
				return string(id), err
			})
		},
	}

	user := &cobra.Command{
		Use:   "user <email>",
		Short: "Resolve a user by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[0], func(ctx context.Context, r *schema.Resolver) (string, error) {
				id, err := r.UserIDByEmail(ctx, args[0])
				return string(id), err
			})
		},
	}

	cmd.AddCommand(field, status, objectType, activityType, user)
	return cmd
}

type resolved struct {
	Name string `json:"name" yaml:"name"`
	ID   string `json:"id" yaml:"id"`
}

func runResolve(cmd *cobra.Command, opts *options, name string, lookup func(context.Context, *schema.Resolver) (string, error)) error {
	a, err := opts.newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := lookup(cmd.Context(), a.resolver)
	if err != nil {
		return err
	}

	if a.output == outputTable {
		_, err := fmt.Fprintln(a.out, id)
		return err
	}
	return a.render(resolved{Name: name, ID: id}, nil, nil)
}
