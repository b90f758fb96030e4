package main

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/close-api-client/pkg/pagination"
	"github.com/spf13/cobra"
)

func newUsersCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List the users of the organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.fetcher.ListAll(cmd.Context(), pagination.ListRequest{
				Path:  "user/",
				Limit: limit,
			})
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}

			rows := make([][]string, len(users))
			for i, u := range users {
				name := strings.TrimSpace(u.GetString("first_name") + " " + u.GetString("last_name"))
				rows[i] = []string{u.ID(), u.GetString("email"), name}
			}
			return a.render(users, []string{"ID", "Email", "Name"}, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of users (0 for all)")

	return cmd
}
