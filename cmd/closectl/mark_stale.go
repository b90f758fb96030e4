package main

import (
	"fmt"
	"strconv"

	"github.com/Sternrassler/close-api-client/pkg/batch"
	"github.com/Sternrassler/close-api-client/pkg/pagination"
	"github.com/Sternrassler/close-api-client/pkg/record"
	"github.com/Sternrassler/close-api-client/pkg/schema"
	"github.com/spf13/cobra"
)

// staleFields are the opportunity fields the stale search returns.
var staleFields = []string{"id", "lead_id", "lead_name", "value_formatted", "date_updated", "note"}

type markStaleOptions struct {
	months            int
	dryRun            bool
	lostStatus        string
	leadStatus        string
	excludeObjectType string
}

func newMarkStaleCommand(opts *options) *cobra.Command {
	ms := markStaleOptions{}

	cmd := &cobra.Command{
		Use:   "mark-stale <months>",
		Short: "Mark stale opportunities as lost and their leads as unresponsive",
		Long: `Find active opportunities not updated for the given number of months
whose lead has not been contacted in that time and has no custom object of
the excluded type. Each opportunity is moved to the lost status with a note,
and each of their leads to the unresponsive lead status.`,
		Example: `  closectl mark-stale 6 --dry-run
  closectl mark-stale 12 --lost-status "Lost" --lead-status "Unresponsive" --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			months, err := strconv.Atoi(args[0])
			if err != nil || months <= 0 {
				return fmt.Errorf("months must be a positive integer (got %q)", args[0])
			}
			ms.months = months

			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.markStale(cmd, ms)
		},
	}

	cmd.Flags().BoolVarP(&ms.dryRun, "dry-run", "d", false, "list the stale opportunities without changing them")
	cmd.Flags().StringVar(&ms.lostStatus, "lost-status", "Lost", "label of the lost opportunity status")
	cmd.Flags().StringVar(&ms.leadStatus, "lead-status", "Unresponsive", "label of the lead status to set")
	cmd.Flags().StringVar(&ms.excludeObjectType, "exclude-object-type", "Payment", "leads with a custom object of this type are kept")

	return cmd
}

// staleGroup is the stale opportunities of one lead, in search order.
type staleGroup struct {
	leadID   string
	leadName string
	opps     []record.Record
}

func (a *app) markStale(cmd *cobra.Command, ms markStaleOptions) error {
	ctx := cmd.Context()

	leadStatusID, err := a.resolver.StatusID(ctx, schema.ObjectLead, ms.leadStatus, "")
	if err != nil {
		return fmt.Errorf("resolve lead status: %w", err)
	}
	lostStatusID, err := a.resolver.StatusID(ctx, schema.ObjectOpportunity, ms.lostStatus, "lost")
	if err != nil {
		return fmt.Errorf("resolve opportunity status: %w", err)
	}
	objectTypeID, err := a.resolver.CustomObjectTypeID(ctx, ms.excludeObjectType)
	if err != nil {
		return fmt.Errorf("resolve custom object type: %w", err)
	}

	a.logger.Debug().
		Str("lost_status_id", string(lostStatusID)).
		Str("lead_status_id", string(leadStatusID)).
		Str("custom_object_type_id", string(objectTypeID)).
		Msg("Resolved identifiers")

	opps, err := a.fetcher.FetchAll(ctx, pagination.SearchRequest{
		ObjectType: string(schema.ObjectOpportunity),
		Query:      staleQuery(ms.months, string(objectTypeID)),
		Sort:       pagination.SortBy(string(schema.ObjectOpportunity), "date_updated", "asc"),
		Fields:     staleFields,
	})
	if err != nil {
		return fmt.Errorf("search stale opportunities: %w", err)
	}
	if len(opps) == 0 {
		fmt.Fprintln(a.out, "No stale opportunities found")
		return nil
	}

	groups := groupByLead(opps)

	if ms.dryRun {
		fmt.Fprintf(a.out, "DRY RUN: would update %d opportunities and %d leads\n", len(opps), len(groups))
		printGroups(a, groups)
		return nil
	}

	ok, err := a.confirm.Confirm(fmt.Sprintf("Mark %d opportunities as %s and %d leads as %s?",
		len(opps), ms.lostStatus, len(groups), ms.leadStatus))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "Aborted")
		return nil
	}

	oppResult, err := a.executor.Update(ctx, opportunityUpdates(opps, lostStatusID, ms), a.batchOptions())
	if err != nil {
		return fmt.Errorf("update opportunities: %w", err)
	}
	leadResult, err := a.executor.Update(ctx, leadUpdates(groups, leadStatusID, ms), a.batchOptions())
	if err != nil {
		return fmt.Errorf("update leads: %w", err)
	}

	fmt.Fprintf(a.out, "Updated %d of %d opportunities to %q\n", len(oppResult.Successes), len(opps), ms.lostStatus)
	fmt.Fprintf(a.out, "Updated %d of %d leads to %q\n", len(leadResult.Successes), len(groups), ms.leadStatus)

	failed := len(oppResult.Failures) + len(leadResult.Failures)
	if failed == 0 {
		return nil
	}
	for _, f := range append(oppResult.Failures, leadResult.Failures...) {
		a.logger.Error().
			Str("target", f.Target).
			Str("kind", string(f.Kind)).
			Msg(f.Message())
	}
	return fmt.Errorf("%w: %d writes failed", errBatchFailures, failed)
}

// staleQuery matches active opportunities not updated for months whose lead
// was not contacted for months and has no custom object of the given type.
func staleQuery(months int, excludedObjectTypeID string) map[string]any {
	opp := string(schema.ObjectOpportunity)
	lead := string(schema.ObjectLead)
	age := pagination.Offset{Months: months}

	return pagination.And(
		pagination.ObjectTypeQuery(opp),
		pagination.FieldCondition(pagination.RegularField(opp, "status_type"), pagination.Term("active")),
		pagination.OlderThanCondition(opp, "date_updated", age),
		pagination.HasRelated(opp, lead, pagination.And(
			pagination.OlderThanCondition(lead, "last_communication_date", age),
			pagination.HasRelated(lead, "custom_object", pagination.And(
				pagination.MatchAll(),
				pagination.FieldCondition(
					pagination.RegularField("custom_object", "custom_object_type_id"),
					pagination.Term(excludedObjectTypeID),
				),
			), true),
		), false),
	)
}

func groupByLead(opps []record.Record) []*staleGroup {
	var groups []*staleGroup
	index := make(map[string]*staleGroup)
	for _, opp := range opps {
		leadID := opp.GetString("lead_id")
		g, ok := index[leadID]
		if !ok {
			g = &staleGroup{leadID: leadID, leadName: opp.GetString("lead_name")}
			index[leadID] = g
			groups = append(groups, g)
		}
		g.opps = append(g.opps, opp)
	}
	return groups
}

func printGroups(a *app, groups []*staleGroup) {
	for _, g := range groups {
		noun := "opportunities"
		if len(g.opps) == 1 {
			noun = "opportunity"
		}
		fmt.Fprintf(a.out, "Lead %s (%s) has %d stale %s\n", g.leadID, g.leadName, len(g.opps), noun)
		for _, opp := range g.opps {
			fmt.Fprintf(a.out, "  - Opportunity %s: last updated %s (%s)\n",
				opp.ID(), opp.GetString("date_updated"), opp.GetString("value_formatted"))
			if note := opp.GetString("note"); note != "" {
				fmt.Fprintf(a.out, "    %s\n", note)
			}
		}
	}
}

func opportunityUpdates(opps []record.Record, statusID schema.Identifier, ms markStaleOptions) []batch.WriteRequest {
	requests := make([]batch.WriteRequest, 0, len(opps))
	for _, opp := range opps {
		note := fmt.Sprintf("Automatically marked as %s due to inactivity for %d months.", ms.lostStatus, ms.months)
		if old := opp.GetString("note"); old != "" {
			note += "\n\n" + old
		}
		requests = append(requests, batch.WriteRequest{
			Target: "opportunity/" + opp.ID() + "/",
			Payload: record.New().
				Set("status_id", record.String(string(statusID))).
				Set("note", record.String(note)),
		})
	}
	return requests
}

func leadUpdates(groups []*staleGroup, statusID schema.Identifier, ms markStaleOptions) []batch.WriteRequest {
	description := fmt.Sprintf("Automatically marked as %s due to inactivity for %d months.", ms.leadStatus, ms.months)
	requests := make([]batch.WriteRequest, 0, len(groups))
	for _, g := range groups {
		requests = append(requests, batch.WriteRequest{
			Target: "lead/" + g.leadID + "/",
			Payload: record.New().
				Set("status_id", record.String(string(statusID))).
				Set("description", record.String(description)),
		})
	}
	return requests
}
