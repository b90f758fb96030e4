// Package pagination pages exhaustively through Close search and list results.
//
// Two protocols are supported:
//
//   - Cursor search (POST data/search/): each response carries the cursor for
//     the next page; an empty cursor ends the result set.
//   - Skip/limit lists (GET user/, GET activity/custom/ ...): requests advance
//     _skip until the response reports has_more=false.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(closeClient, pagination.DefaultConfig(), logger)
//	records, err := fetcher.FetchAll(ctx, pagination.SearchRequest{
//		ObjectType:   "opportunity",
//		Query:        query,
//		Fields:       []string{"id", "lead_id", "date_updated"},
//		ResultsLimit: 500,
//	})
//
// The fetcher:
//   - Requests pages strictly in sequence, each one carrying the previous cursor
//   - Preserves the server's page and record order
//   - Stops as soon as ResultsLimit records are collected
//   - Aborts with ErrProtocolViolation when a cursor repeats
//   - Aborts on the first failed page; the *FetchError carries what was
//     collected before the fault
package pagination
