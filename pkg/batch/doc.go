// Package batch applies bulk update and delete operations to Close records.
//
// Requests are cut into consecutive slices. The requests of one slice run
// concurrently; the next slice starts only after every request of the
// previous one has settled. This bounds the number of in-flight writes to
// one slice.
//
//	executor := batch.NewExecutor(closeClient, logger)
//	result, err := executor.Update(ctx, requests, batch.DefaultOptions())
//	if err != nil {
//		// configuration problem, nothing was sent
//	}
//	fmt.Println(result.Summary()) // "21 succeeded, 2 failed"
//
// Individual failures never abort a batch. Every request yields exactly one
// outcome: a Success with the record the API returned, or a Failure that
// keeps the target and payload for a retry or an audit. With FailFast set,
// slices after the first failure are not dispatched and their requests are
// reported as FailureNotDispatched.
package batch
