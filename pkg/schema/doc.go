// Package schema resolves human-readable Close schema names (custom fields,
// statuses, custom object and activity types, users) into their opaque
// identifiers.
//
// A Resolver fetches a whole catalog the first time any name in it is
// requested and answers every later lookup from memory:
//
//	resolver := schema.NewResolver(schema.NewHTTPSource(closeClient, logger), logger)
//
//	id, err := resolver.FieldID(ctx, schema.ObjectOpportunity, "Renewal Date")
//	if errors.Is(err, schema.ErrNotFound) {
//		// optional field, skip it
//	}
//
//	lost, err := resolver.StatusID(ctx, schema.ObjectOpportunity, "Lost", "lost")
//
// Concurrent first lookups of the same catalog share one fetch. Failed
// fetches are not cached, so a later call tries again. Resolvers are
// independent: each instance holds its own cache and there is no way to
// invalidate an entry once resolved.
//
// Wrapping the source in a CachedSource shares catalog snapshots between
// processes through redis or a NATS key/value bucket.
package schema
