package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for schema resolution.
var (
	schemaLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_schema_lookups_total",
		Help: "Total catalog lookups by kind and whether the catalog was already loaded",
	}, []string{"kind", "result"})

	schemaCatalogFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_schema_catalog_fetches_total",
		Help: "Total catalog fetches by kind and status",
	}, []string{"kind", "status"})

	schemaCatalogFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "close_schema_catalog_fetch_duration_seconds",
		Help:    "Catalog fetch duration in seconds by kind",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})
)

// catalog is a loaded catalog. byName holds the first entry per name.
type catalog struct {
	entries []Entry
	byName  map[string]Entry
}

func newCatalog(entries []Entry) *catalog {
	c := &catalog{
		entries: entries,
		byName:  make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		if _, dup := c.byName[e.Name]; !dup {
			c.byName[e.Name] = e
		}
	}
	return c
}

// Resolver memoizes catalogs fetched from a Source. It is safe for
// concurrent use.
type Resolver struct {
	source Source
	logger zerolog.Logger

	mu       sync.RWMutex
	catalogs map[Catalog]*catalog
	group    singleflight.Group
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(source Source, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source:   source,
		logger:   logger.With().Str("component", "schema-resolver").Logger(),
		catalogs: make(map[Catalog]*catalog),
	}
}

// Resolve returns the identifier of key.Name. A missing name yields a
// *NotFoundError; fetch failures are returned wrapped.
func (r *Resolver) Resolve(ctx context.Context, key Key) (Identifier, error) {
	cat, err := r.load(ctx, key.Catalog)
	if err != nil {
		return "", err
	}
	entry, ok := cat.byName[key.Name]
	if !ok {
		return "", &NotFoundError{Key: key}
	}
	return entry.ID, nil
}

// Lookup is Resolve for optional names: a missing name returns ok=false and
// a nil error.
func (r *Resolver) Lookup(ctx context.Context, key Key) (Identifier, bool, error) {
	id, err := r.Resolve(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ResolveAll loads the whole catalog and returns name to identifier.
func (r *Resolver) ResolveAll(ctx context.Context, c Catalog) (map[string]Identifier, error) {
	cat, err := r.load(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Identifier, len(cat.byName))
	for name, e := range cat.byName {
		out[name] = e.ID
	}
	return out, nil
}

// Entries returns the catalog in remote order, duplicates included.
func (r *Resolver) Entries(ctx context.Context, c Catalog) ([]Entry, error) {
	cat, err := r.load(ctx, c)
	if err != nil {
		return nil, err
	}
	return append([]Entry(nil), cat.entries...), nil
}

// Names returns identifier to name, e.g. to rename exported columns.
func (r *Resolver) Names(ctx context.Context, c Catalog) (map[Identifier]string, error) {
	cat, err := r.load(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make(map[Identifier]string, len(cat.entries))
	for _, e := range cat.entries {
		out[e.ID] = e.Name
	}
	return out, nil
}

// FieldID resolves a custom field name.
func (r *Resolver) FieldID(ctx context.Context, ot ObjectType, name string) (Identifier, error) {
	return r.Resolve(ctx, Key{Catalog: CustomFields(ot), Name: name})
}

// PrefixedFieldID resolves a custom field name into its payload key.
func (r *Resolver) PrefixedFieldID(ctx context.Context, ot ObjectType, name string) (string, error) {
	id, err := r.FieldID(ctx, ot, name)
	if err != nil {
		return "", err
	}
	return Prefixed(id), nil
}

// PrefixedFieldMap returns custom field name to payload key for an object type.
func (r *Resolver) PrefixedFieldMap(ctx context.Context, ot ObjectType) (map[string]string, error) {
	ids, err := r.ResolveAll(ctx, CustomFields(ot))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ids))
	for name, id := range ids {
		out[name] = Prefixed(id)
	}
	return out, nil
}

// StatusID resolves a status label. A non-empty statusType (active, won,
// lost) only matches statuses of that type.
func (r *Resolver) StatusID(ctx context.Context, ot ObjectType, label, statusType string) (Identifier, error) {
	key := Key{Catalog: Statuses(ot), Name: label}
	if statusType == "" {
		return r.Resolve(ctx, key)
	}

	cat, err := r.load(ctx, key.Catalog)
	if err != nil {
		return "", err
	}
	for _, e := range cat.entries {
		if e.Name == label && e.Type == statusType {
			return e.ID, nil
		}
	}
	return "", &NotFoundError{Key: key, StatusType: statusType}
}

// CustomObjectTypeID resolves a custom object type name.
func (r *Resolver) CustomObjectTypeID(ctx context.Context, name string) (Identifier, error) {
	return r.Resolve(ctx, Key{Catalog: Catalog{Kind: KindCustomObjectType}, Name: name})
}

// CustomActivityTypeID resolves a custom activity type name.
func (r *Resolver) CustomActivityTypeID(ctx context.Context, name string) (Identifier, error) {
	return r.Resolve(ctx, Key{Catalog: Catalog{Kind: KindCustomActivityType}, Name: name})
}

// UserIDByEmail resolves a user by email address.
func (r *Resolver) UserIDByEmail(ctx context.Context, email string) (Identifier, error) {
	return r.Resolve(ctx, Key{Catalog: Catalog{Kind: KindUser}, Name: email})
}

// load returns the cached catalog or fetches it. Concurrent callers for the
// same catalog share one fetch; each waits only as long as its own ctx.
func (r *Resolver) load(ctx context.Context, c Catalog) (*catalog, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	kind := string(c.Kind)

	if cat := r.cached(c); cat != nil {
		schemaLookupsTotal.WithLabelValues(kind, "hit").Inc()
		return cat, nil
	}
	schemaLookupsTotal.WithLabelValues(kind, "miss").Inc()

	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(c.String(), func() (any, error) {
		// A previous flight may have finished since the check above.
		if cat := r.cached(c); cat != nil {
			return cat, nil
		}
		return r.fetch(fetchCtx, c)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*catalog), nil
	}
}

func (r *Resolver) cached(c Catalog) *catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalogs[c]
}

func (r *Resolver) fetch(ctx context.Context, c Catalog) (*catalog, error) {
	start := time.Now()
	kind := string(c.Kind)

	entries, err := r.source.FetchCatalog(ctx, c)
	schemaCatalogFetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		schemaCatalogFetchesTotal.WithLabelValues(kind, "error").Inc()
		r.logger.Error().Err(err).Str("catalog", c.String()).Msg("Catalog fetch failed")
		return nil, fmt.Errorf("fetch %s catalog: %w", c, err)
	}
	schemaCatalogFetchesTotal.WithLabelValues(kind, "ok").Inc()

	cat := newCatalog(entries)
	if dups := len(entries) - len(cat.byName); dups > 0 {
		r.logger.Warn().
			Str("catalog", c.String()).
			Int("duplicates", dups).
			Msg("Catalog has duplicate names, first occurrence wins")
	}

	r.mu.Lock()
	r.catalogs[c] = cat
	r.mu.Unlock()

	r.logger.Info().
		Str("catalog", c.String()).
		Int("entries", len(entries)).
		Dur("duration", time.Since(start)).
		Msg("Catalog loaded")

	return cat, nil
}
