package schema

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/cache"
	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/pagination"
	"github.com/Sternrassler/close-api-client/pkg/record"
	"github.com/rs/zerolog"
)

// Source fetches complete catalogs. Entries are returned in remote order.
type Source interface {
	FetchCatalog(ctx context.Context, c Catalog) ([]Entry, error)
}

// HTTPSource reads catalogs from the Close API.
type HTTPSource struct {
	fetcher *pagination.Fetcher
	logger  zerolog.Logger
}

// NewHTTPSource creates a catalog source on top of transport.
func NewHTTPSource(transport client.Transport, logger zerolog.Logger) *HTTPSource {
	return &HTTPSource{
		fetcher: pagination.NewFetcher(transport, pagination.DefaultConfig(), logger),
		logger:  logger.With().Str("component", "schema-source").Logger(),
	}
}

// catalogEndpoint maps a catalog to its list endpoint and the record
// fields holding the name and type.
func catalogEndpoint(c Catalog) (req pagination.ListRequest, nameField, typeField string) {
	switch c.Kind {
	case KindCustomField:
		if typeID, ok := c.ObjectType.ActivityTypeID(); ok {
			return pagination.ListRequest{
				Path:  "custom_field/activity/",
				Query: url.Values{"custom_activity_type_id": {typeID}},
			}, "name", "type"
		}
		return pagination.ListRequest{Path: "custom_field/" + string(c.ObjectType) + "/"}, "name", "type"
	case KindStatus:
		return pagination.ListRequest{Path: "status/" + string(c.ObjectType) + "/"}, "label", "type"
	case KindCustomObjectType:
		return pagination.ListRequest{Path: "custom_object_type/"}, "name", ""
	case KindCustomActivityType:
		return pagination.ListRequest{Path: "custom_activity/"}, "name", ""
	default:
		return pagination.ListRequest{Path: "user/"}, "email", ""
	}
}

// FetchCatalog implements Source.
func (s *HTTPSource) FetchCatalog(ctx context.Context, c Catalog) ([]Entry, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	req, nameField, typeField := catalogEndpoint(c)
	records, err := s.fetcher.ListAll(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}

	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entry, ok := entryFromRecord(r, nameField, typeField)
		if !ok {
			s.logger.Warn().
				Str("catalog", c.String()).
				Str("id", r.ID()).
				Msg("Skipping catalog item without id or name")
			continue
		}
		entries = append(entries, entry)
	}

	s.logger.Debug().
		Str("catalog", c.String()).
		Int("entries", len(entries)).
		Msg("Catalog fetched")

	return entries, nil
}

func entryFromRecord(r record.Record, nameField, typeField string) (Entry, bool) {
	entry := Entry{ID: Identifier(r.ID()), Name: r.GetString(nameField)}
	if typeField != "" {
		entry.Type = r.GetString(typeField)
	}
	return entry, entry.ID != "" && entry.Name != ""
}

// CachedSource serves catalog snapshots from a cache and falls back to the
// wrapped source on a miss. Cache failures are logged, never returned.
type CachedSource struct {
	source Source
	cache  *cache.Manager
	scope  string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedSource wraps source with a snapshot cache. Scope separates
// organizations sharing one cache backend.
func NewCachedSource(source Source, manager *cache.Manager, scope string, ttl time.Duration, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  manager,
		scope:  scope,
		ttl:    ttl,
		logger: logger.With().Str("component", "schema-cache").Logger(),
	}
}

// FetchCatalog implements Source.
func (s *CachedSource) FetchCatalog(ctx context.Context, c Catalog) ([]Entry, error) {
	key := cache.Key{Scope: s.scope, Kind: string(c.Kind), ObjectType: string(c.ObjectType)}

	entry, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var entries []Entry
		if err := entry.Decode(&entries); err == nil {
			return entries, nil
		}
		s.logger.Warn().Str("key", key.String()).Msg("Discarding undecodable catalog snapshot")
	case !errors.Is(err, cache.ErrCacheMiss):
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Catalog cache read failed")
	}

	entries, err := s.source.FetchCatalog(ctx, c)
	if err != nil {
		return nil, err
	}

	snapshot, err := cache.NewEntry(entries, s.ttl)
	if err == nil {
		err = s.cache.Set(ctx, key, snapshot)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Catalog cache write failed")
	}

	return entries, nil
}
