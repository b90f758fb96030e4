package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached catalog snapshot.
type Entry struct {
	// Data is the JSON-encoded snapshot.
	Data json.RawMessage `json:"data"`

	// Expires is when the snapshot becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the snapshot was fetched from the API.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry encodes v into an entry that expires after ttl.
func NewEntry(v any, ttl time.Duration) (*Entry, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Entry{
		Data:     data,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}, nil
}

// Decode unmarshals the snapshot into v.
func (e *Entry) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
