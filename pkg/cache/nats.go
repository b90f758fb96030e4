package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrNATSConfigRequired is returned when a NATS store is requested without a URL.
var ErrNATSConfigRequired = errors.New("NATS configuration required for NATS cache")

// NATSKVConfig configures the JetStream key/value bucket.
type NATSKVConfig struct {
	// URL is the NATS server URL, e.g. nats://localhost:4222.
	URL string

	// Bucket is the key/value bucket name.
	Bucket string

	// TTL is applied to every key in the bucket. JetStream KV has no per-key
	// expiry, so the ttl passed to Set is not used; entries written through
	// Manager still carry their own expiry.
	TTL time.Duration
}

// DefaultNATSKVConfig returns the default bucket settings.
func DefaultNATSKVConfig(url string) NATSKVConfig {
	return NATSKVConfig{
		URL:    url,
		Bucket: "close_catalog",
		TTL:    time.Hour,
	}
}

// NATSStore stores values in a JetStream key/value bucket.
type NATSStore struct {
	kv   jetstream.KeyValue
	conn *nats.Conn
}

// ConnectNATSStore dials cfg.URL and opens (or creates) the bucket.
// Close releases the connection.
func ConnectNATSStore(ctx context.Context, cfg NATSKVConfig) (*NATSStore, error) {
	if cfg.URL == "" {
		return nil, ErrNATSConfigRequired
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("close-api-client"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	store, err := NewNATSStore(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	store.conn = nc
	return store, nil
}

// NewNATSStore opens (or creates) the bucket on an existing connection.
func NewNATSStore(ctx context.Context, nc *nats.Conn, cfg NATSKVConfig) (*NATSStore, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultNATSKVConfig("").Bucket
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Close API catalog snapshots",
		TTL:         cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("open key/value bucket %q: %w", cfg.Bucket, err)
	}

	return &NATSStore{kv: kv}, nil
}

// Get implements Store.
func (n *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(ctx, natsKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("nats kv get: %w", err)
	}
	return entry.Value(), nil
}

// Set implements Store.
func (n *NATSStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := n.kv.Put(ctx, natsKey(key), value); err != nil {
		return fmt.Errorf("nats kv put: %w", err)
	}
	return nil
}

// Delete implements Store.
func (n *NATSStore) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, natsKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("nats kv delete: %w", err)
	}
	return nil
}

// Layer implements Store.
func (n *NATSStore) Layer() string { return "nats" }

// Close closes the connection opened by ConnectNATSStore.
func (n *NATSStore) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// natsKey maps a cache key onto the KV key alphabet [-/_=.a-zA-Z0-9].
func natsKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '/', r == '_', r == '=', r == '.':
			return r
		case r == ':':
			return '.'
		default:
			return '_'
		}
	}, key)
}
