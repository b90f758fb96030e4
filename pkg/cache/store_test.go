package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{ NoOpStore }

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("backend down")
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := store.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("Get() = %q, %v", got, err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after ttl error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	value := []byte("abc")
	_ = store.Set(ctx, "k", value, 0)
	value[0] = 'X'

	got, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value changed through caller slice: %q", got)
	}
}

func TestChain_BackfillsEarlierStores(t *testing.T) {
	l1 := NewMemoryStore()
	l2 := NewMemoryStore()
	chain := NewChain(l1, l2)
	ctx := context.Background()

	_ = l2.Set(ctx, "k", []byte("v"), 0)

	got, err := chain.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if got, err := l1.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Errorf("L1 not populated: %q, %v", got, err)
	}
}

func TestChain_SetAndDeleteAll(t *testing.T) {
	l1 := NewMemoryStore()
	l2 := NewMemoryStore()
	chain := NewChain(l1, l2)
	ctx := context.Background()

	if err := chain.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	for i, s := range []Store{l1, l2} {
		if _, err := s.Get(ctx, "k"); err != nil {
			t.Errorf("store %d missing value: %v", i, err)
		}
	}

	if err := chain.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := chain.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete() error = %v, want ErrCacheMiss", err)
	}
}

func TestChain_BackendErrorAborts(t *testing.T) {
	chain := NewChain(NewMemoryStore(), failingStore{})

	if _, err := chain.Get(context.Background(), "k"); err == nil || errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want backend error", err)
	}
}

func TestNoOpStore(t *testing.T) {
	store := NewNoOpStore()
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("v"), time.Minute)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestNATSKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"close:catalog:prod:user", "close.catalog.prod.user"},
		{"close:catalog:prod:custom_field:activity/actitype_1", "close.catalog.prod.custom_field.activity/actitype_1"},
		{"a b?c", "a_b_c"},
	}

	for _, tt := range tests {
		if got := natsKey(tt.in); got != tt.want {
			t.Errorf("natsKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
