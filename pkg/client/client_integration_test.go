//go:build integration

package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/close-api-client/internal/testutil"
	"github.com/Sternrassler/close-api-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_SharedRateLimitState(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockClose()
	defer mock.Close()

	exhausted := testutil.NewJSONResponse(http.StatusOK, `{"data": []}`)
	exhausted.Headers["RateLimit"] = "limit=240, remaining=0, reset=0.5"
	mock.SetResponse("GET lead/", exhausted)

	newClient := func() *Client {
		cfg := DefaultConfig("api_test_key")
		cfg.BaseURL = mock.URL()
		cfg.RateLimitStore = ratelimit.NewRedisStore(redisClient)
		c, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return c
	}

	first := newClient()
	second := newClient()
	ctx := context.Background()

	if _, err := first.Do(ctx, &Request{Path: "lead/"}); err != nil {
		t.Fatalf("first Do() error = %v", err)
	}

	state, err := second.RateLimitState(ctx)
	if err != nil {
		t.Fatalf("RateLimitState() error = %v", err)
	}
	if state.Remaining != 0 {
		t.Fatalf("second client should see the exhausted window, got %+v", state)
	}

	// The second client waits for the window announced to the first one.
	mock.SetResponse("GET lead/", testutil.NewJSONResponse(http.StatusOK, `{"data": []}`))
	start := time.Now()
	if _, err := second.Do(ctx, &Request{Path: "lead/"}); err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("second Do() took %v, expected to wait for the shared reset", elapsed)
	}
}
