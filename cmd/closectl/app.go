package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Sternrassler/close-api-client/internal/config"
	"github.com/Sternrassler/close-api-client/internal/confirm"
	"github.com/Sternrassler/close-api-client/pkg/batch"
	"github.com/Sternrassler/close-api-client/pkg/cache"
	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/logging"
	"github.com/Sternrassler/close-api-client/pkg/metrics"
	"github.com/Sternrassler/close-api-client/pkg/pagination"
	"github.com/Sternrassler/close-api-client/pkg/ratelimit"
	"github.com/Sternrassler/close-api-client/pkg/schema"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the components one command works with.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	client   *client.Client
	resolver *schema.Resolver
	fetcher  *pagination.Fetcher
	executor *batch.Executor
	confirm  confirm.Confirmer

	out    io.Writer
	output string

	closers []func()
}

// newApp loads the configuration and wires the client stack.
func (o *options) newApp(cmd *cobra.Command) (*app, error) {
	if err := checkOutput(o.output); err != nil {
		return nil, err
	}

	cfg, err := config.Load(o.viper, o.configFile)
	if err != nil {
		return nil, err
	}

	logging.Setup(cfg.LoggingConfig())
	logger := logging.NewLogger("closectl")

	a := &app{
		cfg:    cfg,
		logger: logger,
		out:    cmd.OutOrStdout(),
		output: o.output,
	}
	if o.yes {
		a.confirm = confirm.Always(true)
	} else {
		a.confirm = confirm.NewTerminal()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	a.closers = append(a.closers, cancel)

	if o.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, o.metricsAddr, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
	}

	clientCfg := cfg.ClientConfig()
	clientCfg.UserAgent = "closectl/" + version
	if redisClient != nil {
		clientCfg.RateLimitStore = ratelimit.NewScopedRedisStore(redisClient, cfg.Scope())
	}
	a.client, err = client.New(clientCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.client.Close() })

	source, err := a.catalogSource(ctx, redisClient)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.resolver = schema.NewResolver(source, logger)
	a.fetcher = pagination.NewFetcher(a.client, pagination.DefaultConfig(), logger)
	a.executor = batch.NewExecutor(a.client, logger)

	return a, nil
}

// catalogSource returns the schema source for the configured cache backend.
func (a *app) catalogSource(ctx context.Context, redisClient *redis.Client) (schema.Source, error) {
	source := schema.NewHTTPSource(a.client, a.logger)

	var store cache.Store
	switch a.cfg.CatalogCache {
	case config.CacheNone:
		return source, nil
	case config.CacheMemory:
		store = cache.NewMemoryStore()
	case config.CacheRedis:
		store = cache.NewChain(cache.NewMemoryStore(), cache.NewRedisStore(redisClient))
	case config.CacheNATS:
		natsCfg := cache.DefaultNATSKVConfig(a.cfg.NATSURL)
		natsCfg.TTL = a.cfg.CatalogTTL
		natsStore, err := cache.ConnectNATSStore(ctx, natsCfg)
		if err != nil {
			return nil, fmt.Errorf("connect catalog cache: %w", err)
		}
		a.closers = append(a.closers, natsStore.Close)
		store = cache.NewChain(cache.NewMemoryStore(), natsStore)
	}

	manager := cache.NewManager(store, a.logger)
	return schema.NewCachedSource(source, manager, a.cfg.Scope(), a.cfg.CatalogTTL, a.logger), nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// batchOptions returns the batch options from configuration.
func (a *app) batchOptions() batch.Options {
	opts := batch.DefaultOptions()
	opts.SliceSize = a.cfg.SliceSize
	return opts
}
