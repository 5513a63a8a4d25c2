package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/warp/clockd/api"
	"github.com/warp/clockd/auth"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/config"
	"github.com/warp/clockd/events"
	"github.com/warp/clockd/events/kafka"
	"github.com/warp/clockd/generic"
	"github.com/warp/clockd/generic/store"
	"github.com/warp/clockd/store/postgres"
	"github.com/warp/clockd/store/sqlite"
	"github.com/warp/clockd/summary"
	"github.com/warp/clockd/timeoff"
	"github.com/warp/clockd/workflow"
	"go.uber.org/zap"
)

// app is everything serve needs, plus what to close on the way out.
type app struct {
	handler     *api.Handler
	tokens      *auth.Tokens
	idempotency *api.Idempotency
	closers     []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// backend is the chosen entry store with the catalog that goes with it.
type backend struct {
	store   generic.TxStore
	catalog catalog.Catalog
	teams   []catalog.Team
	health  api.Pinger
	close   func() error
}

func loadSeed(path string) (catalog.Snapshot, error) {
	if path == "" {
		return catalog.Snapshot{}, nil
	}
	return catalog.LoadFile(path)
}

// openBackend picks the store by driver. sqlite serves the catalog from its
// own tables (importing the seed file when one is configured); memory and
// postgres serve it from the seed file.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	snap, err := loadSeed(cfg.Catalog.SeedFile)
	if err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case "sqlite":
		st, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Catalog.SeedFile != "" {
			if err := st.ImportCatalog(ctx, snap); err != nil {
				st.Close()
				return nil, fmt.Errorf("import catalog: %w", err)
			}
			logger.Info("catalog imported", zap.String("file", cfg.Catalog.SeedFile))
		}
		teams, err := st.Teams(ctx)
		if err != nil {
			st.Close()
			return nil, err
		}
		return &backend{store: st, catalog: catalog.NewDeduped(st), teams: teams, health: st, close: st.Close}, nil

	case "postgres":
		static, err := catalog.NewStatic(snap)
		if err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		st := postgres.New(pool)
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		closeFn := func() error { st.Close(); return nil }
		return &backend{store: st, catalog: static, teams: static.Teams(), health: st, close: closeFn}, nil

	case "memory":
		static, err := catalog.NewStatic(snap)
		if err != nil {
			return nil, err
		}
		return &backend{store: store.NewTxMemory(), catalog: static, teams: static.Teams(), close: func() error { return nil }}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{tokens: auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, b.close)

	enforcer, err := auth.NewEnforcer()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := enforcer.LoadTeams(b.teams); err != nil {
		a.Close()
		return nil, err
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, p.Close)
		publisher = p
		logger.Info("publishing workflow events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, idempotency keys will not be honoured until it is", zap.Error(err))
		}
		a.closers = append(a.closers, client.Close)
		a.idempotency = api.NewIdempotency(client, cfg.Redis.IdempotencyTTL, logger)
	}

	engine := workflow.NewEngine(b.store, b.catalog, enforcer,
		workflow.WithLogger(logger),
		workflow.WithPublisher(publisher),
	)
	booker := timeoff.NewBooker(b.store, b.catalog,
		timeoff.WithLogger(logger),
		timeoff.WithPublisher(publisher),
	)
	agg := summary.NewAggregator(b.store, b.catalog, logger)

	a.handler = api.NewHandler(engine, booker, agg, logger)
	a.handler.Health = b.health
	return a, nil
}
