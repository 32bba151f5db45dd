package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"possync/internal/config"
	"possync/internal/database"
	"possync/internal/domain"
	"possync/internal/events"
	"possync/internal/gateway"
	"possync/internal/logging"
	"possync/internal/network"
	"possync/internal/repository"
	"possync/internal/scheduler"
	"possync/internal/syncer"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type statusMirror interface {
	domain.MirrorRepository
	DeadLetters(ctx context.Context, limit int) ([][]byte, error)
}

// runtime holds the wired components. Commands build only what they need.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer

	db     *database.DB
	redis  *redis.Client
	mirror statusMirror
	bus    *events.EventBus

	gateway   *gateway.HTTPGateway
	engine    *syncer.Engine
	scheduler *scheduler.Scheduler
}

func loadConfigAndLogger(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		logger: baseLogger.With().Str("component", "syncd").Logger(),
		closer: closer,
	}, nil
}

// openStore loads config, logger and the local database.
func openStore(configPath string) (*runtime, error) {
	rt, err := loadConfigAndLogger(configPath)
	if err != nil {
		return nil, err
	}

	rt.db, err = database.NewDB(rt.cfg.Database.Path, &rt.logger)
	if err != nil {
		rt.logger.Error().Err(err).Str("db_path", rt.cfg.Database.Path).Msg("init database")
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// bootstrap wires the whole sync stack on top of the store.
func bootstrap(configPath string) (*runtime, error) {
	rt, err := openStore(configPath)
	if err != nil {
		return nil, err
	}

	rt.bus = events.NewEventBus()
	eventLog := rt.logger.With().Str("component", "events").Logger()
	rt.bus.SubscribeAll(func(e *events.Event) error {
		eventLog.Debug().Str("type", e.Type).RawJSON("payload", e.Payload).Msg("event")
		return nil
	})

	rt.initMirror()

	precondition, err := network.FromConfig(rt.cfg, &rt.logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.gateway = gateway.NewHTTPGateway(rt.cfg.Gateway, &rt.logger)
	if !rt.gateway.Authenticated() {
		rt.logger.Warn().Msg("gateway token is empty, sync passes will be skipped until it is set")
	}

	rt.engine = syncer.NewEngine(rt.db, rt.gateway, syncer.Config{
		MaxAttempts:    rt.cfg.Sync.MaxAttempts,
		RefreshCatalog: rt.cfg.Sync.RefreshCatalog,
	}, &rt.logger,
		syncer.WithCatalog(rt.gateway, rt.db),
		syncer.WithDeadLetters(rt.mirror),
		syncer.WithEvents(rt.bus),
	)

	rt.scheduler = scheduler.New(
		scheduler.ConfigFromSettings(rt.cfg.Sync),
		rt.engine,
		precondition,
		&rt.logger,
		scheduler.WithEvents(rt.bus),
		scheduler.WithStatusMirror(rt.mirror),
	)
	return rt, nil
}

// initMirror uses redis when it is configured and reachable, memory otherwise.
func (rt *runtime) initMirror() {
	ttl := time.Duration(rt.cfg.Redis.StatusTTLSeconds) * time.Second
	local := repository.NewMemoryStatusRepository(ttl)

	client := rt.connectRedis()
	if client == nil {
		rt.mirror = local
		return
	}
	rt.redis = client
	rt.mirror = repository.NewFailoverStatusRepository(repository.NewRedisStatusRepository(client, ttl), local, &rt.logger)
}

func (rt *runtime) connectRedis() *redis.Client {
	if rt.cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(rt.cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, client); err != nil {
		rt.logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	rt.logger.Info().Str("addr", rt.cfg.Redis.Address).Msg("redis connected")
	return client
}

func (rt *runtime) Close() {
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("close database")
		}
	}
	if err := repository.Close(rt.redis); err != nil {
		rt.logger.Warn().Err(err).Msg("close redis")
	}
	if rt.closer != nil {
		_ = rt.closer.Close()
	}
}
