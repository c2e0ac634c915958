package bootstrap

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"gitstars/internal/bootstrap/config"
	"gitstars/internal/bootstrap/database"
	"gitstars/internal/bootstrap/logging"
	githubinfra "gitstars/internal/infrastructure/github"
	storeinfra "gitstars/internal/infrastructure/store"
	"gitstars/internal/ports"
	"gitstars/internal/server"
	statsuc "gitstars/internal/usecase/stats"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			storeinfra.NewSQLiteStore,
			fx.As(new(ports.StatsStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			provideUpstream,
			fx.As(new(ports.UpstreamSource)),
		),
	),
	fx.Provide(provideClock),
	fx.Provide(provideRandom),
	fx.Provide(provideGuard),
	fx.Provide(providePolicy),
	fx.Provide(provideService),
	fx.Provide(provideServer),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{Config: cfg, DB: db}
}

func provideUpstream(cfg config.Config) (*githubinfra.Source, error) {
	return githubinfra.NewSource(githubinfra.Auth{
		Token:          cfg.GitHub.Token,
		AppID:          cfg.GitHub.AppID,
		InstallationID: cfg.GitHub.InstallationID,
		PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
	})
}

func provideClock() ports.Clock {
	return ports.ClockFunc(func() time.Time { return time.Now().UTC() })
}

func provideRandom() ports.RandomSource {
	return ports.RandomFunc(rand.Float64)
}

func provideGuard(cfg config.Config, upstream ports.UpstreamSource) *statsuc.RateLimitGuard {
	return statsuc.NewRateLimitGuard(upstream, float64(cfg.RateLimit.ReservePercent), cfg.RateLimit.AbsoluteFloor)
}

func providePolicy(cfg config.Config) statsuc.FreshnessPolicy {
	return statsuc.FreshnessPolicy{
		SoftTTL:          cfg.Cache.SoftTTL(),
		HardTTL:          cfg.Cache.HardTTL(),
		RegenerateChance: cfg.Cache.RegenerateChance(),
	}
}

func provideService(
	lc fx.Lifecycle,
	ctx context.Context,
	cfg config.Config,
	store ports.StatsStore,
	upstream ports.UpstreamSource,
	guard *statsuc.RateLimitGuard,
	policy statsuc.FreshnessPolicy,
	clock ports.Clock,
	rng ports.RandomSource,
) *statsuc.Service {
	svc := statsuc.NewService(ctx, store, upstream, guard, policy, clock, rng, statsuc.Options{
		WriteQueueDepth: cfg.Cache.WriteQueueDepth,
	})

	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			if err := svc.Flush(stopCtx); err != nil {
				return err
			}
			svc.Close()
			return nil
		},
	})

	return svc
}

func provideServer(cfg config.Config, svc *statsuc.Service) *server.Server {
	return server.New(server.Config{
		Addr:          cfg.Server.Addr,
		PayloadExpiry: cfg.Cache.SoftTTL(),
	}, svc)
}
