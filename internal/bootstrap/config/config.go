package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gitstars/internal/bootstrap/logging"
	"gitstars/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type GitHubConfig struct {
	Token          string `mapstructure:"token"`
	AppID          int64  `mapstructure:"app_id"`
	InstallationID int64  `mapstructure:"installation_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

type CacheConfig struct {
	SoftTTLMinutes       int `mapstructure:"soft_ttl_minutes"`
	HardTTLMinutes       int `mapstructure:"hard_ttl_minutes"`
	RegenerateChancePerc int `mapstructure:"regenerate_chance_percent"`
	WriteQueueDepth      int `mapstructure:"write_queue_depth"`
}

type RateLimitConfig struct {
	ReservePercent int `mapstructure:"reserve_percent"`
	AbsoluteFloor  int `mapstructure:"absolute_floor"`
}

func (c CacheConfig) SoftTTL() time.Duration {
	return time.Duration(c.SoftTTLMinutes) * time.Minute
}

func (c CacheConfig) HardTTL() time.Duration {
	return time.Duration(c.HardTTLMinutes) * time.Minute
}

func (c CacheConfig) RegenerateChance() float64 {
	return float64(c.RegenerateChancePerc) / 100
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := validate(cfg); err != nil {
		return Config{}, errs.Wrap(err, "validate config")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("server_addr", cfg.Server.Addr),
		slog.Int("soft_ttl_minutes", cfg.Cache.SoftTTLMinutes),
		slog.Int("hard_ttl_minutes", cfg.Cache.HardTTLMinutes),
	)

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if cfg.Cache.SoftTTLMinutes <= 0 {
		return errors.New("cache.soft_ttl_minutes must be positive")
	}
	if cfg.Cache.HardTTLMinutes < cfg.Cache.SoftTTLMinutes {
		return fmt.Errorf("cache.hard_ttl_minutes %d must be >= cache.soft_ttl_minutes %d",
			cfg.Cache.HardTTLMinutes, cfg.Cache.SoftTTLMinutes)
	}
	if cfg.Cache.RegenerateChancePerc < 0 || cfg.Cache.RegenerateChancePerc > 100 {
		return fmt.Errorf("cache.regenerate_chance_percent %d must be in [0,100]", cfg.Cache.RegenerateChancePerc)
	}
	if cfg.RateLimit.ReservePercent < 0 || cfg.RateLimit.ReservePercent > 100 {
		return fmt.Errorf("ratelimit.reserve_percent %d must be in [0,100]", cfg.RateLimit.ReservePercent)
	}
	if cfg.RateLimit.AbsoluteFloor < 0 {
		return errors.New("ratelimit.absolute_floor must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gitstars")
	v.SetDefault("app.env", "local")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/gitstars.sqlite")
	// Empty defaults keep these keys visible to AutomaticEnv during Unmarshal.
	v.SetDefault("github.token", "")
	v.SetDefault("github.app_id", 0)
	v.SetDefault("github.installation_id", 0)
	v.SetDefault("github.private_key_path", "")
	v.SetDefault("cache.soft_ttl_minutes", 60)
	v.SetDefault("cache.hard_ttl_minutes", 600)
	v.SetDefault("cache.regenerate_chance_percent", 30)
	v.SetDefault("cache.write_queue_depth", 16)
	v.SetDefault("ratelimit.reserve_percent", 10)
	v.SetDefault("ratelimit.absolute_floor", 10)
}
