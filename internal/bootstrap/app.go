package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"gitstars/internal/bootstrap/config"
	"gitstars/internal/bootstrap/logging"
	"gitstars/internal/errs"
	"gitstars/internal/infrastructure/persistence/sqlite/model"
)

// App bundles the loaded config and open database for commands.
type App struct {
	Config config.Config
	DB     *gorm.DB
}

// InitSchema creates the stats tables. Idempotent: a no-op when they exist.
func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := a.DB.WithContext(ctx).AutoMigrate(
		&model.RepoStat{},
		&model.UserStat{},
	); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed")
	return nil
}
