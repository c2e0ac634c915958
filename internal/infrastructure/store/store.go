package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitstars/internal/domain/stats"
	"gitstars/internal/errs"
	"gitstars/internal/infrastructure/persistence/sqlite/model"
	"gitstars/internal/ports"
)

// SQLiteStore persists fetched statistics in two SQLite tables, one per
// subject kind, keyed by the natural identifier tuple. Upserts replace the
// row wholesale; last write wins by call order.
type SQLiteStore struct {
	db *gorm.DB
}

var _ ports.StatsStore = (*SQLiteStore)(nil)

func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the stats tables if missing. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&model.RepoStat{}, &model.UserStat{}); err != nil {
		return wrapStore(err, "migrate stats tables")
	}
	return nil
}

func (s *SQLiteStore) GetRepo(ctx context.Context, key stats.RepoKey) (ports.RepoRecord, bool, error) {
	if err := checkKeyParts(ctx, key.Owner, key.Name); err != nil {
		return ports.RepoRecord{}, false, err
	}

	var row model.RepoStat
	err := s.db.WithContext(ctx).
		Where("owner = ? AND name = ?", key.Owner, key.Name).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.RepoRecord{}, false, nil
		}
		return ports.RepoRecord{}, false, wrapStore(err, "query repo stats")
	}

	var payload stats.RepositoryStats
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		return ports.RepoRecord{}, false, wrapStore(err, "decode repo payload")
	}

	return ports.RepoRecord{Payload: payload, UpdatedAt: time.Unix(row.UpdatedAt, 0).UTC()}, true, nil
}

func (s *SQLiteStore) PutRepo(ctx context.Context, key stats.RepoKey, payload stats.RepositoryStats, now time.Time) error {
	if err := checkKeyParts(ctx, key.Owner, key.Name); err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return wrapStore(err, "encode repo payload")
	}

	row := model.RepoStat{
		Owner:     key.Owner,
		Name:      key.Name,
		UpdatedAt: now.Unix(),
		Payload:   string(encoded),
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner"}, {Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"updated_at": row.UpdatedAt,
			"payload":    row.Payload,
		}),
	}).Create(&row).Error; err != nil {
		return wrapStore(err, "upsert repo stats")
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, key stats.UserKey) (ports.UserRecord, bool, error) {
	if err := checkKeyParts(ctx, key.Login); err != nil {
		return ports.UserRecord{}, false, err
	}

	var row model.UserStat
	err := s.db.WithContext(ctx).
		Where("login = ?", key.Login).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.UserRecord{}, false, nil
		}
		return ports.UserRecord{}, false, wrapStore(err, "query user stats")
	}

	var payload stats.UserStats
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		return ports.UserRecord{}, false, wrapStore(err, "decode user payload")
	}

	return ports.UserRecord{Payload: payload, UpdatedAt: time.Unix(row.UpdatedAt, 0).UTC()}, true, nil
}

func (s *SQLiteStore) PutUser(ctx context.Context, key stats.UserKey, payload stats.UserStats, now time.Time) error {
	if err := checkKeyParts(ctx, key.Login); err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return wrapStore(err, "encode user payload")
	}

	row := model.UserStat{
		Login:     key.Login,
		UpdatedAt: now.Unix(),
		Payload:   string(encoded),
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "login"}},
		DoUpdates: clause.Assignments(map[string]any{
			"updated_at": row.UpdatedAt,
			"payload":    row.Payload,
		}),
	}).Create(&row).Error; err != nil {
		return wrapStore(err, "upsert user stats")
	}
	return nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (int64, int64, error) {
	if ctx == nil {
		return 0, 0, errors.New("context is required")
	}

	var repos int64
	if err := s.db.WithContext(ctx).Model(&model.RepoStat{}).Count(&repos).Error; err != nil {
		return 0, 0, wrapStore(err, "count repo stats")
	}

	var users int64
	if err := s.db.WithContext(ctx).Model(&model.UserStat{}).Count(&users).Error; err != nil {
		return 0, 0, wrapStore(err, "count user stats")
	}

	return repos, users, nil
}

func checkKeyParts(ctx context.Context, parts ...string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return errors.New("key is required")
		}
	}
	return nil
}

// wrapStore tags any backing-store failure so callers can match
// stats.ErrStoreUnavailable without losing the driver error.
func wrapStore(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", msg, stats.ErrStoreUnavailable, err)
}
