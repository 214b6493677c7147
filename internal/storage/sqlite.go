package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

// SQLiteStore keeps records in a local SQLite file through gorm.
type SQLiteStore struct {
	db    *gorm.DB
	codec codec
}

// NewSQLiteStore opens path, creating it and the table when missing.
func NewSQLiteStore(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: sqlite store needs a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: mkdir %s: %w", dir, err)
		}
	}
	db, err := gorm.Open(gormlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("storage: migrate sqlite %s: %w", path, err)
	}
	logger.Store.LogAttrs(ctx, slog.LevelInfo, "store.open",
		slog.String("status", "ok"),
		slog.String("driver", "sqlite"),
		slog.String("path", path),
	)
	return &SQLiteStore{db: db, codec: newCodec(opts)}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*entity.UserState, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("user_id = ?", id).Take(&rec).Error
	if err == nil {
		return s.codec.decode(ctx, rec), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("storage: load %s: %w", id, err)
	}

	st := s.codec.fresh(id, "")
	rec, err = s.codec.encode(ctx, st)
	if err != nil {
		return nil, err
	}
	st.UpdatedAt = rec.UpdatedAt
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", id, err)
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st *entity.UserState) error {
	rec, err := s.codec.encode(ctx, st)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("storage: save %s: %w", st.ID, err)
	}
	st.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context, id string) (*entity.UserState, error) {
	return resetWith(ctx, s, id)
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
