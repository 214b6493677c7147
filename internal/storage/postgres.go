package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

const (
	pgSelect = `SELECT user_id, display_name, stage, image_caption, story_type, story_list, updated_at
		FROM user_states WHERE user_id = $1`
	pgInsertDefault = `INSERT INTO user_states (user_id, display_name, stage, image_caption, story_type, story_list, updated_at)
		VALUES (:user_id, :display_name, :stage, :image_caption, :story_type, :story_list, :updated_at)
		ON CONFLICT (user_id) DO NOTHING`
	pgUpsert = `INSERT INTO user_states (user_id, display_name, stage, image_caption, story_type, story_list, updated_at)
		VALUES (:user_id, :display_name, :stage, :image_caption, :story_type, :story_list, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			stage = EXCLUDED.stage,
			image_caption = EXCLUDED.image_caption,
			story_type = EXCLUDED.story_type,
			story_list = EXCLUDED.story_list,
			updated_at = EXCLUDED.updated_at`
)

// PostgresStore keeps records in the user_states table.
type PostgresStore struct {
	db    *sqlx.DB
	codec codec
}

// NewPostgresStore wraps an open connection; migrations must already be applied.
func NewPostgresStore(db *sqlx.DB, opts Options) *PostgresStore {
	return &PostgresStore{db: db, codec: newCodec(opts)}
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*entity.UserState, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, pgSelect, id)
	if err == nil {
		return s.codec.decode(ctx, rec), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.DB.LogAttrs(ctx, slog.LevelError, "store.load",
			slog.String("status", "fail"),
			slog.String("user_id", id),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("storage: load %s: %w", id, err)
	}

	st := s.codec.fresh(id, "")
	rec, err = s.codec.encode(ctx, st)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.NamedExecContext(ctx, pgInsertDefault, rec); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", id, err)
	}
	// a concurrent insert may have won; read back whatever is stored now
	if err := s.db.GetContext(ctx, &rec, pgSelect, id); err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", id, err)
	}
	return s.codec.decode(ctx, rec), nil
}

func (s *PostgresStore) Save(ctx context.Context, st *entity.UserState) error {
	rec, err := s.codec.encode(ctx, st)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, pgUpsert, rec); err != nil {
		logger.DB.LogAttrs(ctx, slog.LevelError, "store.save",
			slog.String("status", "fail"),
			slog.String("user_id", st.ID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("storage: save %s: %w", st.ID, err)
	}
	st.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context, id string) (*entity.UserState, error) {
	return resetWith(ctx, s, id)
}

// Close is a no-op; the handle belongs to bootstrap.
func (s *PostgresStore) Close() error { return nil }
