package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

// SchemaFile is written next to the user files on startup.
const SchemaFile = "user_state.schema.json"

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// FileStore keeps one JSON document per user under a directory.
type FileStore struct {
	dir   string
	codec codec
}

// NewFileStore prepares dir and writes the record schema into it.
func NewFileStore(ctx context.Context, dir string, opts Options) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	schema, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode schema: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, SchemaFile), append(schema, '\n')); err != nil {
		return nil, err
	}
	logger.Store.LogAttrs(ctx, slog.LevelInfo, "store.open",
		slog.String("status", "ok"),
		slog.String("driver", "file"),
		slog.String("path", dir),
	)
	return &FileStore{dir: dir, codec: newCodec(opts)}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if !safeID.MatchString(id) {
		return "", fmt.Errorf("%w: user id %q is not file safe", ErrInvalidState, id)
	}
	return filepath.Join(s.dir, "user_state_"+id+".json"), nil
}

func (s *FileStore) Load(ctx context.Context, id string) (*entity.UserState, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		st := s.codec.fresh(id, "")
		return st, s.Save(ctx, st)
	case err != nil:
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}

	var rec Record
	if len(bytes.TrimSpace(data)) == 0 || json.Unmarshal(data, &rec) != nil {
		logger.Store.LogAttrs(ctx, slog.LevelWarn, "store.repair",
			slog.String("status", "fail"),
			slog.String("user_id", id),
			slog.String("path", p),
			slog.String("cause", "unparseable"),
		)
		st := s.codec.fresh(id, "")
		return st, s.Save(ctx, st)
	}
	if rec.UserID != id {
		rec.UserID = id
	}
	return s.codec.decode(ctx, rec), nil
}

func (s *FileStore) Save(ctx context.Context, st *entity.UserState) error {
	p, err := s.path(st.ID)
	if err != nil {
		return err
	}
	rec, err := s.codec.encode(ctx, st)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", st.ID, err)
	}
	if err := writeAtomic(p, append(data, '\n')); err != nil {
		return err
	}
	st.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *FileStore) Reset(ctx context.Context, id string) (*entity.UserState, error) {
	return resetWith(ctx, s, id)
}

func (s *FileStore) Close() error { return nil }
