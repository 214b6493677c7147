package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/domain/port"
)

// Store is a user store holding resources that must be released.
type Store interface {
	port.UserStore
	Close() error
}

// Options are shared by every backend.
type Options struct {
	// MaxSegments rejects records with more story segments; zero disables the check.
	MaxSegments int
	Now         func() time.Time
}

// Params select and configure a backend.
type Params struct {
	Driver     string
	Dir        string
	SQLitePath string
	// DB is the postgres handle opened during bootstrap.
	DB      *sqlx.DB
	Options Options
}

// Open builds the backend named by p.Driver.
func Open(ctx context.Context, p Params) (Store, error) {
	switch p.Driver {
	case coreconfig.StorageMemory:
		return NewMemoryStore(p.Options), nil
	case coreconfig.StorageFile, "":
		return NewFileStore(ctx, p.Dir, p.Options)
	case coreconfig.StorageSQLite:
		return NewSQLiteStore(ctx, p.SQLitePath, p.Options)
	case coreconfig.StoragePostgres:
		if p.DB == nil {
			return nil, fmt.Errorf("storage: postgres driver needs a database handle")
		}
		return NewPostgresStore(p.DB, p.Options), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", p.Driver)
	}
}

// resetWith keeps identity fields from the current record and writes defaults.
func resetWith(ctx context.Context, s port.UserStore, id string) (*entity.UserState, error) {
	st, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	st.ResetCycle()
	if err := s.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
