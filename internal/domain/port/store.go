package port

import (
	"context"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// UserStore persists conversation records. Implementations do not serialise callers.
type UserStore interface {
	// Load returns the record for id, creating a default one when none exists.
	Load(ctx context.Context, id string) (*entity.UserState, error)

	// Save replaces the whole record after validating it.
	Save(ctx context.Context, state *entity.UserState) error

	// Reset restores defaults keeping id and display name.
	Reset(ctx context.Context, id string) (*entity.UserState, error)
}
