package port

import (
	"context"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// Gateway sends messages to and fetches media from the chat platform.
type Gateway interface {
	// Reply answers an event once using its reply token.
	Reply(ctx context.Context, replyToken string, msgs ...entity.Message) error

	// Push sends messages to a user at any time.
	Push(ctx context.Context, userID string, msgs ...entity.Message) error

	// FetchContent downloads media referenced by an image event.
	FetchContent(ctx context.Context, ref string) ([]byte, error)
}
