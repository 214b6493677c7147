package port

import (
	"context"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// Captioner describes an image in English.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Translator converts text to the target language.
type Translator interface {
	Translate(ctx context.Context, text, lang string) (string, error)
}

// StoryGenerator writes one story segment.
type StoryGenerator interface {
	Generate(ctx context.Context, req entity.StoryRequest) (string, error)
}

// Synthesizer renders speech for text and stores the clip for the user.
type Synthesizer interface {
	Synthesize(ctx context.Context, userID, text string) (entity.AudioClip, error)
}
