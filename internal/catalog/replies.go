package catalog

import (
	"fmt"
	"math/rand/v2"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// Phrase keys with fixed wording.
const (
	PhraseWelcome        = "welcome"
	PhraseHelp           = "help"
	PhraseReset          = "reset"
	PhraseLooking        = "looking"
	PhraseCaptionOptions = "caption_options"
	PhraseModifyPrompt   = "modify_prompt"
	PhraseYourTurn       = "your_turn"
	PhraseModified       = "modified"
	PhraseContinued      = "continued"
	PhraseThinking       = "thinking"
	PhrasePreviewMore    = "preview_more"
	PhrasePreviewMax     = "preview_max"
	PhraseRecording      = "recording"
	PhraseFinished       = "finished"
	PhraseApology        = "apology"
	PhraseTimeout        = "timeout"
	PhraseMaxReached     = "max_reached"
	PhraseRateLimited    = "rate_limited"
	PhraseFallback       = "fallback"
)

var requiredPhrases = []string{
	PhraseWelcome, PhraseHelp, PhraseReset, PhraseLooking, PhraseCaptionOptions,
	PhraseModifyPrompt, PhraseYourTurn, PhraseModified, PhraseContinued, PhraseThinking,
	PhrasePreviewMore, PhrasePreviewMax, PhraseRecording, PhraseFinished, PhraseApology,
	PhraseTimeout, PhraseMaxReached, PhraseRateLimited, PhraseFallback,
}

type repliesFile struct {
	Stages  map[string]map[entity.EventKind][]string `yaml:"stages"`
	Phrases map[string]string                        `yaml:"phrases" validate:"required"`
}

// Replies picks reply texts by stage and event kind.
type Replies struct {
	byStage map[entity.Stage]map[entity.EventKind][]string
	phrases map[string]string
	intn    func(n int) int
}

// LoadReplies reads the catalog from path, or the embedded default when path is empty.
func LoadReplies(path string) (*Replies, error) {
	data, err := readSource(path, "replies.yaml")
	if err != nil {
		return nil, err
	}
	return ParseReplies(data)
}

// ParseReplies decodes a YAML reply catalog and checks every phrase key is present.
func ParseReplies(data []byte) (*Replies, error) {
	var raw repliesFile
	if err := decodeStrict(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode replies: %w", err)
	}
	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("catalog: replies: %w", err)
	}
	for _, key := range requiredPhrases {
		if raw.Phrases[key] == "" {
			return nil, fmt.Errorf("catalog: missing phrase %q", key)
		}
	}
	r := &Replies{
		byStage: make(map[entity.Stage]map[entity.EventKind][]string, len(raw.Stages)),
		phrases: raw.Phrases,
		intn:    rand.IntN,
	}
	for key, kinds := range raw.Stages {
		stage, ok := entity.ParseStage(key)
		if !ok {
			return nil, fmt.Errorf("catalog: unknown stage %q", key)
		}
		r.byStage[stage] = kinds
	}
	return r, nil
}

// Pick returns a random reply for the stage and kind, falling back to the stage's
// text replies and then to the generic fallback phrase.
func (r *Replies) Pick(stage entity.Stage, kind entity.EventKind) string {
	kinds := r.byStage[stage]
	list := kinds[kind]
	if len(list) == 0 {
		list = kinds[entity.KindText]
	}
	if len(list) == 0 {
		return r.phrases[PhraseFallback]
	}
	return list[r.intn(len(list))]
}

// Phrase returns the fixed text for key, formatted with args when given.
func (r *Replies) Phrase(key string, args ...any) string {
	text, ok := r.phrases[key]
	if !ok {
		text = r.phrases[PhraseFallback]
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}
