package catalog

import (
	"fmt"
	"slices"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// Context carries the per-user values injected into options.
type Context struct {
	StorySize    int
	MaxStorySize int
	// Message, when set, is copied into every option's postback.
	Message string
}

// QuickReplies maps stages to their option lists.
type QuickReplies struct {
	byStage map[entity.Stage][]entity.Option
}

// LoadQuickReplies reads the catalog from path, or the embedded default when path is empty.
func LoadQuickReplies(path string) (*QuickReplies, error) {
	data, err := readSource(path, "quick_replies.yaml")
	if err != nil {
		return nil, err
	}
	return ParseQuickReplies(data)
}

// ParseQuickReplies decodes and validates a YAML catalog.
func ParseQuickReplies(data []byte) (*QuickReplies, error) {
	var raw map[string][]entity.Option
	if err := decodeStrict(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode quick replies: %w", err)
	}
	q := &QuickReplies{byStage: make(map[entity.Stage][]entity.Option, len(raw))}
	for key, opts := range raw {
		stage, ok := entity.ParseStage(key)
		if !ok {
			return nil, fmt.Errorf("catalog: unknown stage %q", key)
		}
		for i, opt := range opts {
			if err := validate.Struct(opt); err != nil {
				return nil, fmt.Errorf("catalog: %s[%d]: %w", key, i, err)
			}
			if _, ok := entity.ParseAction(opt.Data.Action); !ok {
				return nil, fmt.Errorf("catalog: %s[%d]: unknown action %q", key, i, opt.Data.Action)
			}
		}
		q.byStage[stage] = opts
	}
	return q, nil
}

// OptionsFor returns a fresh copy of the stage's options with the context applied.
// In the story preview, the first two options (extend and write-next) are left out once
// the story has reached its maximum size.
func (q *QuickReplies) OptionsFor(stage entity.Stage, c Context) []entity.Option {
	opts := slices.Clone(q.byStage[stage])
	if stage == entity.StageStoryPreview && c.MaxStorySize > 0 && c.StorySize >= c.MaxStorySize {
		if len(opts) > 2 {
			opts = opts[2:]
		} else {
			opts = nil
		}
	}
	if c.Message != "" {
		for i := range opts {
			opts[i].Data.Message = c.Message
		}
	}
	return opts
}
