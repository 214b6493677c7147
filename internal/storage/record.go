// Package storage persists conversation records.
package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

// ErrInvalidState is returned when a record fails validation before a write.
var ErrInvalidState = errors.New("storage: invalid user state")

// Segments is the ordered story list, stored as a JSON array in SQL backends.
type Segments []string

// Value implements driver.Valuer.
func (s Segments) Value() (driver.Value, error) {
	if s == nil {
		s = Segments{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Segments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Segments{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("storage: cannot scan %T into segments", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("storage: decode segments: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*s = out
	return nil
}

func (Segments) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Items:       &jsonschema.Schema{Type: "string", MinLength: ptr(uint64(1))},
		Title:       "Story segments",
		Description: "Story segments in reading order.",
	}
}

func ptr[T any](v T) *T { return &v }

// Record is the persisted shape of a user state shared by every backend.
type Record struct {
	UserID       string    `json:"user_id" db:"user_id" gorm:"primaryKey;column:user_id" validate:"required,max=128" jsonschema:"minLength=1,maxLength=128"`
	DisplayName  string    `json:"user_name" db:"display_name" gorm:"column:display_name;not null" validate:"max=256"`
	Stage        string    `json:"status" db:"stage" gorm:"column:stage;not null;index" validate:"required,stage" jsonschema:"enum=state_none,enum=state_photo_captioning,enum=state_caption_modifying,enum=state_user_actioning,enum=state_story_generating,enum=state_story_preview,enum=state_story_modifying,enum=state_story_user_producing,enum=state_audio_generating"`
	ImageCaption string    `json:"image_caption" db:"image_caption" gorm:"column:image_caption;not null"`
	StoryType    string    `json:"story_type" db:"story_type" gorm:"column:story_type;not null" validate:"max=64" jsonschema:"maxLength=64"`
	StoryList    Segments  `json:"story_list" db:"story_list" gorm:"column:story_list;type:text;not null" validate:"dive,required"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

// TableName pins the table shared with the postgres migrations.
func (Record) TableName() string { return "user_states" }

// Schema returns the JSON Schema document of a persisted record.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	s := r.Reflect(&Record{})
	s.Title = "UserState"
	s.Description = "Per-user conversation record."
	return s
}

// stages that cannot exist without their inputs
var (
	needsCaption = map[string]bool{
		entity.StageCaptionModifying.Value: true,
		entity.StageUserActioning.Value:    true,
	}
	needsStory = map[string]bool{
		entity.StageStoryPreview.Value:       true,
		entity.StageStoryModifying.Value:     true,
		entity.StageStoryUserProducing.Value: true,
	}
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		_, ok := entity.ParseStage(fl.Field().String())
		return ok
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		rec := sl.Current().Interface().(Record)
		if needsCaption[rec.Stage] && rec.ImageCaption == "" {
			sl.ReportError(rec.ImageCaption, "ImageCaption", "image_caption", "required_for_stage", rec.Stage)
		}
		if needsStory[rec.Stage] && len(rec.StoryList) == 0 {
			sl.ReportError(rec.StoryList, "StoryList", "story_list", "required_for_stage", rec.Stage)
		}
	}, Record{})
	return v
}

// codec converts between entities and records and enforces the record rules.
type codec struct {
	validate    *validator.Validate
	maxSegments int
	now         func() time.Time
}

func newCodec(opts Options) codec {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return codec{validate: newValidator(), maxSegments: opts.MaxSegments, now: now}
}

func (c codec) check(rec Record) error {
	if err := c.validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if c.maxSegments > 0 && len(rec.StoryList) > c.maxSegments {
		return fmt.Errorf("%w: %d segments exceed %d", ErrInvalidState, len(rec.StoryList), c.maxSegments)
	}
	return nil
}

// encode validates state and stamps UpdatedAt on the returned record.
func (c codec) encode(ctx context.Context, st *entity.UserState) (Record, error) {
	stage := st.Stage
	if stage.IsZero() {
		stage = entity.StageNone
	}
	rec := Record{
		UserID:       st.ID,
		DisplayName:  st.DisplayName,
		Stage:        stage.Value,
		ImageCaption: st.ImageCaption,
		StoryType:    st.StoryType,
		StoryList:    Segments(append([]string{}, st.StoryList...)),
		UpdatedAt:    c.now().UTC(),
	}
	if err := c.check(rec); err != nil {
		logger.Store.LogAttrs(ctx, slog.LevelError, "store.save",
			slog.String("status", "fail"),
			slog.String("user_id", st.ID),
			slog.String("stage", rec.Stage),
			slog.String("err", err.Error()),
		)
		return Record{}, err
	}
	return rec, nil
}

// decode turns a stored record into an entity, repairing what it cannot trust.
func (c codec) decode(ctx context.Context, rec Record) *entity.UserState {
	stage, ok := entity.ParseStage(rec.Stage)
	if !ok {
		logger.Store.LogAttrs(ctx, slog.LevelWarn, "store.repair",
			slog.String("status", "fail"),
			slog.String("user_id", rec.UserID),
			slog.String("stage", rec.Stage),
			slog.String("cause", "unknown_stage"),
		)
		rec.Stage = entity.StageNone.Value
	}
	if err := c.check(rec); err != nil {
		logger.Store.LogAttrs(ctx, slog.LevelWarn, "store.repair",
			slog.String("status", "fail"),
			slog.String("user_id", rec.UserID),
			slog.String("stage", rec.Stage),
			slog.String("cause", "invalid_record"),
			slog.String("err", err.Error()),
		)
		return c.fresh(rec.UserID, rec.DisplayName)
	}
	st := &entity.UserState{
		ID:           rec.UserID,
		DisplayName:  rec.DisplayName,
		Stage:        stage,
		ImageCaption: rec.ImageCaption,
		StoryType:    rec.StoryType,
		StoryList:    append([]string{}, rec.StoryList...),
		UpdatedAt:    rec.UpdatedAt,
	}
	return st
}

func (c codec) fresh(id, name string) *entity.UserState {
	st := entity.NewUserState(id, name)
	st.UpdatedAt = c.now().UTC()
	return st
}
