package entity

import "github.com/orsinium-labs/enum"

// Stage is the conversation stage a user is in.
type Stage enum.Member[string]

var (
	StageNone               = Stage{"state_none"}
	StagePhotoCaptioning    = Stage{"state_photo_captioning"}
	StageCaptionModifying   = Stage{"state_caption_modifying"}
	StageUserActioning      = Stage{"state_user_actioning"}
	StageStoryGenerating    = Stage{"state_story_generating"}
	StageStoryPreview       = Stage{"state_story_preview"}
	StageStoryModifying     = Stage{"state_story_modifying"}
	StageStoryUserProducing = Stage{"state_story_user_producing"}
	StageAudioGenerating    = Stage{"state_audio_generating"}

	Stages = enum.New(
		StageNone,
		StagePhotoCaptioning,
		StageCaptionModifying,
		StageUserActioning,
		StageStoryGenerating,
		StageStoryPreview,
		StageStoryModifying,
		StageStoryUserProducing,
		StageAudioGenerating,
	)
)

// ParseStage maps a persisted value to a Stage. Unknown values yield StageNone and false.
func ParseStage(value string) (Stage, bool) {
	if s := Stages.Parse(value); s != nil {
		return *s, true
	}
	return StageNone, false
}

func (s Stage) String() string { return s.Value }

// IsZero reports whether s was never assigned.
func (s Stage) IsZero() bool { return s.Value == "" }

// Busy reports whether a background operation owns the stage.
func (s Stage) Busy() bool {
	switch s {
	case StagePhotoCaptioning, StageStoryGenerating, StageAudioGenerating:
		return true
	}
	return false
}
