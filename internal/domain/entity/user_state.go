package entity

import (
	"errors"
	"slices"
	"time"
)

// ErrEmptyStory is returned when the last segment is edited before any exists.
var ErrEmptyStory = errors.New("entity: story list is empty")

// UserState is the durable conversation record of one user.
type UserState struct {
	ID           string
	DisplayName  string
	Stage        Stage
	ImageCaption string
	StoryType    string
	StoryList    []string
	UpdatedAt    time.Time
}

// NewUserState returns the default record for a user seen for the first time.
func NewUserState(id, displayName string) *UserState {
	return &UserState{
		ID:          id,
		DisplayName: displayName,
		Stage:       StageNone,
		StoryList:   []string{},
	}
}

// StorySize is the number of story segments produced so far.
func (u *UserState) StorySize() int { return len(u.StoryList) }

// LastStory returns the most recent segment.
func (u *UserState) LastStory() (string, bool) {
	if len(u.StoryList) == 0 {
		return "", false
	}
	return u.StoryList[len(u.StoryList)-1], true
}

// AppendStory adds a segment at the end of the story.
func (u *UserState) AppendStory(segment string) {
	u.StoryList = append(u.StoryList, segment)
}

// ReplaceLastStory overwrites the most recent segment.
func (u *UserState) ReplaceLastStory(segment string) error {
	if len(u.StoryList) == 0 {
		return ErrEmptyStory
	}
	u.StoryList[len(u.StoryList)-1] = segment
	return nil
}

// ResetCycle restores defaults while keeping the identity fields.
func (u *UserState) ResetCycle() {
	*u = UserState{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Stage:       StageNone,
		StoryList:   []string{},
		UpdatedAt:   u.UpdatedAt,
	}
}

// Clone returns a deep copy.
func (u *UserState) Clone() *UserState {
	c := *u
	c.StoryList = slices.Clone(u.StoryList)
	if c.StoryList == nil {
		c.StoryList = []string{}
	}
	return &c
}
