package entity

// StoryMode selects the generation prompt.
type StoryMode string

const (
	StoryFirst  StoryMode = "first"
	StoryExtend StoryMode = "extend"
)

// StoryRequest is the input to a story generator.
type StoryRequest struct {
	Mode     StoryMode
	Genre    string
	Language string
	// Segments holds the caption in first mode and prior segments in extend mode.
	Segments  []string
	MinWords  int
	MaxWords  int
	MaxTokens int
}

// AudioClip is a synthesized file stored under the audio directory.
type AudioClip struct {
	Name       string
	DurationMS int
}
