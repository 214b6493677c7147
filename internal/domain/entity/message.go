package entity

// Message is an outbound message understood by every gateway.
type Message interface {
	messageKind() string
}

// Option is one quick reply button.
type Option struct {
	Label       string   `yaml:"label" json:"label" validate:"required,max=20"`
	DisplayText string   `yaml:"display_text" json:"display_text" validate:"max=300"`
	Data        Postback `yaml:"data" json:"data"`
}

// TextMessage is plain text, optionally carrying quick reply options.
type TextMessage struct {
	Text       string
	QuickReply []Option
}

// StickerMessage references a sticker by package and id.
type StickerMessage struct {
	PackageID string
	StickerID string
}

// AudioMessage points at a hosted audio clip.
type AudioMessage struct {
	URL        string
	DurationMS int
}

func (TextMessage) messageKind() string    { return "text" }
func (StickerMessage) messageKind() string { return "sticker" }
func (AudioMessage) messageKind() string   { return "audio" }

// Text is shorthand for a TextMessage without options.
func Text(s string) TextMessage { return TextMessage{Text: s} }

// KindOf names a message for logs.
func KindOf(m Message) string {
	if m == nil {
		return ""
	}
	return m.messageKind()
}
