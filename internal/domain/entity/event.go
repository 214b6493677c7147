package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind classifies an inbound event.
type EventKind string

const (
	KindText     EventKind = "text"
	KindSticker  EventKind = "sticker"
	KindImage    EventKind = "image"
	KindPostback EventKind = "postback"
)

// Event is a platform-neutral inbound update.
type Event struct {
	ID          string
	Kind        EventKind
	UserID      string
	DisplayName string
	// ReplyToken may be used once, shortly after the event arrives.
	ReplyToken string
	Text       string
	// ContentRef identifies downloadable media for image events.
	ContentRef string
	Postback   *Postback
	ReceivedAt time.Time
}

// Postback is the structured payload attached to a quick reply option.
type Postback struct {
	Action  string `json:"action" yaml:"action" validate:"required"`
	Type    string `json:"type,omitempty" yaml:"type" validate:"max=64"`
	Message string `json:"message,omitempty" yaml:"message"`
}

// ParsePostback decodes postback data; an action is mandatory.
func ParsePostback(data string) (Postback, error) {
	var p Postback
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Postback{}, fmt.Errorf("entity: decode postback: %w", err)
	}
	if p.Action == "" {
		return Postback{}, fmt.Errorf("entity: postback without action")
	}
	return p, nil
}

// Encode renders the postback as compact JSON.
func (p Postback) Encode() string {
	b, _ := json.Marshal(p)
	return string(b)
}
