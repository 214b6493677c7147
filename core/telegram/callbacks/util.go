package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// MaxDataLen is the Telegram limit for inline button callback data in bytes.
const MaxDataLen = 64

// Parse splits Telebot's "\f<unique>|<payload>" encoding into unique and payload.
// Data that reached a specific handler has already been split by Telebot and is returned as is.
func Parse(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	unique, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(unique), payload
}

// Key returns the unique part of the current callback.
func Key(c tele.Context) string {
	k, _ := Parse(c.Callback())
	return k
}

// Payload returns the payload part of the current callback.
func Payload(c tele.Context) string {
	_, p := Parse(c.Callback())
	return p
}

// Fits reports whether unique and payload encode within the Telegram callback data limit.
func Fits(unique, payload string) bool {
	// "\f" + unique + "|" + payload
	return 2+len(unique)+len(payload) <= MaxDataLen
}
