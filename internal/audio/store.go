// Package audio stores synthesized clips and serves them over HTTP.
package audio

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// Store writes clips to Dir and builds their public URLs.
type Store struct {
	Dir     string
	BaseURL string
	Route   string

	newID func() string
}

// NewStore creates dir when missing.
func NewStore(dir, baseURL, route string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: mkdir %s: %w", dir, err)
	}
	return &Store{
		Dir:     dir,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Route:   "/" + strings.Trim(route, "/"),
		newID:   uuid.NewString,
	}, nil
}

// Save writes data as audio_<user>_<uuid>.<ext>. Duration is read from WAV headers and
// falls back to fallbackMS for other formats.
func (s *Store) Save(userID, ext string, data []byte, fallbackMS int) (entity.AudioClip, error) {
	if len(data) == 0 {
		return entity.AudioClip{}, fmt.Errorf("audio: empty clip for %s", userID)
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "wav"
	}
	name := fmt.Sprintf("audio_%s_%s.%s", sanitize(userID), s.newID(), ext)
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0o644); err != nil {
		return entity.AudioClip{}, fmt.Errorf("audio: write %s: %w", name, err)
	}
	ms, ok := WAVDurationMS(data)
	if !ok {
		ms = fallbackMS
	}
	return entity.AudioClip{Name: name, DurationMS: ms}, nil
}

// URL returns the public address of a stored clip.
func (s *Store) URL(name string) string {
	return s.BaseURL + s.Route + "/" + url.PathEscape(name)
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// EstimateMS guesses the spoken length of text at the given speed.
func EstimateMS(text string, speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	words := len(strings.Fields(text))
	if runes := len([]rune(text)); words < runes/8 {
		// scripts without spaces: count characters at roughly four per second
		return int(float64(runes) * 250 / speed)
	}
	// about 150 words per minute
	return int(float64(words) * 400 / speed)
}
