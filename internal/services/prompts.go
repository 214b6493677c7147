package services

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// sp formats a dedented multi-line template.
func sp(txt string, args ...any) string {
	return fmt.Sprintf(dedent.Dedent(strings.Trim(txt, "\n")), args...)
}

// CaptionPrompt asks a vision model for a short English description.
const CaptionPrompt = "Describe this photo in one or two plain English sentences. Mention the main subject, the setting and the mood."

// TranslatePrompt is the system instruction for translation.
func TranslatePrompt(lang string) string {
	return sp(`
		Translate the user's text into %s.
		Reply with the translation only, without quotes or explanations.
	`, languageName(lang))
}

// StoryPrompt builds the system and user messages for one story segment.
func StoryPrompt(req entity.StoryRequest) (system, user string) {
	lang := languageName(req.Language)
	system = sp(`
		You are a warm storyteller writing short stories for families.
		Write in %s. Use simple, vivid language and keep the content suitable for children.
		Reply with the story text only: no title, no headings, no notes.
	`, lang)

	switch req.Mode {
	case entity.StoryExtend:
		user = sp(`
			Here is the story so far:
			%s

			Continue the story:
			1. Write the next part in %d to %d words.
			2. Keep to the "%s" genre so the continuation fits its style.
			3. Stay consistent with the characters and events above and do not repeat them.
		`, strings.Join(req.Segments, "\n"), req.MinWords, req.MaxWords, req.Genre)
	default:
		user = sp(`
			Write the opening of a story inspired by this picture description:
			"%s"

			1. Write %d to %d words.
			2. Follow the "%s" genre so the story fits its style.
			3. End at a point where the story could continue.
		`, strings.Join(req.Segments, " "), req.MinWords, req.MaxWords, req.Genre)
	}
	return system, user
}

var languageNames = map[string]string{
	"en":    "English",
	"zh-tw": "Traditional Chinese",
	"zh-cn": "Simplified Chinese",
	"ja":    "Japanese",
	"ko":    "Korean",
	"es":    "Spanish",
	"fr":    "French",
	"de":    "German",
	"ru":    "Russian",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	if code == "" {
		return "English"
	}
	return code
}

// IsEnglish reports whether lang needs no translation from English.
func IsEnglish(lang string) bool {
	l := strings.ToLower(lang)
	return l == "" || l == "en" || strings.HasPrefix(l, "en-")
}
