package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func btns(labels ...string) []InlineBtn {
	out := make([]InlineBtn, len(labels))
	for i, l := range labels {
		out[i] = InlineBtn{Text: l, Unique: "pb", Data: l}
	}
	return out
}

func TestInlineButtonsNPerRow(t *testing.T) {
	m := InlineButtonsNPerRow(btns("a", "b", "c"), 2)
	assert.Len(t, m.InlineKeyboard, 2)
	assert.Len(t, m.InlineKeyboard[0], 2)
	// telebot adds the "\f<unique>|" prefix only when the markup is sent
	assert.Equal(t, "a", m.InlineKeyboard[0][0].Data)
	assert.Equal(t, "pb", m.InlineKeyboard[0][0].Unique)

	assert.Len(t, InlineButtonsNPerRow(btns("a", "b"), 1).InlineKeyboard, 2)
}

func TestInlineButtonsFit(t *testing.T) {
	m := InlineButtonsFit(btns("Adventure", "Fairy tale", "Sci-fi", "Mystery", "Edit caption", "Read it aloud"), 3, 24)
	var widths []int
	for _, row := range m.InlineKeyboard {
		widths = append(widths, len(row))
	}
	assert.Equal(t, []int{2, 2, 1, 1}, widths)
}
