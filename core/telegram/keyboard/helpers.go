package keyboard

import (
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

// InlineBtn describes a convenience wrapper for inline button properties.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, len(rows))
	for i, row := range rows {
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = *markup.Data(btn.Text, btn.Unique, btn.Data).Inline()
		}
		inline[i] = r
	}
	markup.InlineKeyboard = inline
	return markup
}

// InlineButtonsNPerRow splits a flat list of buttons into rows with up to n buttons per row.
// If n <= 1, it behaves like InlineButtons (one per row).
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	if n <= 1 {
		return InlineButtons(buttons)
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := min(i+n, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsFit packs buttons into rows by label width so short labels share a row.
// A row holds at most perRow buttons and roughly maxRunes characters.
func InlineButtonsFit(buttons []InlineBtn, perRow, maxRunes int) *tele.ReplyMarkup {
	var (
		rows  [][]InlineBtn
		row   []InlineBtn
		width int
	)
	for _, b := range buttons {
		w := utf8.RuneCountInString(b.Text)
		if len(row) > 0 && (len(row) >= perRow || width+w > maxRunes) {
			rows = append(rows, row)
			row, width = nil, 0
		}
		row = append(row, b)
		width += w
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return InlineButtonsRows(rows...)
}
