package callbacks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestParse(t *testing.T) {
	k, p := Parse(&tele.Callback{Data: "\fpb|0b7c"})
	assert.Equal(t, "pb", k)
	assert.Equal(t, "0b7c", p)

	k, p = Parse(&tele.Callback{Unique: "pb", Data: "abc"})
	assert.Equal(t, "pb", k)
	assert.Equal(t, "abc", p)

	k, p = Parse(&tele.Callback{Data: "plain"})
	assert.Equal(t, "plain", k)
	assert.Empty(t, p)

	k, p = Parse(nil)
	assert.Empty(t, k)
	assert.Empty(t, p)
}

func TestFits(t *testing.T) {
	assert.True(t, Fits("pb", strings.Repeat("x", 36)))
	assert.False(t, Fits("pb", strings.Repeat("x", 61)))
}
