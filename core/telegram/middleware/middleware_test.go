package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	require.NoError(t, err)
	return b
}

func messageFrom(b *tele.Bot, updateID int, userID int64) tele.Context {
	return b.NewContext(tele.Update{
		ID:      updateID,
		Message: &tele.Message{Sender: &tele.User{ID: userID}, Chat: &tele.Chat{ID: userID}, Text: "hi"},
	})
}

func TestRateLimitBlocksBurstsPerUser(t *testing.T) {
	b := offlineBot(t)
	now := time.Unix(1000, 0)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		OnLimited: func(tele.Context) error { limited++; return nil },
		now:       func() time.Time { return now },
	})
	passed := 0
	h := mw(func(tele.Context) error { passed++; return nil })

	require.NoError(t, h(messageFrom(b, 1, 7)))
	require.NoError(t, h(messageFrom(b, 2, 7)))
	require.NoError(t, h(messageFrom(b, 3, 8)))
	now = now.Add(1500 * time.Millisecond)
	require.NoError(t, h(messageFrom(b, 4, 7)))

	assert.Equal(t, 3, passed)
	assert.Equal(t, 1, limited)
}

func TestRateLimitExcludesKinds(t *testing.T) {
	b := offlineBot(t)
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"message": {}},
	})
	passed := 0
	h := mw(func(tele.Context) error { passed++; return nil })
	for i := range 3 {
		require.NoError(t, h(messageFrom(b, i, 7)))
	}
	assert.Equal(t, 3, passed)
}

func TestRecoverMiddlewareConvertsPanic(t *testing.T) {
	b := offlineBot(t)
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(messageFrom(b, 1, 7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestAdminOnlyMiddleware(t *testing.T) {
	b := offlineBot(t)
	rejected := errors.New("rejected")
	mw := AdminOnlyMiddleware(AdminOptions{AdminID: 42, OnReject: func(tele.Context) error { return rejected }})
	h := mw(func(tele.Context) error { return nil })

	assert.NoError(t, h(messageFrom(b, 1, 42)))
	assert.ErrorIs(t, h(messageFrom(b, 2, 7)), rejected)

	closed := AdminOnlyMiddleware(AdminOptions{})(func(tele.Context) error { return errors.New("reached") })
	assert.NoError(t, closed(messageFrom(b, 3, 42)))
}

func TestMetricsCountersAndRecord(t *testing.T) {
	b := offlineBot(t)
	c := messageFrom(b, 1, 7)
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		Record(c, true)
		Record(c, false)
		return nil
	})
	require.NoError(t, h(c))
	msgs, kb := GetCounters(c)
	assert.Equal(t, 2, msgs)
	assert.True(t, kb)
}

func TestUpdateKind(t *testing.T) {
	b := offlineBot(t)
	assert.Equal(t, "message", UpdateKind(messageFrom(b, 1, 7)))
	cb := b.NewContext(tele.Update{ID: 2, Callback: &tele.Callback{Sender: &tele.User{ID: 7}}})
	assert.Equal(t, "callback", UpdateKind(cb))
}
