package sender

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func newTestSender(retries int) (*Sender, *[]time.Duration) {
	s := New(Options{MaxRetries: retries, RetryBackoff: time.Second})
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestDoRetriesTransientErrors(t *testing.T) {
	s, slept := newTestSender(2)
	calls := 0
	err := s.Do(context.Background(), "push.text", "sendMessage", func(context.Context) error {
		calls++
		if calls < 3 {
			return timeoutErr{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	assert.Zero(t, s.ErrorCount())
}

func TestDoStopsOnPermanentError(t *testing.T) {
	s, slept := newTestSender(3)
	calls := 0
	boom := &tele.Error{Code: 400, Description: "Bad Request: chat not found"}
	err := s.Do(context.Background(), "push.text", "sendMessage", func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
	assert.Equal(t, uint64(1), s.ErrorCount())
}

func TestDoHonoursFloodRetryAfter(t *testing.T) {
	s, slept := newTestSender(1)
	calls := 0
	err := s.Do(context.Background(), "push.audio", "sendAudio", func(context.Context) error {
		calls++
		if calls == 1 {
			return tele.FloodError{RetryAfter: 7}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, *slept)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, "http_4xx", ClassifyError(&tele.Error{Code: 403}))
	assert.Equal(t, "http_5xx", ClassifyError(errors.New("telegram: internal (502)")))
	assert.Equal(t, "flood", ClassifyError(tele.FloodError{RetryAfter: 1}))
	assert.Equal(t, "unknown", ClassifyError(errors.New("whatever")))
}

func TestSanitizeErrorRedactsToken(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AAE-x_y/sendMessage": EOF`)
	assert.Equal(t, `Post "https://api.telegram.org/bot<redacted>/sendMessage": EOF`, SanitizeError(err))
}
