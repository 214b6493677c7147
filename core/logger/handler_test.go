package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, format logFormat) (*slog.Logger, func() string) {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	return slog.New(handler), func() string {
		require.NoError(t, aw.Close())
		return strings.TrimSpace(buf.String())
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	log, output := newTestHandler(t, formatKV)
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithEventMeta(ctx, "u42", "U7")
	ctx = WithStage(ctx, "state_none")

	LogEvent(ctx, log.With("component", "conversation"), slog.LevelInfo, "conv.transition",
		slog.String("status", "ok"),
		slog.String("cause", "unit"),
	)

	tokens := strings.Split(output(), " ")
	expected := []string{"ts=", "level=INFO", "component=conversation", "event=conv.transition",
		"status=ok", "rid=rid-123", "event_id=u42", "user_id=U7", "stage=state_none"}
	require.GreaterOrEqual(t, len(tokens), len(expected))
	for i, prefix := range expected {
		assert.Truef(t, strings.HasPrefix(tokens[i], prefix), "token %d = %s, expected prefix %s", i, tokens[i], prefix)
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	log, output := newTestHandler(t, formatJSON)
	ctx := WithRID(context.Background(), "rid-json")
	ctx = WithTask(ctx, "story")

	LogEvent(ctx, log.With("component", "tasks"), slog.LevelError, "task.failed",
		slog.String("status", "FAIL"),
		slog.String("err", "boom"),
		slog.Duration("took", 1500*time.Microsecond),
	)

	line := output()
	require.True(t, strings.HasPrefix(line, "{"), line)
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"tasks"`, `"event":"task.failed"`,
		`"status":"fail"`, `"rid":"rid-json"`, `"task":"story"`, `"duration_ms":2`, `"err":"boom"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		require.Truef(t, idx > pos, "prefix %s not found in order within %s", pref, line)
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	log, output := newTestHandler(t, formatKV)
	ctx := WithRID(context.Background(), BuildRID("123", "456"))
	LogEvent(ctx, log, slog.LevelInfo, "rid.test")

	line := output()
	assert.Contains(t, line, "rid=3f.co")
	assert.NotContains(t, line, "rid_full=")
}

func TestStructuredHandlerCompactRIDJSON(t *testing.T) {
	log, output := newTestHandler(t, formatJSON)
	rawRID := BuildRID("12", "Uabc")
	LogEvent(WithRID(context.Background(), rawRID), log, slog.LevelInfo, "rid.test")

	line := output()
	assert.Contains(t, line, `"rid":"c.Uabc"`)
	assert.Contains(t, line, `"rid_full":"`+rawRID+`"`)
	assert.Contains(t, line, `"ts_unix_nano"`)
}

func TestStructuredHandlerDropsUnknownOutcomeAndEmptyValues(t *testing.T) {
	log, output := newTestHandler(t, formatKV)
	LogEvent(context.Background(), log, slog.LevelInfo, "x",
		slog.String("outcome", "maybe"),
		slog.String("cause", "  "),
		slog.Any("nil", nil),
		slog.Any("err", errors.New("bad thing")),
	)
	line := output()
	assert.NotContains(t, line, "outcome=")
	assert.NotContains(t, line, "cause=")
	assert.NotContains(t, line, "nil=")
	assert.Contains(t, line, `err="bad thing"`)
	assert.Contains(t, line, "component=app")
}

func TestStructuredHandlerSkipsBelowLevel(t *testing.T) {
	log, output := newTestHandler(t, formatKV)
	LogEvent(context.Background(), log, slog.LevelDebug, "hidden")
	assert.Empty(t, output())
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var got []bool
	for range 6 {
		got = append(got, s.Allow())
	}
	assert.Equal(t, []bool{true, false, false, true, false, false}, got)

	s.Set(0, 0)
	assert.True(t, s.Allow())
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"1/10": {1, 10},
		"25":   {1, 25},
		"0":    {0, 0},
		"x/y":  {0, 0},
		"":     {0, 0},
	}
	for spec, want := range cases {
		num, den := parseRatioSpec(spec)
		assert.Equal(t, want, [2]int{num, den}, spec)
	}
}

func TestSanitizeLimit(t *testing.T) {
	assert.Equal(t, "abc", SanitizeLimit("a\x00b\u200bc", 10))
	assert.Equal(t, "ab…", SanitizeLimit("abcdef", 2))
	assert.Equal(t, "", SanitizeLimit("abc", 0))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "ok", Status(nil))
	assert.Equal(t, "timeout", Status(context.DeadlineExceeded))
	assert.Equal(t, "cancelled", Status(context.Canceled))
	assert.Equal(t, "fail", Status(errors.New("x")))
}
