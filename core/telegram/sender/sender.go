package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// Options controls retry behaviour of outbound calls.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single call.
	MaxDuration time.Duration
}

// Sender executes outbound Telegram calls in the caller's goroutine with retries.
// Calls issued by one goroutine are delivered in order.
type Sender struct {
	opts  Options
	calls atomic.Uint64
	errs  atomic.Uint64
	sleep func(context.Context, time.Duration) error
}

// New returns a Sender with defaults applied to zero options.
func New(opts Options) *Sender {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 20 * time.Second
	}
	return &Sender{opts: opts, sleep: sleepCtx}
}

// Do runs call until it succeeds, fails permanently, or the retry budget is spent.
// The call must be idempotent when retries are enabled.
func (s *Sender) Do(ctx context.Context, action, endpoint string, call func(context.Context) error) error {
	if call == nil {
		return errors.New("telegram sender: nil call")
	}
	s.calls.Add(1)

	deadlineCtx, cancel := context.WithTimeout(ctx, s.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := s.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			lastErr = err
			break
		}
		lastErr = call(deadlineCtx)
		if lastErr == nil {
			logSendSuccess(ctx, action, endpoint, attempt, time.Since(start))
			return nil
		}
		if attempt == attempts {
			break
		}
		delay, retry := s.backoff(lastErr, attempt)
		if !retry {
			break
		}
		logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "send.retry.backoff",
			slog.String("op", action),
			slog.String("endpoint", endpoint),
			slog.Int("attempts", attempt),
			slog.Duration("backoff", delay),
		)
		if err := s.sleep(deadlineCtx, delay); err != nil {
			lastErr = err
			break
		}
	}

	s.errs.Add(1)
	logSendFailure(ctx, action, endpoint, lastErr, attempts, time.Since(start))
	return lastErr
}

// Calls returns the number of calls issued through Do.
func (s *Sender) Calls() uint64 { return s.calls.Load() }

// ErrorCount returns the number of calls that ultimately failed.
func (s *Sender) ErrorCount() uint64 { return s.errs.Load() }

// backoff decides whether err is transient and how long to wait before the next attempt.
func (s *Sender) backoff(err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(max(flood.RetryAfter, 1)) * time.Second, true
	}
	if netutil.ShouldRetry(err) || httpStatusFromError(err) >= 500 {
		return s.opts.RetryBackoff * time.Duration(attempt), true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logSendSuccess(ctx context.Context, action, endpoint string, attempt int, elapsed time.Duration) {
	level := slog.LevelDebug
	if attempt > 1 {
		level = slog.LevelInfo
	}
	logger.LogEvent(ctx, logger.TG, level, "send.success",
		slog.String("status", "ok"),
		slog.String("op", action),
		slog.String("endpoint", endpoint),
		slog.Int("attempts", attempt),
		slog.Duration("duration", elapsed),
	)
}

func logSendFailure(ctx context.Context, action, endpoint string, err error, attempts int, elapsed time.Duration) {
	logger.LogEvent(ctx, logger.TG, slog.LevelError, "send.fail",
		slog.String("status", "fail"),
		slog.String("op", action),
		slog.String("endpoint", endpoint),
		slog.String("err", SanitizeError(err)),
		slog.String("err_code", ClassifyError(err)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", elapsed),
	)
}

// ClassifyError maps transport and API failures to a short kind for logs.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "timeout"
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return "tls"
	}

	status := httpStatusFromError(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "flood"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "unknown"
}

// SanitizeError renders err with any bot token redacted.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

func httpStatusFromError(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	// telebot formats unknown API errors as "telegram: <description> (<code>)"
	msg := err.Error()
	open := strings.LastIndex(msg, "(")
	closing := strings.LastIndex(msg, ")")
	if open >= 0 && closing > open+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[open+1 : closing])); convErr == nil {
			return code
		}
	}
	return 0
}
