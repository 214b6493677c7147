package middleware

import (
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

const countersKey = "metrics_counters"

// Counters tracks what a single update produced.
type Counters struct {
	Messages atomic.Int32
	Keyboard atomic.Bool
}

// metricsContext wraps tele.Context to count sent messages and detect keyboard usage.
type metricsContext struct {
	tele.Context
	counters *Counters
}

func hasKeyboard(opts []any) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (m metricsContext) count(err error, opts []any) error {
	if err == nil {
		m.counters.Messages.Add(1)
		if hasKeyboard(opts) {
			m.counters.Keyboard.Store(true)
		}
	}
	return err
}

// Send proxies tele.Context.Send while updating message counters.
func (m metricsContext) Send(what any, opts ...any) error {
	return m.count(m.Context.Send(what, opts...), opts)
}

// Reply proxies tele.Context.Reply while updating message counters.
func (m metricsContext) Reply(what any, opts ...any) error {
	return m.count(m.Context.Reply(what, opts...), opts)
}

// MessageMetricsMiddleware instruments context to track messages count and keyboard usage.
// Messages sent by the gateway outside the handler record themselves through Record.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		counters := &Counters{}
		c.Set(countersKey, counters)
		return next(metricsContext{Context: c, counters: counters})
	}
}

// Record adds one delivered message to the counters of c, if instrumented.
func Record(c tele.Context, keyboard bool) {
	if c == nil {
		return
	}
	if counters, ok := c.Get(countersKey).(*Counters); ok {
		counters.Messages.Add(1)
		if keyboard {
			counters.Keyboard.Store(true)
		}
	}
}

// GetCounters reads message count and keyboard presence flags from context.
func GetCounters(c tele.Context) (int, bool) {
	counters, ok := c.Get(countersKey).(*Counters)
	if !ok {
		return 0, false
	}
	return int(counters.Messages.Load()), counters.Keyboard.Load()
}
