package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"
)

var (
	ErrReplyTokenUsed    = errors.New("gateway: reply token already used")
	ErrReplyTokenExpired = errors.New("gateway: reply token expired")
)

type replyTarget struct {
	chat    tele.Recipient
	c       tele.Context
	expires time.Time
	used    bool
}

// replyTokens hands out single-use tokens bound to the chat of an inbound update.
type replyTokens struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	issued map[string]*replyTarget
}

func newReplyTokens(ttl time.Duration) *replyTokens {
	return &replyTokens{ttl: ttl, now: time.Now, issued: make(map[string]*replyTarget)}
}

func (r *replyTokens) issue(chat tele.Recipient, c tele.Context) string {
	token := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued[token] = &replyTarget{chat: chat, c: c, expires: r.now().Add(r.ttl)}
	return token
}

// take consumes token. A token is usable once and only inside the reply window.
func (r *replyTokens) take(token string) (replyTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.issued[token]
	if !ok {
		return replyTarget{}, ErrReplyTokenExpired
	}
	if t.used {
		return replyTarget{}, ErrReplyTokenUsed
	}
	if r.now().After(t.expires) {
		delete(r.issued, token)
		return replyTarget{}, ErrReplyTokenExpired
	}
	t.used = true
	return *t, nil
}

// release forgets token once its update has been handled.
func (r *replyTokens) release(token string) {
	r.mu.Lock()
	delete(r.issued, token)
	r.mu.Unlock()
}

func (r *replyTokens) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issued)
}
