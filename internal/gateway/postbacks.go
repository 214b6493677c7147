package gateway

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// postbacks keeps quick reply options behind short keys, since callback data is capped at 64 bytes.
type postbacks struct {
	mu    sync.Mutex
	ttl   time.Duration
	limit int
	now   func() time.Time
	byKey map[string]postbackEntry
	order []string
}

type postbackEntry struct {
	option  entity.Option
	expires time.Time
}

func newPostbacks(ttl time.Duration, limit int) *postbacks {
	return &postbacks{ttl: ttl, limit: limit, now: time.Now, byKey: make(map[string]postbackEntry)}
}

func (p *postbacks) put(opt entity.Option) string {
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKey[key] = postbackEntry{option: opt, expires: p.now().Add(p.ttl)}
	p.order = append(p.order, key)
	p.evict()
	return key
}

func (p *postbacks) get(key string) (entity.Option, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byKey[key]
	if !ok || p.now().After(e.expires) {
		return entity.Option{}, false
	}
	return e.option, true
}

// evict drops expired keys from the front, then the oldest keys beyond the limit.
func (p *postbacks) evict() {
	now := p.now()
	drop := 0
	for drop < len(p.order) {
		key := p.order[drop]
		e, ok := p.byKey[key]
		expired := !ok || now.After(e.expires)
		if !expired && len(p.order)-drop <= p.limit {
			break
		}
		delete(p.byKey, key)
		drop++
	}
	if drop > 0 {
		p.order = append(p.order[:0], p.order[drop:]...)
	}
}
