package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/storylens/internal/catalog"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/storage"
	"github.com/m3rciful/storylens/internal/tasks"
)

type delivery struct {
	userID string
	token  string
	msgs   []entity.Message
}

type fakeGateway struct {
	mu      sync.Mutex
	used    map[string]bool
	replies []delivery
	pushes  []delivery
	content map[string][]byte
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{used: map[string]bool{}, content: map[string][]byte{"img-1": []byte("jpeg")}}
}

func (g *fakeGateway) Reply(_ context.Context, token string, msgs ...entity.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used[token] {
		return errors.New("token used")
	}
	g.used[token] = true
	g.replies = append(g.replies, delivery{token: token, msgs: msgs})
	return nil
}

func (g *fakeGateway) Push(_ context.Context, userID string, msgs ...entity.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, delivery{userID: userID, msgs: msgs})
	return nil
}

func (g *fakeGateway) FetchContent(_ context.Context, ref string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.content[ref]
	if !ok {
		return nil, fmt.Errorf("no content %q", ref)
	}
	return data, nil
}

func (g *fakeGateway) lastPush() delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pushes) == 0 {
		return delivery{}
	}
	return g.pushes[len(g.pushes)-1]
}

func (g *fakeGateway) replyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.replies)
}

type fakeModels struct {
	mu          sync.Mutex
	captionErr  error
	storyErr    error
	speechErr   error
	storyReqs   []entity.StoryRequest
	synthesized []string
	delay       time.Duration
}

func (m *fakeModels) Caption(context.Context, []byte) (string, error) {
	if m.captionErr != nil {
		return "", m.captionErr
	}
	return "a dog on a hill", nil
}

func (m *fakeModels) Translate(_ context.Context, text, lang string) (string, error) {
	return "[" + lang + "] " + text, nil
}

func (m *fakeModels) Generate(ctx context.Context, req entity.StoryRequest) (string, error) {
	m.mu.Lock()
	m.storyReqs = append(m.storyReqs, req)
	n := len(m.storyReqs)
	m.mu.Unlock()
	if m.storyErr != nil {
		return "", m.storyErr
	}
	return fmt.Sprintf("segment %d", n), nil
}

func (m *fakeModels) Synthesize(ctx context.Context, userID, text string) (entity.AudioClip, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return entity.AudioClip{}, ctx.Err()
		}
	}
	if m.speechErr != nil {
		return entity.AudioClip{}, m.speechErr
	}
	m.mu.Lock()
	m.synthesized = append(m.synthesized, text)
	m.mu.Unlock()
	return entity.AudioClip{Name: "clip-" + text + ".wav", DurationMS: 1000}, nil
}

// fakeScheduler queues tasks until the test runs them.
type fakeScheduler struct {
	mu     sync.Mutex
	queued []tasks.Task
	err    error
}

func (s *fakeScheduler) Submit(_ context.Context, t tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.queued = append(s.queued, t)
	return nil
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

// runAll executes queued tasks in order, including tasks queued while running.
func (s *fakeScheduler) runAll(t *testing.T) {
	t.Helper()
	for {
		s.mu.Lock()
		if len(s.queued) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queued[0]
		s.queued = s.queued[1:]
		s.mu.Unlock()

		ctx := context.Background()
		if err := task.Run(ctx); err != nil && task.OnError != nil {
			task.OnError(ctx, err)
		}
	}
}

type harness struct {
	d      *Dispatcher
	store  *storage.MemoryStore
	gw     *fakeGateway
	models *fakeModels
	sched  *fakeScheduler
	seq    int
}

func newHarness(t *testing.T, mutate ...func(*Deps, *Config)) *harness {
	t.Helper()
	qr, err := catalog.LoadQuickReplies("")
	require.NoError(t, err)
	replies, err := catalog.LoadReplies("")
	require.NoError(t, err)

	h := &harness{
		store:  storage.NewMemoryStore(storage.Options{MaxSegments: 10}),
		gw:     newFakeGateway(),
		models: &fakeModels{},
		sched:  &fakeScheduler{},
	}
	deps := Deps{
		Store:        h.store,
		Gateway:      h.gw,
		Captioner:    h.models,
		Translator:   h.models,
		Story:        h.models,
		Speech:       h.models,
		QuickReplies: qr,
		Replies:      replies,
		Scheduler:    h.sched,
		AudioURL:     func(name string) string { return "https://bot.example/static/audio/" + name },
	}
	cfg := Config{
		MaxStorySize:   3,
		Language:       "en",
		FirstMinWords:  100,
		FirstMaxWords:  200,
		ExtendMinWords: 150,
		ExtendMaxWords: 250,
		BaseTokens:     500,
		SegmentTokens:  120,
		CaptionTimeout: time.Minute,
		StoryTimeout:   time.Minute,
		AudioTimeout:   time.Minute,
		WaitingSticker: entity.StickerMessage{PackageID: "p", StickerID: "wait"},
	}
	for _, m := range mutate {
		m(&deps, &cfg)
	}
	h.d, err = New(deps, cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) event(kind entity.EventKind) entity.Event {
	h.seq++
	return entity.Event{
		ID:          fmt.Sprint(h.seq),
		Kind:        kind,
		UserID:      "u1",
		DisplayName: "Ada",
		ReplyToken:  fmt.Sprintf("tok-%d", h.seq),
	}
}

func (h *harness) send(t *testing.T, ev entity.Event) {
	t.Helper()
	require.NoError(t, h.d.Dispatch(context.Background(), ev))
}

func (h *harness) image(t *testing.T) {
	ev := h.event(entity.KindImage)
	ev.ContentRef = "img-1"
	h.send(t, ev)
}

func (h *harness) text(t *testing.T, s string) {
	ev := h.event(entity.KindText)
	ev.Text = s
	h.send(t, ev)
}

func (h *harness) postback(t *testing.T, action, genre string) {
	ev := h.event(entity.KindPostback)
	ev.Postback = &entity.Postback{Action: action, Type: genre}
	h.send(t, ev)
}

func (h *harness) state(t *testing.T) *entity.UserState {
	t.Helper()
	st, err := h.store.Load(context.Background(), "u1")
	require.NoError(t, err)
	return st
}

// toPreview drives a fresh user to STORY_PREVIEW with one generated segment.
func (h *harness) toPreview(t *testing.T) {
	t.Helper()
	h.image(t)
	h.sched.runAll(t)
	h.postback(t, "type_confirm", "adventure")
	h.sched.runAll(t)
	require.Equal(t, entity.StageStoryPreview, h.state(t).Stage)
}

func texts(msgs []entity.Message) []string {
	var out []string
	for _, m := range msgs {
		if tm, ok := m.(entity.TextMessage); ok {
			out = append(out, tm.Text)
		}
	}
	return out
}

func quickReplies(msgs []entity.Message) []entity.Option {
	for _, m := range msgs {
		if tm, ok := m.(entity.TextMessage); ok && len(tm.QuickReply) > 0 {
			return tm.QuickReply
		}
	}
	return nil
}
