package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/storylens/internal/catalog"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/storage"
	"github.com/m3rciful/storylens/internal/tasks"
)

func (h *harness) phrase(key string) string { return h.d.deps.Replies.Phrase(key) }

func TestNoneImageCaptionsPhoto(t *testing.T) {
	h := newHarness(t)
	h.image(t)

	require.Equal(t, 1, h.gw.replyCount())
	assert.Equal(t, []string{h.phrase(catalog.PhraseLooking)}, texts(h.gw.replies[0].msgs))
	assert.Equal(t, entity.StagePhotoCaptioning, h.state(t).Stage)
	require.Equal(t, 1, h.sched.pending())

	h.sched.runAll(t)
	st := h.state(t)
	assert.Equal(t, entity.StageUserActioning, st.Stage)
	assert.Equal(t, "a dog on a hill", st.ImageCaption)
	assert.Equal(t, "Ada", st.DisplayName)

	push := h.gw.lastPush()
	assert.Equal(t, "u1", push.userID)
	assert.Equal(t, "a dog on a hill", texts(push.msgs)[0])
	opts := quickReplies(push.msgs)
	require.Len(t, opts, 6)
	for _, o := range opts {
		assert.Equal(t, "a dog on a hill", o.Data.Message)
	}
}

func TestCaptionIsTranslated(t *testing.T) {
	h := newHarness(t, func(_ *Deps, c *Config) { c.Language = "zh-TW" })
	h.image(t)
	h.sched.runAll(t)
	assert.Equal(t, "[zh-TW] a dog on a hill", h.state(t).ImageCaption)
}

func TestSavesDownloadedImage(t *testing.T) {
	saver := &memorySaver{}
	h := newHarness(t, func(d *Deps, _ *Config) { d.Images = saver })
	h.image(t)
	h.sched.runAll(t)
	assert.Equal(t, map[string]string{"u1": "jpeg"}, saver.saved)
}

func TestUserActioningTypeConfirm(t *testing.T) {
	h := newHarness(t)
	h.image(t)
	h.sched.runAll(t)

	h.postback(t, "type_confirm", "adventure")
	st := h.state(t)
	assert.Equal(t, entity.StageStoryGenerating, st.Stage)
	assert.Equal(t, "adventure", st.StoryType)
	assert.Equal(t, []string{h.phrase(catalog.PhraseThinking)}, texts(h.gw.replies[len(h.gw.replies)-1].msgs))

	h.sched.runAll(t)
	st = h.state(t)
	assert.Equal(t, entity.StageStoryPreview, st.Stage)
	assert.Equal(t, []string{"segment 1"}, st.StoryList)

	require.Len(t, h.models.storyReqs, 1)
	req := h.models.storyReqs[0]
	assert.Equal(t, entity.StoryFirst, req.Mode)
	assert.Equal(t, []string{"a dog on a hill"}, req.Segments)
	assert.Equal(t, "adventure", req.Genre)
	assert.Equal(t, 500, req.MaxTokens)
	assert.Equal(t, 100, req.MinWords)
	assert.Equal(t, 200, req.MaxWords)

	push := h.gw.lastPush()
	assert.Contains(t, texts(push.msgs), "segment 1")
	assert.Len(t, quickReplies(push.msgs), 4)
}

func TestTypeConfirmWithoutGenreIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.image(t)
	h.sched.runAll(t)
	h.postback(t, "type_confirm", "")
	assert.Equal(t, entity.StageUserActioning, h.state(t).Stage)
	assert.Zero(t, h.sched.pending())
}

func TestStoryExtendGrowsTokenBudget(t *testing.T) {
	h := newHarness(t)
	h.toPreview(t)

	h.postback(t, "story_extend", "")
	assert.Equal(t, entity.StageStoryGenerating, h.state(t).Stage)
	h.sched.runAll(t)

	require.Len(t, h.models.storyReqs, 2)
	req := h.models.storyReqs[1]
	assert.Equal(t, entity.StoryExtend, req.Mode)
	assert.Equal(t, []string{"segment 1"}, req.Segments)
	assert.Equal(t, 620, req.MaxTokens)
	assert.Equal(t, 150, req.MinWords)
	assert.Equal(t, []string{"segment 1", "segment 2"}, h.state(t).StoryList)
	assert.Contains(t, texts(h.gw.lastPush().msgs), h.phrase(catalog.PhraseContinued))
}

func TestStoryPreviewAtMaxSize(t *testing.T) {
	h := newHarness(t)
	h.toPreview(t)
	for range 2 {
		h.postback(t, "story_extend", "")
		h.sched.runAll(t)
	}
	st := h.state(t)
	require.Equal(t, 3, st.StorySize())

	push := h.gw.lastPush()
	opts := quickReplies(push.msgs)
	require.Len(t, opts, 2)
	assert.Equal(t, "modify_request", opts[0].Data.Action)
	assert.Equal(t, "story_closed", opts[1].Data.Action)
	assert.Contains(t, texts(push.msgs), h.phrase(catalog.PhrasePreviewMax))

	h.postback(t, "story_extend", "")
	assert.Equal(t, entity.StageStoryPreview, h.state(t).Stage)
	assert.Zero(t, h.sched.pending())
	last := h.gw.replies[len(h.gw.replies)-1]
	assert.Equal(t, h.phrase(catalog.PhraseMaxReached), texts(last.msgs)[0])
	assert.Len(t, quickReplies(last.msgs), 2)
}

func TestAudioGeneratingImageGetsSticker(t *testing.T) {
	h := newHarness(t)
	h.toPreview(t)
	h.postback(t, "story_closed", "")
	require.Equal(t, entity.StageAudioGenerating, h.state(t).Stage)

	before := h.gw.replyCount()
	h.image(t)
	require.Equal(t, before+1, h.gw.replyCount())
	assert.Equal(t, []entity.Message{entity.StickerMessage{PackageID: "p", StickerID: "wait"}}, h.gw.replies[before].msgs)
	assert.Equal(t, entity.StageAudioGenerating, h.state(t).Stage)

	h.text(t, "hello?")
	assert.Equal(t, before+1, h.gw.replyCount())

	h.sched.runAll(t)
	st := h.state(t)
	assert.Equal(t, entity.StageNone, st.Stage)
	assert.Empty(t, st.ImageCaption)
	assert.Empty(t, st.StoryList)
	assert.Equal(t, "Ada", st.DisplayName)

	push := h.gw.lastPush()
	require.Len(t, push.msgs, 2)
	audio, ok := push.msgs[0].(entity.AudioMessage)
	require.True(t, ok)
	assert.Equal(t, "https://bot.example/static/audio/clip-segment 1.wav", audio.URL)
	assert.Equal(t, 1000, audio.DurationMS)
	assert.Equal(t, []string{h.phrase(catalog.PhraseFinished)}, texts(push.msgs))
}

func TestAudioKeepsSegmentOrder(t *testing.T) {
	h := newHarness(t, func(_ *Deps, c *Config) { c.SynthesisParallelism = 3 })
	h.toPreview(t)
	for range 2 {
		h.postback(t, "story_extend", "")
		h.sched.runAll(t)
	}
	h.postback(t, "story_closed", "")
	h.sched.runAll(t)

	var urls []string
	for _, m := range h.gw.lastPush().msgs {
		if a, ok := m.(entity.AudioMessage); ok {
			urls = append(urls, strings.TrimPrefix(a.URL, "https://bot.example/static/audio/"))
		}
	}
	assert.Equal(t, []string{"clip-segment 1.wav", "clip-segment 2.wav", "clip-segment 3.wav"}, urls)
}

func TestClosingWithoutStoryReadsCaption(t *testing.T) {
	h := newHarness(t)
	h.image(t)
	h.sched.runAll(t)
	h.postback(t, "story_closed", "")
	h.sched.runAll(t)
	assert.Equal(t, []string{"a dog on a hill"}, h.models.synthesized)
	assert.Equal(t, entity.StageNone, h.state(t).Stage)
}

// newCappedHarness stores records with the same segment cap as the story size, as the app does.
func newCappedHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemoryStore(storage.Options{MaxSegments: 3})
	h := newHarness(t, func(d *Deps, _ *Config) { d.Store = store })
	h.store = store
	return h
}

func TestUserProduceRequestAtMaxSize(t *testing.T) {
	h := newCappedHarness(t)
	h.toPreview(t)
	for range 2 {
		h.postback(t, "story_extend", "")
		h.sched.runAll(t)
	}
	require.Equal(t, 3, h.state(t).StorySize())

	// a "my turn" button from an earlier prompt
	h.postback(t, "user_produce_request", "")
	assert.Equal(t, entity.StageStoryPreview, h.state(t).Stage)
	last := h.gw.replies[len(h.gw.replies)-1]
	assert.Equal(t, h.phrase(catalog.PhraseMaxReached), texts(last.msgs)[0])
	assert.Len(t, quickReplies(last.msgs), 2)

	h.text(t, "my part")
	st := h.state(t)
	assert.Equal(t, entity.StageStoryPreview, st.Stage)
	assert.Equal(t, 3, st.StorySize())

	h.postback(t, "story_closed", "")
	assert.Equal(t, entity.StageAudioGenerating, h.state(t).Stage)
	assert.Equal(t, 1, h.sched.pending())
}

func TestUserWritingAtMaxSizeReturnsToPreview(t *testing.T) {
	h := newCappedHarness(t)
	ctx := context.Background()
	st, err := h.store.Load(ctx, "u1")
	require.NoError(t, err)
	st.Stage = entity.StageStoryUserProducing
	st.ImageCaption = "a dog on a hill"
	st.StoryList = []string{"one", "two", "three"}
	require.NoError(t, h.store.Save(ctx, st))

	ev := h.event(entity.KindText)
	ev.Text = "four"
	require.NoError(t, h.d.Dispatch(ctx, ev))

	got := h.state(t)
	assert.Equal(t, entity.StageStoryPreview, got.Stage)
	assert.Equal(t, []string{"one", "two", "three"}, got.StoryList)
	last := h.gw.replies[len(h.gw.replies)-1]
	assert.Equal(t, h.phrase(catalog.PhraseMaxReached), texts(last.msgs)[0])
}

func TestStoryFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.models.storyErr = errors.New("model down")
	h.image(t)
	h.sched.runAll(t)
	h.postback(t, "type_confirm", "mystery")
	h.sched.runAll(t)

	st := h.state(t)
	assert.Equal(t, entity.StageUserActioning, st.Stage)
	assert.Empty(t, st.StoryList)
	assert.Empty(t, st.StoryType)
	push := h.gw.lastPush()
	assert.Equal(t, h.phrase(catalog.PhraseApology), texts(push.msgs)[0])
	assert.Len(t, quickReplies(push.msgs), 6)

	// a different genre picked after the failure is the one written
	h.models.storyErr = nil
	h.postback(t, "type_confirm", "fantasy")
	h.sched.runAll(t)
	st = h.state(t)
	assert.Equal(t, entity.StageStoryPreview, st.Stage)
	assert.Equal(t, "fantasy", st.StoryType)
	assert.Equal(t, "fantasy", h.models.storyReqs[len(h.models.storyReqs)-1].Genre)
}

func TestCaptionFailureRollsBackToNone(t *testing.T) {
	h := newHarness(t)
	h.models.captionErr = errors.New("vision down")
	h.image(t)
	h.sched.runAll(t)
	assert.Equal(t, entity.StageNone, h.state(t).Stage)
	assert.Equal(t, []string{h.phrase(catalog.PhraseApology)}, texts(h.gw.lastPush().msgs))
}

func TestDeadlineResetsToNone(t *testing.T) {
	h := newHarness(t)
	h.toPreview(t)
	h.models.speechErr = fmt.Errorf("speech: %w", context.DeadlineExceeded)
	h.postback(t, "story_closed", "")
	h.sched.runAll(t)

	st := h.state(t)
	assert.Equal(t, entity.StageNone, st.Stage)
	assert.Empty(t, st.StoryList)
	assert.Equal(t, []string{h.phrase(catalog.PhraseTimeout)}, texts(h.gw.lastPush().msgs))
}

func TestSchedulerRejectionRollsBack(t *testing.T) {
	h := newHarness(t)
	h.sched.err = tasks.ErrQueueFull
	ev := h.event(entity.KindImage)
	ev.ContentRef = "img-1"
	err := h.d.Dispatch(context.Background(), ev)
	require.ErrorIs(t, err, tasks.ErrQueueFull)
	assert.Equal(t, entity.StageNone, h.state(t).Stage)
	assert.Equal(t, []string{h.phrase(catalog.PhraseApology)}, texts(h.gw.lastPush().msgs))
}

func TestIllegalActionsAreNoops(t *testing.T) {
	h := newHarness(t)
	h.image(t)
	h.sched.runAll(t)
	replies := h.gw.replyCount()

	h.postback(t, "story_extend", "")
	h.postback(t, "bogus", "")
	h.postback(t, "user_produced", "")
	assert.Equal(t, entity.StageUserActioning, h.state(t).Stage)
	assert.Equal(t, replies, h.gw.replyCount())
	assert.Zero(t, h.sched.pending())
}

func TestPostbackIgnoredInNone(t *testing.T) {
	h := newHarness(t)
	h.postback(t, "type_confirm", "adventure")
	assert.Equal(t, entity.StageNone, h.state(t).Stage)
	assert.Zero(t, h.gw.replyCount())
}

func TestModifyCaption(t *testing.T) {
	h := newHarness(t)
	h.image(t)
	h.sched.runAll(t)

	h.postback(t, "modify_request", "")
	assert.Equal(t, entity.StageCaptionModifying, h.state(t).Stage)
	assert.Equal(t, []string{h.phrase(catalog.PhraseModifyPrompt)}, texts(h.gw.replies[len(h.gw.replies)-1].msgs))

	h.image(t)
	assert.Equal(t, entity.StageCaptionModifying, h.state(t).Stage)

	h.text(t, "  a cat on a sofa ")
	st := h.state(t)
	assert.Equal(t, entity.StageUserActioning, st.Stage)
	assert.Equal(t, "a cat on a sofa", st.ImageCaption)
	last := h.gw.replies[len(h.gw.replies)-1].msgs
	assert.Equal(t, h.phrase(catalog.PhraseModified), texts(last)[0])
	assert.Equal(t, "a cat on a sofa", quickReplies(last)[0].Data.Message)
}

func TestModifyAndWriteSegments(t *testing.T) {
	h := newHarness(t)
	h.toPreview(t)

	h.postback(t, "modify_request", "")
	require.Equal(t, entity.StageStoryModifying, h.state(t).Stage)
	h.text(t, "a better beginning")
	require.Equal(t, entity.StageStoryPreview, h.state(t).Stage)
	assert.Equal(t, []string{"a better beginning"}, h.state(t).StoryList)

	h.postback(t, "user_produce_request", "")
	require.Equal(t, entity.StageStoryUserProducing, h.state(t).Stage)
	h.text(t, "my own part")
	st := h.state(t)
	assert.Equal(t, entity.StageStoryPreview, st.Stage)
	assert.Equal(t, []string{"a better beginning", "my own part"}, st.StoryList)
	last := h.gw.replies[len(h.gw.replies)-1]
	assert.Equal(t, []string{h.phrase(catalog.PhraseContinued), "my own part", h.phrase(catalog.PhrasePreviewMore)}, texts(last.msgs))
}

func TestInterruptsKeepStage(t *testing.T) {
	h := newHarness(t)
	h.image(t)
	h.text(t, "are you there?")
	assert.Equal(t, entity.StagePhotoCaptioning, h.state(t).Stage)
	msgs := h.gw.replies[len(h.gw.replies)-1].msgs
	assert.Contains(t, []string{
		"Still looking at your photo, one moment 🧐",
		"Hold on, I am figuring out what is in the picture.",
	}, texts(msgs)[0])

	h.sched.runAll(t)
	h.text(t, "hm")
	msgs = h.gw.replies[len(h.gw.replies)-1].msgs
	assert.Equal(t, entity.StageUserActioning, h.state(t).Stage)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a dog on a hill", texts(msgs)[1])
	assert.Len(t, quickReplies(msgs), 6)
}

func TestSameUserEventsAreSerialised(t *testing.T) {
	h := newHarness(t)
	events := make([]entity.Event, 10)
	for i := range events {
		events[i] = h.event(entity.KindImage)
		events[i].ContentRef = "img-1"
	}

	var wg sync.WaitGroup
	for _, ev := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.d.Dispatch(context.Background(), ev))
		}()
	}
	wg.Wait()

	assert.Equal(t, entity.StagePhotoCaptioning, h.state(t).Stage)
	assert.Equal(t, 1, h.sched.pending())
	assert.Equal(t, 10, h.gw.replyCount())
	assert.Zero(t, h.d.locks.size())
}

func TestStaleStageIsReset(t *testing.T) {
	h := newHarness(t)
	h.image(t)
	require.Equal(t, entity.StagePhotoCaptioning, h.state(t).Stage)

	h.d.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	h.text(t, "hello again")
	assert.Equal(t, entity.StageNone, h.state(t).Stage)
	assert.Equal(t, []string{h.phrase(catalog.PhraseTimeout)}, texts(h.gw.lastPush().msgs))

	// the late caption finds the user in another stage and is dropped
	h.sched.runAll(t)
	st := h.state(t)
	assert.Equal(t, entity.StageNone, st.Stage)
	assert.Empty(t, st.ImageCaption)
}

func TestResetClearsProgress(t *testing.T) {
	h := newHarness(t)
	h.toPreview(t)
	require.NoError(t, h.d.Reset(context.Background(), "u1"))
	st := h.state(t)
	assert.Equal(t, entity.StageNone, st.Stage)
	assert.Empty(t, st.StoryList)
	assert.Equal(t, "Ada", st.DisplayName)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

type memorySaver struct {
	mu    sync.Mutex
	saved map[string]string
}

func (m *memorySaver) Save(userID string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[userID] = string(data)
	return "image_" + userID + ".jpg", nil
}
