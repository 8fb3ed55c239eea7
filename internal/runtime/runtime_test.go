package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/keepsake/internal/audio"
	"github.com/felixgeelhaar/keepsake/internal/clock"
	"github.com/felixgeelhaar/keepsake/internal/gesture"
	"github.com/felixgeelhaar/keepsake/internal/media"
	"github.com/felixgeelhaar/keepsake/internal/store"
)

var cakeBounds = gesture.Bounds{Top: 0, Height: 176}

type harness struct {
	store    *store.MemoryStore
	registry *media.Registry
	fake     *clock.Fake
	device   *audio.NullDevice
	coord    *audio.Coordinator
	ctrl     *Controller

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, resolver func(*store.MemoryStore, *media.Registry) media.Resolver) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		registry: media.NewRegistry(),
		fake:     clock.NewFake(),
		device:   audio.NewNullDevice(),
	}
	h.coord = audio.NewCoordinator(h.device, h.fake, audio.DefaultOptions, nil)

	var r media.Resolver = media.NewStoredBackend(h.store, h.registry, nil)
	if resolver != nil {
		r = resolver(h.store, h.registry)
	}
	ctrl, err := New(Options{
		Resolver:  r,
		Audio:     h.coord,
		Scheduler: h.fake,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	ctrl.Bus().SubscribeAll(func(e Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
	})
	t.Cleanup(ctrl.Close)
	return h
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	audioRec := func(name string) store.AssetRecord {
		return store.AssetRecord{Payload: []byte(name), MimeType: "audio/mpeg", OriginalName: name}
	}
	require.NoError(t, h.store.Put(ctx, store.AmbientTrack, audioRec("bg.mp3")))
	require.NoError(t, h.store.Put(ctx, store.TerminalTrack, audioRec("final.mp3")))
	require.NoError(t, h.store.Put(ctx, store.SinglePhoto, store.AssetRecord{Payload: []byte("me"), MimeType: "image/jpeg"}))
	gallery := make([]store.AssetRecord, 8)
	for i := range gallery {
		gallery[i] = store.AssetRecord{Payload: []byte(fmt.Sprintf("photo-%d", i)), MimeType: "image/jpeg"}
	}
	require.NoError(t, h.store.PutMany(ctx, store.GalleryPhotos, gallery))
	require.NoError(t, h.store.MarkReady(ctx))
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.resolving.Wait()
}

// satisfy opens the gate of the current scene.
func (h *harness) satisfy(t *testing.T) {
	t.Helper()
	switch h.ctrl.Snapshot().Scene.Gate {
	case GateTextReveal:
		h.ctrl.RevealComplete()
	case GateUserInput:
		require.True(t, h.ctrl.Submit("banana"))
	case GateGesture:
		require.True(t, h.ctrl.GestureStart(10, cakeBounds))
		h.ctrl.GestureMove(150)
		require.True(t, h.ctrl.GestureEnd(cakeBounds))
	}
	require.True(t, h.ctrl.Snapshot().GateSatisfied)
}

func (h *harness) next(t *testing.T) {
	t.Helper()
	h.satisfy(t)
	require.True(t, h.ctrl.Advance())
	h.fake.Advance(DefaultTransitionDelay)
}

func (h *harness) walkTo(t *testing.T, index int) {
	t.Helper()
	for h.ctrl.Snapshot().Index < index {
		h.next(t)
	}
	require.Equal(t, index, h.ctrl.Snapshot().Index)
}

func (h *harness) entered() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []int
	for _, e := range h.events {
		if e.Type == EventSceneEntered {
			out = append(out, e.Scene)
		}
	}
	return out
}

func (h *harness) count(typ EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	r := media.NewConfiguredBackend(media.Paths{})
	_, err = New(Options{Resolver: r, Scenes: []Scene{}})
	assert.Error(t, err)

	_, err = New(Options{Resolver: r, Scenes: []Scene{{Index: 2, Name: "bad"}}})
	assert.Error(t, err)

	c, err := New(Options{Resolver: r})
	require.NoError(t, err)
	assert.Len(t, c.Scenes(), 6)
	assert.Equal(t, PhaseLoading, c.Snapshot().Phase)
}

// Empty store, upload, then the narrative starts.
func TestController_UploadFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	v := h.ctrl.Snapshot()
	assert.Equal(t, PhaseAwaitingUpload, v.Phase)
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, 1, h.count(EventUploadRequired))

	assert.ErrorIs(t, h.ctrl.UploadComplete(ctx), ErrNotReady)
	assert.Equal(t, PhaseAwaitingUpload, h.ctrl.Snapshot().Phase)

	h.seed(t)
	require.NoError(t, h.ctrl.UploadComplete(ctx))
	h.ctrl.resolving.Wait()

	v = h.ctrl.Snapshot()
	assert.Equal(t, PhaseInScene, v.Phase)
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, "apology", v.Scene.Name)
	assert.Equal(t, []int{1}, h.entered())

	// ambient started once resolved
	st := h.coord.State()
	require.NotNil(t, st.Ambient)
	assert.True(t, st.Ambient.Playing)
}

func TestController_GateBlocksAdvance(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)

	assert.False(t, h.ctrl.Snapshot().GateSatisfied)
	assert.False(t, h.ctrl.Advance())
	assert.Equal(t, PhaseInScene, h.ctrl.Snapshot().Phase)

	h.ctrl.RevealComplete()
	v := h.ctrl.Snapshot()
	assert.True(t, v.GateSatisfied)
	assert.True(t, v.CanAdvance)
	assert.Equal(t, 1, h.count(EventGateSatisfied))

	h.ctrl.RevealComplete()
	assert.Equal(t, 1, h.count(EventGateSatisfied), "second reveal is not a new satisfaction")
}

func TestController_TransitionHoldsForDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)
	h.ctrl.RevealComplete()

	require.True(t, h.ctrl.Advance())
	assert.False(t, h.ctrl.Advance(), "advance while transitioning is a no-op")

	h.fake.Advance(DefaultTransitionDelay - time.Millisecond)
	v := h.ctrl.Snapshot()
	assert.Equal(t, PhaseTransitioning, v.Phase)
	assert.True(t, v.Transitioning)
	assert.Equal(t, 1, v.Index)
	assert.False(t, h.ctrl.Advance())

	h.fake.Advance(time.Millisecond)
	v = h.ctrl.Snapshot()
	assert.Equal(t, PhaseInScene, v.Phase)
	assert.Equal(t, 2, v.Index)
	assert.False(t, v.GateSatisfied, "gate state starts fresh")

	h.fake.Advance(time.Second)
	assert.Equal(t, 2, h.ctrl.Snapshot().Index, "a second transition never fires")
}

func TestController_SceneOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)
	h.walkTo(t, 6)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, h.entered())

	v := h.ctrl.Snapshot()
	assert.True(t, v.Scene.Terminal)
	assert.True(t, v.GateSatisfied)
	assert.False(t, v.CanAdvance)
	assert.False(t, h.ctrl.Advance())
	h.fake.Advance(time.Second)
	assert.Equal(t, 6, h.ctrl.Snapshot().Index)
}

// Any non-blank answer opens the riddle.
func TestController_RiddleAcceptsAnyAnswer(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)
	h.walkTo(t, 3)

	assert.False(t, h.ctrl.Submit("   "))
	assert.False(t, h.ctrl.Snapshot().GateSatisfied)

	assert.True(t, h.ctrl.Submit("banana"))
	v := h.ctrl.Snapshot()
	assert.True(t, v.GateSatisfied)
	assert.Equal(t, "banana", v.Answer)
	assert.Equal(t, "Nope… not what you wrote. It's YOU.", v.Scene.Reply)
	assert.Equal(t, MediaReady, v.Media)
	assert.NotEmpty(t, v.MediaURL)

	assert.False(t, h.ctrl.Submit("apple"), "answer is kept")
	assert.Equal(t, "banana", h.ctrl.Snapshot().Answer)
}

func TestController_IgnoresEventsForOtherGates(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)

	assert.False(t, h.ctrl.Submit("hello"))
	assert.False(t, h.ctrl.GestureStart(10, cakeBounds))
	assert.False(t, h.ctrl.Snapshot().GateSatisfied)

	h.walkTo(t, 3)
	h.ctrl.RevealComplete()
	assert.False(t, h.ctrl.Snapshot().GateSatisfied)
}

func TestController_GestureScene(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)
	h.walkTo(t, 4)

	// 70 <= 88 resets
	require.True(t, h.ctrl.GestureStart(50, cakeBounds))
	h.ctrl.GestureMove(120)
	assert.InDelta(t, 70, h.ctrl.Snapshot().GestureProgress, 1e-9)
	assert.False(t, h.ctrl.GestureEnd(cakeBounds))
	v := h.ctrl.Snapshot()
	assert.False(t, v.GateSatisfied)
	assert.False(t, v.GestureTracking)
	assert.False(t, h.ctrl.Advance())

	// 90 > 88 commits
	require.True(t, h.ctrl.GestureStart(50, cakeBounds))
	h.ctrl.GestureMove(140)
	assert.True(t, h.ctrl.GestureEnd(cakeBounds))
	v = h.ctrl.Snapshot()
	assert.True(t, v.GateSatisfied)
	assert.Equal(t, DefaultKnifeLimit, v.GestureProgress)

	assert.False(t, h.ctrl.GestureStart(10, cakeBounds), "committed gate ignores input")
	assert.True(t, h.ctrl.Advance())
}

func TestController_AudioFollowsIndex(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)

	var mismatches []string
	h.ctrl.Bus().Subscribe(EventSceneEntered, func(e Event) {
		st := h.coord.State()
		if st.Scene != e.Scene {
			mismatches = append(mismatches, fmt.Sprintf("scene %d: audio at %d", e.Scene, st.Scene))
		}
		if st.Terminal != nil && e.Scene != 6 {
			mismatches = append(mismatches, fmt.Sprintf("terminal channel on scene %d", e.Scene))
		}
	})

	h.start(t)
	h.walkTo(t, 6)
	assert.Empty(t, mismatches)

	st := h.coord.State()
	require.NotNil(t, st.Terminal)
	assert.True(t, st.Terminal.Playing)
	assert.True(t, st.Fading)
}

func TestController_LeavingSceneReleasesMedia(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)

	// ambient, terminal source, photo and eight gallery photos
	assert.Equal(t, 11, h.registry.Len())

	h.walkTo(t, 4)
	assert.Equal(t, 10, h.registry.Len(), "photo released after the riddle")

	h.walkTo(t, 5)
	v := h.ctrl.Snapshot()
	assert.Equal(t, MediaReady, v.Media)
	assert.Len(t, v.MediaURLs, 8)

	h.walkTo(t, 6)
	assert.Equal(t, 2, h.registry.Len(), "gallery released, audio kept")
}

// blockingResolver holds back one key until released.
type blockingResolver struct {
	media.Resolver
	key  store.AssetKey
	gate chan struct{}
}

func (b *blockingResolver) ResolveOne(ctx context.Context, k store.AssetKey) (media.Reference, bool) {
	if k == b.key {
		<-b.gate
	}
	return b.Resolver.ResolveOne(ctx, k)
}

func TestController_MediaPendingDoesNotBlockScenes(t *testing.T) {
	var br *blockingResolver
	h := newHarness(t, func(s *store.MemoryStore, reg *media.Registry) media.Resolver {
		br = &blockingResolver{Resolver: media.NewStoredBackend(s, reg, nil), key: store.SinglePhoto, gate: make(chan struct{})}
		return br
	})
	h.seed(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.walkTo(t, 3)
	assert.Equal(t, MediaPending, h.ctrl.Snapshot().Media)

	close(br.gate)
	h.ctrl.resolving.Wait()
	v := h.ctrl.Snapshot()
	assert.Equal(t, MediaReady, v.Media)
	assert.NotEmpty(t, v.MediaURL)
	assert.Equal(t, 1, h.count(EventMediaSettled))
}

func TestController_LateMediaForLeftSceneIsReleased(t *testing.T) {
	var br *blockingResolver
	h := newHarness(t, func(s *store.MemoryStore, reg *media.Registry) media.Resolver {
		br = &blockingResolver{Resolver: media.NewStoredBackend(s, reg, nil), key: store.SinglePhoto, gate: make(chan struct{})}
		return br
	})
	h.seed(t)
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.walkTo(t, 4)

	close(br.gate)
	h.ctrl.resolving.Wait()
	// ambient, terminal source and gallery only
	assert.Equal(t, 10, h.registry.Len())
	assert.Equal(t, 0, h.count(EventMediaSettled))
}

func TestController_MissingMediaIsAbsent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.MarkReady(ctx))
	h.start(t)

	assert.Nil(t, h.coord.State().Ambient)
	h.walkTo(t, 3)
	v := h.ctrl.Snapshot()
	assert.Equal(t, MediaAbsent, v.Media)
	assert.Empty(t, v.MediaURL)

	h.walkTo(t, 6)
	assert.Nil(t, h.coord.State().Terminal)
}

func TestController_InteractionRetriesBlockedAudio(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.device.SetBlocked(true)
	h.start(t)

	require.NotNil(t, h.coord.State().Ambient)
	assert.True(t, h.coord.State().Ambient.Blocked)

	h.device.SetBlocked(false)
	h.ctrl.RevealComplete()
	assert.True(t, h.coord.State().Ambient.Playing)
}

func TestController_Reset(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)
	h.walkTo(t, 6)
	require.NotNil(t, h.coord.State().Terminal)

	require.NoError(t, h.ctrl.Reset(context.Background()))
	h.ctrl.resolving.Wait()

	v := h.ctrl.Snapshot()
	assert.Equal(t, 1, v.Index)
	assert.False(t, v.GateSatisfied)
	assert.Nil(t, h.coord.State().Terminal)
	assert.Equal(t, 1, h.count(EventControllerReset))
	assert.Equal(t, 11, h.registry.Len(), "media resolved afresh, old references released")

	h.walkTo(t, 2)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 1, 2}, h.entered())
}

func TestController_ResetCancelsPendingTransition(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)
	h.ctrl.RevealComplete()
	require.True(t, h.ctrl.Advance())

	require.NoError(t, h.ctrl.Reset(context.Background()))
	h.ctrl.resolving.Wait()
	h.fake.Advance(time.Second)

	v := h.ctrl.Snapshot()
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, PhaseInScene, v.Phase)
}

func TestController_Close(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.start(t)
	h.ctrl.RevealComplete()
	require.True(t, h.ctrl.Advance())

	h.ctrl.Close()
	h.ctrl.Close()

	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, 0, h.fake.Pending())
	assert.False(t, h.ctrl.Advance())
	assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.ctrl.Reset(context.Background()), ErrClosed)
	assert.Equal(t, 1, h.count(EventControllerClosed))
}

func TestController_ConfiguredBackend(t *testing.T) {
	paths := media.Paths{
		AmbientTrack:  "/srv/bg.mp3",
		TerminalTrack: "/srv/final.mp3",
		SinglePhoto:   "/srv/me.jpg",
		GalleryPhotos: []string{"/srv/1.jpg", "/srv/2.jpg"},
	}
	h := newHarness(t, func(*store.MemoryStore, *media.Registry) media.Resolver {
		return media.NewConfiguredBackend(paths)
	})
	h.start(t)

	assert.Equal(t, "/srv/bg.mp3", h.coord.State().Ambient.URL)
	h.walkTo(t, 3)
	assert.Equal(t, "/srv/me.jpg", h.ctrl.Snapshot().MediaURL)
	h.walkTo(t, 5)
	assert.Equal(t, paths.GalleryPhotos, h.ctrl.Snapshot().MediaURLs)
}
