// Package runtime drives the narrative: a fixed list of scenes, each behind a
// gate, walked forward one transition at a time.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/keepsake/internal/audio"
	"github.com/felixgeelhaar/keepsake/internal/clock"
	"github.com/felixgeelhaar/keepsake/internal/gesture"
	"github.com/felixgeelhaar/keepsake/internal/media"
	"github.com/felixgeelhaar/keepsake/internal/observe"
	"github.com/felixgeelhaar/keepsake/internal/store"
)

// Phase is the controller's position in the narrative lifecycle.
type Phase string

const (
	PhaseLoading        Phase = "loading"
	PhaseAwaitingUpload Phase = "awaiting_upload"
	PhaseInScene        Phase = "in_scene"
	PhaseTransitioning  Phase = "transitioning"
)

const (
	DefaultTransitionDelay = 400 * time.Millisecond
	// DefaultKnifeLimit clamps the visible gesture progress.
	DefaultKnifeLimit = 176.0
)

var (
	ErrNotReady = errors.New("media not uploaded yet")
	ErrClosed   = errors.New("controller closed")
)

// Options wires a Controller. Resolver is required.
type Options struct {
	Scenes          []Scene
	Resolver        media.Resolver
	Audio           *audio.Coordinator
	Scheduler       clock.Scheduler
	TransitionDelay time.Duration
	KnifeLimit      float64
	Bus             *EventBus
	Observer        *observe.Observer
}

// View is what the presentation layer renders.
type View struct {
	Phase         Phase
	Index         int
	Scene         Scene
	EnteredAt     time.Time
	GateSatisfied bool
	Transitioning bool
	CanAdvance    bool

	Media     MediaState
	MediaURL  string
	MediaURLs []string

	Answer          string
	GestureTracking bool
	GestureProgress float64
}

// Controller walks the scene list. All methods are safe for concurrent use;
// timer callbacks may run on other goroutines.
type Controller struct {
	mu        sync.Mutex
	scenes    []Scene
	resolver  media.Resolver
	audio     *audio.Coordinator
	scheduler clock.Scheduler
	delay     time.Duration
	knife     float64
	bus       *EventBus
	observe   *observe.Observer

	phase   Phase
	index   int
	current *SceneState
	slots   map[store.AssetKey]*mediaSlot
	timer   clock.Timer
	gen     int
	cancel  context.CancelFunc
	closed  bool

	resolving sync.WaitGroup
}

func New(opts Options) (*Controller, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("controller requires a media resolver")
	}
	if opts.Scenes == nil {
		opts.Scenes = DefaultScenes()
	}
	if len(opts.Scenes) == 0 {
		return nil, fmt.Errorf("controller requires at least one scene")
	}
	for i, s := range opts.Scenes {
		if s.Index != i+1 {
			return nil, fmt.Errorf("scene %q has index %d, want %d", s.Name, s.Index, i+1)
		}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clock.Real{}
	}
	if opts.Observer == nil {
		opts.Observer = observe.Discard()
	}
	if opts.Audio == nil {
		opts.Audio = audio.NewCoordinator(nil, opts.Scheduler, audio.Options{TerminalScene: len(opts.Scenes)}, opts.Observer)
	}
	if opts.TransitionDelay <= 0 {
		opts.TransitionDelay = DefaultTransitionDelay
	}
	if opts.KnifeLimit <= 0 {
		opts.KnifeLimit = DefaultKnifeLimit
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus()
	}
	return &Controller{
		scenes:    opts.Scenes,
		resolver:  opts.Resolver,
		audio:     opts.Audio,
		scheduler: opts.Scheduler,
		delay:     opts.TransitionDelay,
		knife:     opts.KnifeLimit,
		bus:       opts.Bus,
		observe:   opts.Observer,
		phase:     PhaseLoading,
	}, nil
}

// Bus returns the bus the controller publishes on.
func (c *Controller) Bus() *EventBus { return c.bus }

// Scenes returns the scene list.
func (c *Controller) Scenes() []Scene { return c.scenes }

// Start checks readiness and either enters the first scene or waits for an
// upload.
func (c *Controller) Start(ctx context.Context) error {
	ctx, span := c.observe.StartSpan(ctx, "runtime.Start")
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseLoading {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.enter(ctx, PhaseLoading)
}

// UploadComplete re-checks readiness after the upload collaborator finished.
func (c *Controller) UploadComplete(ctx context.Context) error {
	ctx, span := c.observe.StartSpan(ctx, "runtime.UploadComplete")
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseAwaitingUpload {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.enter(ctx, PhaseAwaitingUpload)
}

// Reset returns to the first scene with fresh gates and re-resolved media.
func (c *Controller) Reset(ctx context.Context) error {
	ctx, span := c.observe.StartSpan(ctx, "runtime.Reset")
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	from := c.index
	c.teardown()
	c.phase = PhaseLoading
	c.index = 0
	c.current = nil
	// stops a terminal track even if the store is no longer ready
	c.audio.SceneChanged(0)
	c.mu.Unlock()

	c.observe.Log().Info().Int("from", from).Msg("controller reset")
	c.bus.PublishWithData(EventControllerReset, 0, map[string]interface{}{"from": from})
	return c.enter(ctx, PhaseLoading)
}

// enter moves from the given phase to the first scene, or to AwaitingUpload
// when the resolver is not ready.
func (c *Controller) enter(ctx context.Context, from Phase) error {
	ready := c.resolver.IsReady(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != from {
		c.mu.Unlock()
		return nil
	}
	if !ready {
		c.phase = PhaseAwaitingUpload
		c.mu.Unlock()
		c.observe.Log().Info().Str("backend", string(c.resolver.Backend())).Msg("media not uploaded, waiting")
		c.bus.PublishSimple(EventUploadRequired, 0)
		if from == PhaseAwaitingUpload {
			return ErrNotReady
		}
		return nil
	}

	c.gen++
	gen := c.gen
	c.slots = make(map[store.AssetKey]*mediaSlot)
	for _, s := range c.scenes {
		if s.Media != nil {
			c.slots[*s.Media] = &mediaSlot{last: s.Index, state: MediaPending}
		}
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.index = 1
	c.current = newSceneState(c.scenes[0], time.Now())
	c.phase = PhaseInScene
	c.audio.SceneChanged(1)
	scene := c.current.Scene
	c.resolving.Add(1)
	c.mu.Unlock()

	go c.resolveAll(rctx, gen)

	c.observe.Log().Debug().Int("scene", 1).Str("name", scene.Name).Msg("scene entered")
	c.bus.PublishWithData(EventSceneEntered, 1, map[string]interface{}{"name": scene.Name, "gate": string(scene.Gate)})
	return nil
}

// resolveAll resolves every media dependency in parallel. Absent assets
// settle as absent; nothing here fails the narrative.
func (c *Controller) resolveAll(ctx context.Context, gen int) {
	defer c.resolving.Done()

	ctx, span := c.observe.StartSpan(ctx, "runtime.resolveAll", attribute.Int("generation", gen))
	defer span.End()

	var g errgroup.Group
	for _, k := range mediaKeys(c.scenes) {
		g.Go(func() error {
			var refs []media.Reference
			if k.IsCollection() {
				refs = c.resolver.ResolveMany(ctx, k)
			} else if ref, ok := c.resolver.ResolveOne(ctx, k); ok {
				refs = []media.Reference{ref}
			}
			c.settle(gen, k, refs)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) settle(gen int, k store.AssetKey, refs []media.Reference) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		releaseAll(refs)
		return
	}

	switch k {
	case store.AmbientTrack:
		if len(refs) > 0 {
			c.audio.SetAmbient(refs[0])
		}
		c.mu.Unlock()
		return
	case store.TerminalTrack:
		if len(refs) > 0 {
			c.audio.SetTerminalSource(refs[0])
		}
		c.mu.Unlock()
		return
	}

	slot, ok := c.slots[k]
	if !ok || slot.last < c.index {
		// its scene is already gone
		c.mu.Unlock()
		releaseAll(refs)
		return
	}
	slot.settle(refs)
	index, state := c.index, slot.state
	shown := c.current != nil && c.current.Scene.Media != nil && *c.current.Scene.Media == k
	c.mu.Unlock()

	c.observe.Log().Debug().Str("key", string(k)).Str("state", string(state)).Msg("media settled")
	if shown {
		c.bus.PublishWithData(EventMediaSettled, index, map[string]interface{}{"key": string(k), "state": string(state)})
	}
}

// RevealComplete satisfies a text-reveal gate.
func (c *Controller) RevealComplete() {
	c.mu.Lock()
	if !c.interactLocked() {
		c.mu.Unlock()
		return
	}
	changed := c.current.reveal()
	index := c.index
	c.mu.Unlock()

	if changed {
		c.bus.PublishSimple(EventGateSatisfied, index)
	}
}

// Submit satisfies a user-input gate with any non-blank value. It reports
// whether the value was accepted.
func (c *Controller) Submit(value string) bool {
	c.mu.Lock()
	if !c.interactLocked() {
		c.mu.Unlock()
		return false
	}
	accepted := c.current.submit(value)
	index := c.index
	c.mu.Unlock()

	if accepted {
		c.bus.PublishWithData(EventGateSatisfied, index, map[string]interface{}{"answer": value})
	}
	return accepted
}

// GestureStart begins a drag on the gesture scene. It reports whether
// tracking started.
func (c *Controller) GestureStart(y float64, b gesture.Bounds) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.interactLocked() || c.current.gesture == nil {
		return false
	}
	return c.current.gesture.Start(y, b)
}

// GestureMove updates the drag.
func (c *Controller) GestureMove(y float64) {
	c.mu.Lock()
	if !c.interactLocked() || c.current.gesture == nil {
		c.mu.Unlock()
		return
	}
	g := c.current.gesture
	if !g.Tracking() {
		c.mu.Unlock()
		return
	}
	g.Move(y)
	index, progress := c.index, g.Progress(c.knife)
	c.mu.Unlock()

	c.bus.PublishWithData(EventGestureProgress, index, map[string]interface{}{"progress": progress})
}

// GestureEnd finishes the drag and reports whether the gate committed.
func (c *Controller) GestureEnd(b gesture.Bounds) bool {
	c.mu.Lock()
	if !c.interactLocked() || c.current.gesture == nil {
		c.mu.Unlock()
		return false
	}
	g := c.current.gesture
	was := g.Committed()
	committed := g.End(b)
	index := c.index
	c.mu.Unlock()

	if committed && !was {
		c.observe.Log().Debug().Int("scene", index).Msg("gesture committed")
		c.bus.PublishSimple(EventGateSatisfied, index)
	}
	return committed
}

// Advance starts the transition to the next scene. It reports whether a
// transition started; requests while transitioning are ignored.
func (c *Controller) Advance() bool {
	c.mu.Lock()
	if !c.interactLocked() || !c.canAdvanceLocked() {
		c.mu.Unlock()
		return false
	}
	c.phase = PhaseTransitioning
	gen, from := c.gen, c.index
	c.timer = c.scheduler.AfterFunc(c.delay, func() { c.finishTransition(gen, from) })
	c.mu.Unlock()

	c.bus.PublishWithData(EventTransitionStarted, from, map[string]interface{}{"to": from + 1})
	return true
}

func (c *Controller) finishTransition(gen, from int) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.phase != PhaseTransitioning || c.index != from {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	for _, slot := range c.slots {
		if slot.last == from {
			slot.release()
		}
	}
	c.index = from + 1
	c.current = newSceneState(c.scenes[c.index-1], time.Now())
	c.phase = PhaseInScene
	// audio follows the index update, never precedes it
	c.audio.SceneChanged(c.index)
	scene := c.current.Scene
	c.mu.Unlock()

	c.observe.Log().Debug().Int("scene", scene.Index).Str("name", scene.Name).Msg("scene entered")
	c.bus.PublishWithData(EventSceneEntered, scene.Index, map[string]interface{}{"name": scene.Name, "gate": string(scene.Gate)})
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Phase:         c.phase,
		Index:         c.index,
		Transitioning: c.phase == PhaseTransitioning,
		Media:         MediaNone,
	}
	if c.current == nil {
		return v
	}
	st := c.current
	v.Scene = st.Scene
	v.EnteredAt = st.EnteredAt
	v.GateSatisfied = st.Satisfied()
	v.CanAdvance = c.canAdvanceLocked()
	v.Answer = st.answer
	if st.gesture != nil {
		v.GestureTracking = st.gesture.Tracking()
		v.GestureProgress = st.gesture.Progress(c.knife)
	}
	if st.Scene.Media != nil {
		if slot, ok := c.slots[*st.Scene.Media]; ok {
			v.Media = slot.state
			if slot.state == MediaReady {
				urls := slot.urls()
				if st.Scene.Media.IsCollection() {
					v.MediaURLs = urls
				} else {
					v.MediaURL = urls[0]
				}
			}
		}
	}
	return v
}

// Audio returns the coordinator driven by scene changes.
func (c *Controller) Audio() *audio.Coordinator { return c.audio }

// Close stops pending work, releases every reference and shuts audio down.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	index := c.index
	c.teardown()
	c.audio.Close()
	c.mu.Unlock()

	c.bus.PublishSimple(EventControllerClosed, index)
}

// teardown cancels the transition and resolution and releases all slots.
// Callers hold c.mu.
func (c *Controller) teardown() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	for _, slot := range c.slots {
		slot.release()
	}
	c.slots = nil
}

// interactLocked counts a user event as an interaction and reports whether
// the controller is showing a scene that can take input.
func (c *Controller) interactLocked() bool {
	if c.closed {
		return false
	}
	c.audio.Interact()
	return c.phase == PhaseInScene && c.current != nil
}

func (c *Controller) canAdvanceLocked() bool {
	return c.phase == PhaseInScene &&
		c.current != nil &&
		!c.current.Scene.Terminal &&
		c.index < len(c.scenes) &&
		c.current.Satisfied()
}

func releaseAll(refs []media.Reference) {
	for _, r := range refs {
		r.Release()
	}
}
