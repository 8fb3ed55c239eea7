package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/keepsake/internal/audio"
	"github.com/felixgeelhaar/keepsake/internal/clock"
	"github.com/felixgeelhaar/keepsake/internal/config"
	"github.com/felixgeelhaar/keepsake/internal/guard"
	"github.com/felixgeelhaar/keepsake/internal/media"
	"github.com/felixgeelhaar/keepsake/internal/observe"
	"github.com/felixgeelhaar/keepsake/internal/runtime"
	"github.com/felixgeelhaar/keepsake/internal/store"
	"github.com/felixgeelhaar/keepsake/internal/ui"
)

// Runner wires the configured collaborators into a playable session.
type Runner struct {
	Observer  *observe.Observer
	Config    *config.Config
	Store     store.AssetStore
	Scheduler clock.Scheduler
	UI        ui.UI
}

func NewRunner(obs *observe.Observer, cfg *config.Config, s store.AssetStore, u ui.UI) *Runner {
	if u == nil {
		u = ui.SilentUI{}
	}
	return &Runner{
		Observer:  obs,
		Config:    cfg,
		Store:     s,
		Scheduler: clock.Real{},
		UI:        u,
	}
}

// Session is a built controller plus the resources it owns.
type Session struct {
	Controller *runtime.Controller
	Server     *media.Server

	observe *observe.Observer
	bridge  *bridge
}

// Build resolves the backend, audio device and blob server from the config.
// The controller is not started; the presentation layer does that.
func (r *Runner) Build(ctx context.Context) (*Session, error) {
	cfg := r.Config
	obs := r.Observer
	r.UI.UpdateStatus("Starting keepsake...")

	reg := media.NewRegistry()
	resolver, err := media.New(cfg.Backend, r.Store, reg, cfg.Media, obs)
	if err != nil {
		return nil, err
	}

	g := guard.New(cfg.Policy)
	device, err := newDevice(cfg.Audio, g, obs)
	if err != nil {
		return nil, err
	}

	sess := &Session{observe: obs}

	// external players cannot open blob: URLs, so stored blobs are served
	// over loopback HTTP
	if cfg.Backend == media.BackendStored && cfg.Audio.Device == "exec" && cfg.Server.Addr != "" {
		srv := media.NewServer(reg, obs)
		if err := srv.Start(cfg.Server.Addr); err != nil {
			return nil, err
		}
		sess.Server = srv
	}

	scenes := runtime.DefaultScenes()
	coord := audio.NewCoordinator(device, r.Scheduler, audio.Options{
		TerminalScene:  len(scenes),
		AmbientVolume:  cfg.Audio.AmbientVolume,
		TerminalVolume: cfg.Audio.TerminalVolume,
		FadeStep:       cfg.Audio.FadeStep,
		FadeInterval:   cfg.Audio.FadeInterval,
	}, obs)

	ctrl, err := runtime.New(runtime.Options{
		Scenes:          scenes,
		Resolver:        resolver,
		Audio:           coord,
		Scheduler:       r.Scheduler,
		TransitionDelay: cfg.Timing.Transition,
		Observer:        obs,
	})
	if err != nil {
		_ = sess.Close(ctx)
		return nil, err
	}
	sess.Controller = ctrl
	sess.bridge = newBridge(r.UI)
	sess.bridge.subscribe(ctrl.Bus())
	go sess.bridge.run()
	ctrl.Bus().SubscribeAll(func(e runtime.Event) {
		obs.Log().Debug().
			Str("event", string(e.Type)).
			Int("scene", e.Scene).
			Msg("controller event")
	})

	obs.Log().Info().
		Str("backend", string(cfg.Backend)).
		Str("device", cfg.Audio.Device).
		Msg("session ready")
	return sess, nil
}

func newDevice(cfg config.Audio, g *guard.Guard, obs *observe.Observer) (audio.Device, error) {
	switch cfg.Device {
	case "null":
		return audio.NewNullDevice(), nil
	case "exec", "":
		return audio.NewExecDevice(cfg.Player, g, obs)
	default:
		return nil, fmt.Errorf("unknown audio device %q", cfg.Device)
	}
}

// Attach redirects controller events to u, replacing the runner's UI.
func (s *Session) Attach(u ui.UI) {
	s.bridge.setUI(u)
}

// Close stops the controller, the event bridge and the blob server.
func (s *Session) Close(ctx context.Context) error {
	if s.Controller != nil {
		s.Controller.Close()
	}
	if s.bridge != nil {
		s.bridge.stop()
	}
	if s.Server != nil {
		if err := s.Server.Shutdown(ctx); err != nil {
			s.observe.Log().Warn().Err(err).Msg("media server shutdown failed")
			return err
		}
	}
	return nil
}

// forwarded lists the events the UI follows. Gesture progress is left out;
// whoever drives the gesture renders it from snapshots.
var forwarded = []runtime.EventType{
	runtime.EventUploadRequired,
	runtime.EventSceneEntered,
	runtime.EventGateSatisfied,
	runtime.EventTransitionStarted,
	runtime.EventMediaSettled,
	runtime.EventControllerReset,
	runtime.EventControllerClosed,
}

// bridge queues bus events and delivers them on its own goroutine. Bus
// handlers run on the publisher's goroutine, which may be the UI's own
// update loop, so they must never block on the UI.
type bridge struct {
	mu    sync.Mutex
	ui    ui.UI
	queue []runtime.Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newBridge(u ui.UI) *bridge {
	return &bridge{
		ui:   u,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (b *bridge) setUI(u ui.UI) {
	b.mu.Lock()
	b.ui = u
	b.mu.Unlock()
}

func (b *bridge) subscribe(bus *runtime.EventBus) {
	for _, t := range forwarded {
		bus.Subscribe(t, b.push)
	}
}

func (b *bridge) push(e runtime.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *bridge) run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		b.mu.Lock()
		events, u := b.queue, b.ui
		b.queue = nil
		b.mu.Unlock()
		for _, e := range events {
			deliver(u, e)
		}
	}
}

func (b *bridge) stop() {
	b.once.Do(func() { close(b.done) })
}

func deliver(u ui.UI, e runtime.Event) {
	switch e.Type {
	case runtime.EventSceneEntered:
		u.UpdateScene(e.Scene)
	case runtime.EventUploadRequired:
		u.UpdateScene(0)
	case runtime.EventControllerClosed:
		u.UpdateStatus("Closed")
	}
	u.Log(describe(e))
}

// describe renders an event as one log line with its data keys sorted.
func describe(e runtime.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Timestamp.Format("15:04:05"), e.Type)
	if e.Scene > 0 {
		fmt.Fprintf(&b, " scene=%d", e.Scene)
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}
