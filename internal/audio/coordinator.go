// Package audio coordinates the ambient loop and the terminal track.
//
// The Coordinator owns two channel slots. The ambient channel loops under
// every scene; when the terminal scene is entered it fades out on a
// repeating tick while the terminal channel starts on its own.
package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/felixgeelhaar/keepsake/internal/clock"
	"github.com/felixgeelhaar/keepsake/internal/media"
	"github.com/felixgeelhaar/keepsake/internal/observe"
)

// Role identifies a channel slot.
type Role string

const (
	Ambient  Role = "ambient"
	Terminal Role = "terminal"
)

// Options configures a Coordinator. Zero values fall back to DefaultOptions.
type Options struct {
	TerminalScene  int
	AmbientVolume  float64
	TerminalVolume float64
	FadeStep       float64
	FadeInterval   time.Duration
}

// DefaultOptions give a quiet ambient loop that fades
// by 0.02 every 100ms.
var DefaultOptions = Options{
	TerminalScene:  6,
	AmbientVolume:  0.2,
	TerminalVolume: 0.5,
	FadeStep:       0.02,
	FadeInterval:   100 * time.Millisecond,
}

func (o Options) withDefaults() Options {
	if o.TerminalScene <= 0 {
		o.TerminalScene = DefaultOptions.TerminalScene
	}
	if o.AmbientVolume <= 0 {
		o.AmbientVolume = DefaultOptions.AmbientVolume
	}
	if o.TerminalVolume <= 0 {
		o.TerminalVolume = DefaultOptions.TerminalVolume
	}
	if o.FadeStep <= 0 {
		o.FadeStep = DefaultOptions.FadeStep
	}
	if o.FadeInterval <= 0 {
		o.FadeInterval = DefaultOptions.FadeInterval
	}
	return o
}

// ChannelState is a read-only view of one channel.
type ChannelState struct {
	Role    Role
	URL     string
	Volume  float64
	Playing bool
	Blocked bool
}

// State is a snapshot of both slots. Nil means the slot is empty.
type State struct {
	Scene    int
	Ambient  *ChannelState
	Terminal *ChannelState
	Fading   bool
}

// Coordinator drives the ambient and terminal channels from scene changes.
// It is safe for concurrent use; fade ticks may arrive on another goroutine.
type Coordinator struct {
	mu        sync.Mutex
	opts      Options
	device    Device
	scheduler clock.Scheduler
	observe   *observe.Observer

	scene       int
	ambient     *channel
	terminal    *channel
	terminalSrc *media.Reference
	fade        clock.Timer
	fadeGen     int
	closed      bool
}

func NewCoordinator(d Device, s clock.Scheduler, opts Options, obs *observe.Observer) *Coordinator {
	if d == nil {
		d = NewNullDevice()
	}
	if s == nil {
		s = clock.Real{}
	}
	if obs == nil {
		obs = observe.Discard()
	}
	return &Coordinator{
		opts:      opts.withDefaults(),
		device:    d,
		scheduler: s,
		observe:   obs,
	}
}

// SetAmbient installs a new ambient source and starts it looping at the
// ambient volume. Any previous ambient channel is disposed first.
func (c *Coordinator) SetAmbient(ref media.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ref.Release()
		return
	}
	c.stopFade()
	if c.ambient != nil {
		c.ambient.dispose()
		c.ambient = nil
	}

	ch, err := c.open(Ambient, ref)
	if err != nil {
		return
	}
	c.ambient = ch
	if c.scene == c.opts.TerminalScene {
		// arrived too late to be heard; keep it silent
		ch.setVolume(0)
		return
	}
	ch.setVolume(c.opts.AmbientVolume)
	c.start(ch)
}

// SetTerminalSource remembers the terminal track. The channel itself is only
// created once the terminal scene is entered.
func (c *Coordinator) SetTerminalSource(ref media.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ref.Release()
		return
	}
	// an earlier source that never became a channel is dropped
	if c.terminalSrc != nil {
		c.terminalSrc.Release()
	}
	c.terminalSrc = &ref
	if c.scene == c.opts.TerminalScene && c.terminal == nil {
		c.startTerminal()
	}
}

// SceneChanged reacts to a new scene index. It must be called after the
// index update it describes.
func (c *Coordinator) SceneChanged(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || index == c.scene {
		return
	}
	wasTerminal := c.scene == c.opts.TerminalScene
	c.scene = index

	if index == c.opts.TerminalScene {
		c.startFade()
		c.startTerminal()
		return
	}
	if wasTerminal {
		c.stopFade()
		c.stopTerminal()
	}
}

// Interact retries any playback that was blocked by the platform. Call it on
// every qualifying user input.
func (c *Coordinator) Interact() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.ambient != nil && c.ambient.blocked && c.fade == nil && c.scene != c.opts.TerminalScene {
		c.start(c.ambient)
	}
	if c.terminal != nil && c.terminal.blocked {
		c.start(c.terminal)
	}
}

// State returns a snapshot of both channels.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Scene:    c.scene,
		Ambient:  c.ambient.state(),
		Terminal: c.terminal.state(),
		Fading:   c.fade != nil,
	}
}

// Close cancels the fade and disposes both channels.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.stopFade()
	if c.ambient != nil {
		c.ambient.dispose()
		c.ambient = nil
	}
	c.stopTerminal()
}

// open creates a channel for ref. On failure the reference is released.
func (c *Coordinator) open(role Role, ref media.Reference) (*channel, error) {
	track, err := c.device.Open(ref.URL)
	if err != nil {
		c.observe.Log().Warn().Str("role", string(role)).Err(err).Msg("failed to open track")
		ref.Release()
		return nil, err
	}
	return &channel{role: role, ref: ref, track: track}, nil
}

func (c *Coordinator) start(ch *channel) {
	err := ch.play()
	switch {
	case err == nil:
		c.observe.Log().Debug().Str("role", string(ch.role)).Msg("playback started")
	case errors.Is(err, ErrPlaybackBlocked):
		c.observe.Log().Debug().Str("role", string(ch.role)).Msg("playback blocked, waiting for interaction")
	default:
		c.observe.Log().Warn().Str("role", string(ch.role)).Err(err).Msg("playback failed")
	}
}

func (c *Coordinator) startTerminal() {
	if c.terminalSrc == nil {
		return
	}
	if c.terminal != nil {
		c.terminal.dispose()
		c.terminal = nil
	}
	ch, err := c.open(Terminal, *c.terminalSrc)
	c.terminalSrc = nil
	if err != nil {
		return
	}
	c.terminal = ch
	ch.setVolume(c.opts.TerminalVolume)
	c.start(ch)
}

func (c *Coordinator) stopTerminal() {
	if c.terminal != nil {
		c.terminal.dispose()
		c.terminal = nil
	}
	if c.terminalSrc != nil {
		c.terminalSrc.Release()
		c.terminalSrc = nil
	}
}

func (c *Coordinator) startFade() {
	if c.fade != nil || c.ambient == nil {
		return
	}
	c.fadeGen++
	gen := c.fadeGen
	c.fade = c.scheduler.Every(c.opts.FadeInterval, func() { c.fadeTick(gen) })
}

func (c *Coordinator) stopFade() {
	if c.fade != nil {
		c.fade.Stop()
		c.fade = nil
	}
}

func (c *Coordinator) fadeTick(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a tick from a cancelled fade must not touch the current one
	if c.fade == nil || gen != c.fadeGen || c.ambient == nil {
		return
	}
	v := c.ambient.volume - c.opts.FadeStep
	// float steps rarely land on zero exactly
	if v < c.opts.FadeStep/2 {
		v = 0
	}
	c.ambient.setVolume(v)
	if v == 0 {
		c.ambient.pause()
		c.stopFade()
	}
}

type channel struct {
	role    Role
	ref     media.Reference
	track   Track
	volume  float64
	playing bool
	blocked bool
}

func (ch *channel) play() error {
	if err := ch.track.Play(); err != nil {
		ch.blocked = errors.Is(err, ErrPlaybackBlocked)
		ch.playing = false
		return err
	}
	ch.blocked = false
	ch.playing = true
	return nil
}

func (ch *channel) pause() {
	_ = ch.track.Pause()
	ch.playing = false
	ch.blocked = false
}

func (ch *channel) setVolume(v float64) {
	ch.volume = v
	ch.track.SetVolume(v)
}

// dispose closes the track and releases the reference behind it.
func (ch *channel) dispose() {
	_ = ch.track.Close()
	ch.playing = false
	ch.ref.Release()
}

func (ch *channel) state() *ChannelState {
	if ch == nil {
		return nil
	}
	return &ChannelState{
		Role:    ch.role,
		URL:     ch.ref.URL,
		Volume:  ch.volume,
		Playing: ch.playing,
		Blocked: ch.blocked,
	}
}
