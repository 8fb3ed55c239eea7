package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/keepsake/internal/guard"
	"github.com/felixgeelhaar/keepsake/internal/observe"
)

// ErrPlaybackBlocked means the platform refused to start playback. It is
// never fatal: the coordinator retries on the next user interaction.
var ErrPlaybackBlocked = errors.New("playback blocked")

// Device opens looping tracks for URLs or paths.
type Device interface {
	Open(url string) (Track, error)
}

// Track is one looping playback handle.
type Track interface {
	Play() error
	Pause() error
	SetVolume(v float64)
	Close() error
}

// NullDevice plays nothing but keeps track state, which makes it suitable
// for tests and for sessions without an audio player.
type NullDevice struct {
	mu      sync.Mutex
	blocked bool
	tracks  []*NullTrack
}

func NewNullDevice() *NullDevice {
	return &NullDevice{}
}

// SetBlocked makes every Play fail with ErrPlaybackBlocked until cleared.
func (d *NullDevice) SetBlocked(blocked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked = blocked
}

func (d *NullDevice) isBlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocked
}

func (d *NullDevice) Open(url string) (Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &NullTrack{device: d, url: url}
	d.tracks = append(d.tracks, t)
	return t, nil
}

// Tracks returns every track opened so far, in order.
func (d *NullDevice) Tracks() []*NullTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*NullTrack, len(d.tracks))
	copy(out, d.tracks)
	return out
}

// NullTrack records what a real player would have been asked to do.
type NullTrack struct {
	device  *NullDevice
	mu      sync.Mutex
	url     string
	volume  float64
	playing bool
	closed  bool
	plays   int
}

func (t *NullTrack) Play() error {
	if t.device.isBlocked() {
		return ErrPlaybackBlocked
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("track closed")
	}
	t.playing = true
	t.plays++
	return nil
}

func (t *NullTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	return nil
}

func (t *NullTrack) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = v
}

func (t *NullTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	t.closed = true
	return nil
}

func (t *NullTrack) URL() string { return t.url }

func (t *NullTrack) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

func (t *NullTrack) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *NullTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Plays counts successful Play calls.
func (t *NullTrack) Plays() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plays
}

// ExecDevice plays through an external program such as mpv or ffplay. The
// command template may contain {url}, {volume} (0-100) and {ipc}
// placeholders. {ipc} becomes a per-track socket path for mpv's JSON IPC,
// over which later volume changes are sent. Players without IPC keep their
// launch volume. A track whose volume drops to zero is stopped either way.
type ExecDevice struct {
	command []string
	guard   *guard.Guard
	observe *observe.Observer
}

// DefaultPlayerCommand loops a file in mpv without a window and listens for
// volume changes.
var DefaultPlayerCommand = []string{"mpv", "--no-video", "--really-quiet", "--loop=inf", "--volume={volume}", "--input-ipc-server={ipc}", "{url}"}

// ipcTimeout bounds one volume update to a running player.
const ipcTimeout = 200 * time.Millisecond

func NewExecDevice(command []string, g *guard.Guard, obs *observe.Observer) (*ExecDevice, error) {
	if len(command) == 0 {
		command = DefaultPlayerCommand
	}
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	if v := g.CheckPlayer(command[0]); v != nil {
		return nil, v
	}
	if obs == nil {
		obs = observe.Discard()
	}
	return &ExecDevice{command: command, guard: g, observe: obs}, nil
}

func (d *ExecDevice) Open(url string) (Track, error) {
	t := &execTrack{device: d, url: url}
	for _, a := range d.command[1:] {
		if strings.Contains(a, "{ipc}") {
			t.ipc = filepath.Join(os.TempDir(), "keepsake-"+uuid.NewString()+".sock")
			break
		}
	}
	return t, nil
}

type execTrack struct {
	device *ExecDevice
	url    string
	ipc    string

	mu     sync.Mutex
	volume float64
	cancel context.CancelFunc
	conn   net.Conn
	closed bool
}

func percent(v float64) int {
	return int(v*100 + 0.5)
}

func (t *execTrack) args() []string {
	vol := strconv.Itoa(percent(t.volume))
	args := make([]string, 0, len(t.device.command)-1)
	for _, a := range t.device.command[1:] {
		a = strings.ReplaceAll(a, "{url}", t.url)
		a = strings.ReplaceAll(a, "{volume}", vol)
		a = strings.ReplaceAll(a, "{ipc}", t.ipc)
		args = append(args, a)
	}
	return args
}

type ipcCommand struct {
	Command []interface{} `json:"command"`
}

// sendVolume pushes the current volume to a running player. Failures are
// logged and retried on the next change; the player may not have opened its
// socket yet.
func (t *execTrack) sendVolume() {
	if t.ipc == "" || t.cancel == nil {
		return
	}
	if t.conn == nil {
		conn, err := net.DialTimeout("unix", t.ipc, ipcTimeout)
		if err != nil {
			t.device.observe.Log().Debug().Str("url", t.url).Err(err).Msg("player ipc not ready")
			return
		}
		t.conn = conn
	}
	line, err := json.Marshal(ipcCommand{Command: []interface{}{"set_property", "volume", percent(t.volume)}})
	if err != nil {
		return
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(ipcTimeout))
	if _, err := t.conn.Write(append(line, '\n')); err != nil {
		t.device.observe.Log().Warn().Str("url", t.url).Err(err).Msg("player volume update failed")
		t.closeConn()
	}
}

func (t *execTrack) closeConn() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *execTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("track closed")
	}
	if t.cancel != nil {
		return nil
	}

	path, err := exec.LookPath(t.device.command[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlaybackBlocked, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, t.args()...) // #nosec G204 -- command checked by guard
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrPlaybackBlocked, err)
	}
	t.cancel = cancel
	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			t.device.observe.Log().Warn().Str("url", t.url).Err(err).Msg("player exited")
		}
	}()
	return nil
}

func (t *execTrack) stop() {
	t.closeConn()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *execTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
	return nil
}

func (t *execTrack) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = v
	if v <= 0 {
		t.stop()
		return
	}
	t.sendVolume()
}

func (t *execTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
	t.closed = true
	return nil
}
