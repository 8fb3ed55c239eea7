package runtime

import (
	"strings"
	"time"

	"github.com/felixgeelhaar/keepsake/internal/gesture"
	"github.com/felixgeelhaar/keepsake/internal/media"
)

// MediaState describes the media of the current scene.
type MediaState string

const (
	MediaNone    MediaState = "none"
	MediaPending MediaState = "pending"
	MediaReady   MediaState = "ready"
	MediaAbsent  MediaState = "absent"
)

// SceneState is the gate bookkeeping for one visit of a scene. It is
// discarded when the scene is left.
type SceneState struct {
	Scene     Scene
	EnteredAt time.Time

	revealed bool
	answer   string
	gesture  *gesture.Gate
}

func newSceneState(s Scene, now time.Time) *SceneState {
	st := &SceneState{Scene: s, EnteredAt: now}
	if s.Gate == GateGesture {
		st.gesture = gesture.New()
	}
	return st
}

// Satisfied reports whether the scene's gate allows leaving it.
func (st *SceneState) Satisfied() bool {
	switch st.Scene.Gate {
	case GateTextReveal:
		return st.revealed
	case GateUserInput:
		return st.answer != ""
	case GateGesture:
		return st.gesture.Committed()
	default:
		return true
	}
}

// reveal marks the text as fully shown. It reports whether the gate changed.
func (st *SceneState) reveal() bool {
	if st.Scene.Gate != GateTextReveal || st.revealed {
		return false
	}
	st.revealed = true
	return true
}

// submit records a non-blank answer. The content is never checked; the
// reply always claims the guess was wrong and the scene moves on.
func (st *SceneState) submit(v string) bool {
	if st.Scene.Gate != GateUserInput || st.answer != "" {
		return false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	st.answer = v
	return true
}

// mediaSlot holds the resolved references of one asset key until the last
// scene that shows it is left.
type mediaSlot struct {
	last  int
	state MediaState
	refs  []media.Reference
}

func (m *mediaSlot) settle(refs []media.Reference) {
	m.refs = refs
	if len(refs) == 0 {
		m.state = MediaAbsent
		return
	}
	m.state = MediaReady
}

func (m *mediaSlot) release() {
	for _, r := range m.refs {
		r.Release()
	}
	m.refs = nil
}

func (m *mediaSlot) urls() []string {
	out := make([]string, 0, len(m.refs))
	for _, r := range m.refs {
		out = append(out, r.URL)
	}
	return out
}
