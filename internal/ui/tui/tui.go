package tui

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/keepsake/internal/gesture"
	"github.com/felixgeelhaar/keepsake/internal/runtime"
)

// ConfettiWindow is how long the celebration shows after the cake is cut.
const ConfettiWindow = 5 * time.Second

// The cake is drawn cakeRows high starting at cakeTopRow. Each row counts as
// rowHeight virtual pixels, so a 176px cake maps onto eight terminal rows.
const (
	cakeTopRow = 4
	cakeRows   = 8
	rowHeight  = runtime.DefaultKnifeLimit / cakeRows
)

var cakeBounds = gesture.Bounds{Top: 0, Height: runtime.DefaultKnifeLimit}

// Controller is the part of the narrative controller the TUI drives.
type Controller interface {
	Start(ctx context.Context) error
	UploadComplete(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot() runtime.View
	Scenes() []runtime.Scene
	RevealComplete()
	Submit(value string) bool
	GestureStart(y float64, b gesture.Bounds) bool
	GestureMove(y float64)
	GestureEnd(b gesture.Bounds) bool
	Advance() bool
}

// TUI forwards runner updates into a running program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) UpdateScene(index int) {
	t.program.Send(SceneMsg(index))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#E0607E")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F5E6EA"))

	replyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7AA2F7"))

	hintStyle = lipgloss.NewStyle().
			Faint(true)

	confettiStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFD166"))
)

type Model struct {
	Controller Controller
	Title      string
	Status     string
	Log        []string
	Progress   progress.Model
	Viewport   viewport.Model
	Input      textinput.Model
	Quitting   bool
	Ready      bool
	Width      int
	Height     int

	// Revealed counts the runes of the current scene text shown so far.
	Revealed    int
	Celebrating bool

	// Lyrics scrolls the closing scene's lyrics.
	Lyrics viewport.Model

	entered    time.Time
	enteredIdx int
	revealGen  int
	dragging   bool
	dragY      float64
}

type LogMsg string
type StatusMsg string
type SceneMsg int

type revealTickMsg struct{ gen int }
type confettiDoneMsg struct{}
type errMsg struct{ err error }

func NewModel(title string, c Controller) Model {
	ti := textinput.New()
	ti.Placeholder = "Your guess..."
	ti.CharLimit = 80
	return Model{
		Controller: c,
		Title:      title,
		Status:     "Initializing...",
		Progress:   progress.New(progress.WithDefaultGradient()),
		Input:      ti,
		Lyrics:     viewport.New(60, 8),
	}
}

func lyricsHeight(height int) int {
	return min(max(height-20, 4), 16)
}

func (m Model) Init() tea.Cmd {
	c := m.Controller
	return func() tea.Msg {
		if err := c.Start(context.Background()); err != nil {
			return errMsg{err}
		}
		return SceneMsg(c.Snapshot().Index)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			m.Quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m, cmd = m.handleKey(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m, cmd = m.handleMouse(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, max(msg.Height-10, 3))
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = max(msg.Height-10, 3)
		}
		m.Progress.Width = max(msg.Width-4, 10)
		m.Lyrics.Width = max(msg.Width-4, 20)
		m.Lyrics.Height = lyricsHeight(msg.Height)

	case SceneMsg:
		cmds = append(cmds, m.enterScene(int(msg)))

	case revealTickMsg:
		if msg.gen == m.revealGen {
			cmds = append(cmds, m.revealStep())
		}

	case confettiDoneMsg:
		m.Celebrating = false

	case LogMsg:
		m.Log = append(m.Log, string(msg))
		m.Viewport.SetContent(strings.Join(m.Log, "\n"))
		m.Viewport.GotoBottom()

	case StatusMsg:
		m.Status = string(msg)

	case errMsg:
		m.Status = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// enterScene resets per-scene presentation state and starts the reveal for
// text scenes.
func (m *Model) enterScene(index int) tea.Cmd {
	v := m.Controller.Snapshot()
	if v.Index != index || (v.Index > 0 && v.Index == m.enteredIdx && v.EnteredAt.Equal(m.entered)) {
		// stale, or this visit was already set up
		return nil
	}
	m.entered, m.enteredIdx = v.EnteredAt, v.Index
	m.revealGen++
	m.Revealed = 0
	m.dragging = false
	m.Input.Reset()
	m.Input.Blur()
	if v.Scene.Lyrics != "" {
		m.Lyrics.SetContent(v.Scene.Lyrics)
		m.Lyrics.GotoTop()
	}

	switch v.Phase {
	case runtime.PhaseAwaitingUpload:
		m.Status = "Waiting for media"
		return nil
	case runtime.PhaseInScene:
		m.Status = fmt.Sprintf("Scene %d of %d", v.Index, len(m.Controller.Scenes()))
	}

	switch v.Scene.Gate {
	case runtime.GateTextReveal:
		return m.revealTick(v.Scene.RevealSpeed)
	case runtime.GateUserInput:
		return m.Input.Focus()
	}
	return nil
}

func (m *Model) revealTick(speed time.Duration) tea.Cmd {
	if speed <= 0 {
		speed = 35 * time.Millisecond
	}
	gen := m.revealGen
	return tea.Tick(speed, func(time.Time) tea.Msg { return revealTickMsg{gen: gen} })
}

// revealStep shows one more rune and reports completion at the end.
func (m *Model) revealStep() tea.Cmd {
	v := m.Controller.Snapshot()
	total := len([]rune(v.Scene.Text))
	if m.Revealed >= total {
		return nil
	}
	m.Revealed++
	if m.Revealed == total {
		m.Controller.RevealComplete()
		return nil
	}
	return m.revealTick(v.Scene.RevealSpeed)
}

// finishReveal skips the typewriter to the end.
func (m *Model) finishReveal() {
	v := m.Controller.Snapshot()
	m.revealGen++
	m.Revealed = len([]rune(v.Scene.Text))
	m.Controller.RevealComplete()
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	v := m.Controller.Snapshot()
	key := msg.String()

	if v.Phase == runtime.PhaseAwaitingUpload {
		switch key {
		case "r":
			c := m.Controller
			return m, func() tea.Msg {
				if err := c.UploadComplete(context.Background()); err != nil {
					return StatusMsg("Still waiting for media: " + err.Error())
				}
				return SceneMsg(c.Snapshot().Index)
			}
		case "q":
			m.Quitting = true
			return m, tea.Quit
		}
		return m, nil
	}
	if v.Phase != runtime.PhaseInScene {
		return m, nil
	}

	if v.Scene.Gate == runtime.GateUserInput && v.Answer == "" {
		if msg.Type == tea.KeyEnter {
			if m.Controller.Submit(m.Input.Value()) {
				m.Input.Blur()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.Input, cmd = m.Input.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		m.Quitting = true
		return m, tea.Quit
	case "ctrl+r":
		c := m.Controller
		return m, func() tea.Msg {
			if err := c.Reset(context.Background()); err != nil {
				return errMsg{err}
			}
			return SceneMsg(c.Snapshot().Index)
		}
	}

	if v.Scene.Lyrics != "" {
		switch key {
		case "up", "down", "k", "j", "pgup", "pgdown":
			var cmd tea.Cmd
			m.Lyrics, cmd = m.Lyrics.Update(msg)
			return m, cmd
		}
	}

	switch v.Scene.Gate {
	case runtime.GateTextReveal:
		if !v.GateSatisfied && (key == "enter" || key == " ") {
			m.finishReveal()
			return m, nil
		}
	case runtime.GateGesture:
		if !v.GateSatisfied {
			return m.keyboardDrag(key)
		}
	}

	if key == "enter" || key == " " || key == "right" || key == "n" {
		m.Controller.Advance()
	}
	return m, nil
}

// keyboardDrag lets down/j drag the knife one row at a time; enter or space
// releases it.
func (m Model) keyboardDrag(key string) (Model, tea.Cmd) {
	switch key {
	case "down", "j":
		if !m.dragging {
			if !m.Controller.GestureStart(0, cakeBounds) {
				return m, nil
			}
			m.dragging = true
			m.dragY = 0
		}
		m.dragY += rowHeight
		m.Controller.GestureMove(m.dragY)
	case "enter", " ":
		if m.dragging {
			return m.release()
		}
	}
	return m, nil
}

// handleMouse turns left-button drags over the cake into gesture events.
func (m Model) handleMouse(msg tea.MouseMsg) (Model, tea.Cmd) {
	v := m.Controller.Snapshot()
	if v.Phase != runtime.PhaseInScene || v.Scene.Gate != runtime.GateGesture || v.GateSatisfied {
		return m, nil
	}
	y := float64(msg.Y-cakeTopRow) * rowHeight

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button == tea.MouseButtonLeft && m.Controller.GestureStart(y, cakeBounds) {
			m.dragging = true
			m.dragY = y
		}
	case tea.MouseActionMotion:
		if m.dragging {
			m.dragY = y
			m.Controller.GestureMove(y)
		}
	case tea.MouseActionRelease:
		if m.dragging {
			return m.release()
		}
	}
	return m, nil
}

func (m Model) release() (Model, tea.Cmd) {
	m.dragging = false
	if !m.Controller.GestureEnd(cakeBounds) {
		return m, nil
	}
	m.Celebrating = true
	return m, tea.Tick(ConfettiWindow, func(time.Time) tea.Msg { return confettiDoneMsg{} })
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	v := m.Controller.Snapshot()
	total := len(m.Controller.Scenes())

	header := titleStyle.Render(" "+m.Title+" ") + infoStyle.Render(fmt.Sprintf(" %s ", m.Status))
	var body string
	switch {
	case v.Phase == runtime.PhaseLoading:
		body = "Loading..."
	case v.Phase == runtime.PhaseAwaitingUpload:
		body = errorStyle.Render("No media has been uploaded yet.") + "\n\n" +
			"Run `keepsake upload --ambient ... --terminal ... --photo ... --gallery ...`\n" +
			hintStyle.Render("then press r to continue, q to quit")
	case v.Transitioning:
		// outgoing scene is hidden for the whole transition
		body = hintStyle.Render("...")
	default:
		body = m.sceneView(v)
	}

	prog := m.Progress.ViewAs(float64(v.Index) / float64(max(total, 1)))
	view := fmt.Sprintf("%s\n\n%s\n\n%s", header, body, prog)

	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}

// sceneView renders the current scene by gate kind.
func (m Model) sceneView(v runtime.View) string {
	s := v.Scene
	var b strings.Builder

	switch s.Gate {
	case runtime.GateTextReveal:
		runes := []rune(s.Text)
		n := min(m.Revealed, len(runes))
		if v.GateSatisfied {
			n = len(runes)
		}
		b.WriteString(textStyle.Width(max(m.Width-4, 20)).Render(string(runes[:n])))

	case runtime.GateUserInput:
		b.WriteString(textStyle.Render(s.Prompt))
		b.WriteString("\n\n")
		if v.Answer == "" {
			b.WriteString(m.Input.View())
			break
		}
		b.WriteString(replyStyle.Render(s.Reply))
		b.WriteString("\n")
		b.WriteString(mediaLine(v, "photo"))

	case runtime.GateGesture:
		// keep the cake at cakeTopRow: header, blank, this line, blank
		b.WriteString(textStyle.Render(s.Text))
		b.WriteString("\n\n")
		b.WriteString(cakeView(v.GestureProgress, v.GateSatisfied))
		if m.Celebrating {
			b.WriteString("\n" + confettiStyle.Render("* . * Happy birthday! * . *"))
		}

	default:
		b.WriteString(textStyle.Render(s.Text))
		if s.Media != nil {
			b.WriteString("\n\n")
			b.WriteString(mediaLine(v, "photos"))
		}
		if s.Note != "" {
			b.WriteString("\n\n" + hintStyle.Width(max(m.Width-4, 20)).Render(s.Note))
		}
		if s.Lyrics != "" {
			b.WriteString("\n\n" + replyStyle.Render("Lyrics for you"))
			b.WriteString("\n" + m.Lyrics.View())
			b.WriteString("\n" + hintStyle.Render(fmt.Sprintf("up/down to scroll  %3.f%%", m.Lyrics.ScrollPercent()*100)))
		}
		if s.Terminal {
			b.WriteString("\n\n" + hintStyle.Render("With all my love."))
		}
	}

	if v.CanAdvance {
		b.WriteString("\n\n" + hintStyle.Render("press enter to continue"))
	} else if s.Gate == runtime.GateGesture && !v.GateSatisfied {
		b.WriteString("\n\n" + hintStyle.Render("drag down through the cake, or hold down and press enter"))
	}
	return b.String()
}

func mediaLine(v runtime.View, what string) string {
	switch v.Media {
	case runtime.MediaPending:
		return hintStyle.Render("loading " + what + "...")
	case runtime.MediaReady:
		if v.MediaURL != "" {
			return "[photo] " + v.MediaURL
		}
		lines := make([]string, 0, len(v.MediaURLs))
		for i, u := range v.MediaURLs {
			lines = append(lines, fmt.Sprintf("[%d] %s", i+1, path.Base(u)))
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

// cakeView draws the cake with the knife down to progress.
func cakeView(progress float64, cut bool) string {
	depth := int(progress / rowHeight)
	lines := make([]string, 0, cakeRows)
	for row := 0; row < cakeRows; row++ {
		knife := " "
		if row < depth {
			knife = "|"
		}
		layer := "~~~~~~~~"
		if row > 1 {
			layer = "########"
		}
		if cut && row > 1 {
			lines = append(lines, layer+"  "+layer)
			continue
		}
		lines = append(lines, layer+knife+knife+layer)
	}
	return strings.Join(lines, "\n")
}
