package tui

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"trance-studio/pattern"
	"trance-studio/sequencer"
	"trance-studio/studio"
	"trance-studio/theme"
)

type idleTransport struct{ tempo float64 }

func (t *idleTransport) Start(time.Duration)                    {}
func (t *idleTransport) Stop()                                  {}
func (t *idleTransport) Cancel()                                {}
func (t *idleTransport) SetTempo(bpm float64)                   { t.tempo = bpm }
func (t *idleTransport) RampTempo(bpm float64, _ time.Duration) { t.tempo = bpm }
func (t *idleTransport) Tempo() float64                         { return t.tempo }

type idleSequence struct{}

func (idleSequence) Start()   {}
func (idleSequence) Stop()    {}
func (idleSequence) Dispose() {}

type idleEngine struct {
	initErr   error
	transport idleTransport
}

func (e *idleEngine) Init(context.Context) error               { return e.initErr }
func (e *idleEngine) Transport() sequencer.Transport           { return &e.transport }
func (e *idleEngine) Voice(pattern.Instrument) sequencer.Voice { return nil }
func (e *idleEngine) Close() error                             { return nil }
func (e *idleEngine) NewSequence(sequencer.Subdivision, int, sequencer.TickFunc) sequencer.Sequence {
	return idleSequence{}
}

func newModel(t *testing.T, engine sequencer.Engine) Model {
	t.Helper()
	s := studio.New(engine, studio.Options{Rand: rand.New(rand.NewSource(1))})
	t.Cleanup(func() { s.Close() })
	return NewModel(s, theme.Default())
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(Model)
	}
	return m, cmd
}

func TestCursorMovement(t *testing.T) {
	m := newModel(t, &idleEngine{})

	tests := []struct {
		name        string
		keys        []tea.Msg
		track, step int
	}{
		{"right", []tea.Msg{runes("l")}, 0, 1},
		{"wrap left", []tea.Msg{tea.KeyMsg{Type: tea.KeyLeft}}, 0, 15},
		{"down", []tea.Msg{runes("j"), tea.KeyMsg{Type: tea.KeyDown}}, 2, 0},
		{"wrap up", []tea.Msg{runes("k")}, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := press(t, m, tt.keys...)
			if got.track != tt.track || got.step != tt.step {
				t.Errorf("cursor = (%d,%d), want (%d,%d)", got.track, got.step, tt.track, tt.step)
			}
		})
	}
}

func TestEditKeys(t *testing.T) {
	m := newModel(t, &idleEngine{})

	m, _ = press(t, m, runes("l"), tea.KeyMsg{Type: tea.KeySpace})
	if on, _ := m.Studio.Snapshot().Get(pattern.Kick, 1); !on {
		t.Error("space did not toggle kick step 1")
	}

	m, _ = press(t, m, runes("c"))
	if m.Studio.Snapshot() != pattern.Clear() {
		t.Error("c did not clear")
	}
	m, _ = press(t, m, runes("d"))
	if m.Studio.Snapshot() != pattern.Preset() {
		t.Error("d did not load the preset")
	}

	before := m.Studio.Snapshot()
	m, _ = press(t, m, runes("r"))
	kick, _ := m.Studio.Snapshot().Pattern(pattern.Kick)
	want, _ := before.Pattern(pattern.Kick)
	if kick != want {
		t.Error("r changed the kick track")
	}

	m, _ = press(t, m, runes("+"), runes("+"), runes("-"))
	if got := m.Studio.Status().Tempo; got != 139 {
		t.Errorf("tempo = %d, want 139", got)
	}
}

func TestPlayKeyRunsAsCommand(t *testing.T) {
	m := newModel(t, &idleEngine{})

	m, cmd := press(t, m, runes("p"))
	if cmd == nil {
		t.Fatal("p returned no command")
	}
	if m.Studio.Status().Running {
		t.Fatal("playback started inside Update")
	}
	m, _ = press(t, m, cmd())
	if !m.Studio.Status().Running {
		t.Error("not running after play command")
	}

	m, _ = press(t, m, PlayheadMsg{Step: 3})
	if m.playhead != 3 {
		t.Errorf("playhead = %d", m.playhead)
	}
	if !strings.Contains(m.View(), "step:04") {
		t.Error("header does not show the playhead")
	}

	m, cmd = press(t, m, runes("p"))
	m, _ = press(t, m, cmd())
	if m.playhead != sequencer.NoStep {
		t.Errorf("playhead after stop = %d", m.playhead)
	}
}

func TestPlayFailureShownInStatus(t *testing.T) {
	m := newModel(t, &idleEngine{initErr: errors.New("no port")})

	m, cmd := press(t, m, runes("p"))
	m, _ = press(t, m, cmd())
	if !strings.Contains(m.status, "no port") {
		t.Errorf("status = %q", m.status)
	}
	if !strings.Contains(m.View(), "playback unavailable") {
		t.Error("view does not show the engine failure")
	}
}

func TestQuitStops(t *testing.T) {
	m := newModel(t, &idleEngine{})
	m.Studio.Play(context.Background())

	m, cmd := press(t, m, runes("q"))
	if cmd == nil {
		t.Fatal("no quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
	if m.Studio.Status().Running {
		t.Error("still running after quit")
	}
}

func TestCellAt(t *testing.T) {
	col := func(step int) int {
		return labelWidth + 1 + step*2 + (step/beatSize)*2
	}

	tests := []struct {
		x, y        int
		track, step int
		ok          bool
	}{
		{col(0), gridTop, 0, 0, true},
		{col(5), gridTop + 1, 1, 5, true},
		{col(15), gridTop + 3, 3, 15, true},
		{col(3) + 2, gridTop, 0, 0, false}, // beat bar
		{col(0) + 1, gridTop, 0, 0, false}, // gap
		{col(0), gridTop - 1, 0, 0, false},
		{col(0), gridTop + 4, 0, 0, false},
		{2, gridTop, 0, 0, false},
	}
	for _, tt := range tests {
		track, step, ok := cellAt(tt.x, tt.y)
		if ok != tt.ok || (ok && (track != tt.track || step != tt.step)) {
			t.Errorf("cellAt(%d,%d) = %d,%d,%v", tt.x, tt.y, track, step, ok)
		}
	}
}

func TestMouseToggle(t *testing.T) {
	m := newModel(t, &idleEngine{})
	click := tea.MouseMsg{
		X:      labelWidth + 1 + 2*2,
		Y:      gridTop + 1,
		Action: tea.MouseActionPress,
		Button: tea.MouseButtonLeft,
	}
	m, _ = press(t, m, click)
	if on, _ := m.Studio.Snapshot().Get(pattern.Bass, 2); on {
		t.Error("bass step 2 still on after click")
	}
	if m.track != 1 || m.step != 2 {
		t.Errorf("cursor = (%d,%d)", m.track, m.step)
	}
}

func TestViewShowsGridAndTips(t *testing.T) {
	m := newModel(t, &idleEngine{})
	view := m.View()
	for _, want := range []string{"trance-studio", "STOP", "138bpm", "Kick", "Lead", "bright main melody"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "Structure:") {
		t.Error("tips shown before ?")
	}

	m, _ = press(t, m, runes("?"))
	if !strings.Contains(m.View(), "Structure:") {
		t.Error("tips hidden after ?")
	}
}
