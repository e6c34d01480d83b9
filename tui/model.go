package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trance-studio/pattern"
	"trance-studio/sequencer"
	"trance-studio/studio"
	"trance-studio/theme"
	"trance-studio/widgets"
)

// playTimeout bounds engine start from the UI
const playTimeout = 10 * time.Second

// Grid geometry used by the mouse hit test
const (
	labelWidth = 6
	beatSize   = 4
	gridTop    = 4 // blank, header, blank, ruler
)

var tips = []struct{ title, text string }{
	{"Structure", "Keep the kick steady as the rhythmic base, then add bass and pad for lift and melodic space."},
	{"Rhythm", "Trance usually sits between 130 and 140 BPM. Try bringing in a new chord or melody every four beats."},
	{"Sound", "A saw or triangle wave suits the lead; delay and reverb on the synth build texture."},
	{"Use", "Record what you build and grow the ideas into full tracks."},
}

type Model struct {
	Studio *studio.Studio
	Theme  *theme.Theme

	keys     keyMap
	help     help.Model
	track    int // cursor
	step     int
	playhead int
	status   string
	quitting bool
}

// UpdateMsg reports a studio change
type UpdateMsg struct{}

// StepMsg is a step the transport has scheduled
type StepMsg sequencer.StepEvent

// PlayheadMsg moves the highlight once the step actually sounds
type PlayheadMsg struct{ Step int }

type playResultMsg struct{ err error }

func NewModel(s *studio.Studio, th *theme.Theme) Model {
	h := help.New()
	h.Styles.ShortKey = lipgloss.NewStyle().Foreground(th.Accent())
	h.Styles.ShortDesc = lipgloss.NewStyle().Foreground(th.Muted())
	h.Styles.FullKey = h.Styles.ShortKey
	h.Styles.FullDesc = h.Styles.ShortDesc
	return Model{
		Studio:   s,
		Theme:    th,
		keys:     defaultKeyMap(),
		help:     h,
		playhead: sequencer.NoStep,
	}
}

func ListenForUpdates(s *studio.Studio) tea.Cmd {
	return func() tea.Msg {
		<-s.Updates()
		return UpdateMsg{}
	}
}

func ListenForSteps(s *studio.Studio) tea.Cmd {
	return func() tea.Msg {
		return StepMsg(<-s.Steps())
	}
}

// highlightAt delays the playhead until the step's scheduled time
func highlightAt(ev StepMsg) tea.Cmd {
	return tea.Tick(time.Until(ev.At), func(time.Time) tea.Msg {
		return PlayheadMsg{Step: ev.Step}
	})
}

func togglePlayback(s *studio.Studio) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		return playResultMsg{err: s.TogglePlayback(ctx)}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForUpdates(m.Studio),
		ListenForSteps(m.Studio),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			if track, step, ok := cellAt(msg.X, msg.Y); ok {
				m.track, m.step = track, step
				m.toggle()
			}
		}

	case UpdateMsg:
		if !m.Studio.Status().Running {
			m.playhead = sequencer.NoStep
		}
		return m, ListenForUpdates(m.Studio)

	case StepMsg:
		return m, tea.Batch(highlightAt(msg), ListenForSteps(m.Studio))

	case PlayheadMsg:
		if m.Studio.Status().Running {
			m.playhead = msg.Step
		}

	case playResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("playback unavailable: %v", msg.err)
		} else {
			m.status = ""
		}
		if !m.Studio.Status().Running {
			m.playhead = sequencer.NoStep
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	insts := pattern.Instruments()

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.Studio.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.track = (m.track + len(insts) - 1) % len(insts)
	case key.Matches(msg, m.keys.Down):
		m.track = (m.track + 1) % len(insts)
	case key.Matches(msg, m.keys.Left):
		m.step = (m.step + pattern.Steps - 1) % pattern.Steps
	case key.Matches(msg, m.keys.Right):
		m.step = (m.step + 1) % pattern.Steps

	case key.Matches(msg, m.keys.Toggle):
		m.toggle()
	case key.Matches(msg, m.keys.Play):
		return m, togglePlayback(m.Studio)
	case key.Matches(msg, m.keys.Faster):
		m.Studio.Nudge(studio.TempoStep)
	case key.Matches(msg, m.keys.Slower):
		m.Studio.Nudge(-studio.TempoStep)
	case key.Matches(msg, m.keys.Preset):
		m.Studio.LoadPreset()
	case key.Matches(msg, m.keys.Clear):
		m.Studio.Clear()
	case key.Matches(msg, m.keys.RandLead):
		m.Studio.RandomizeLead()
	case key.Matches(msg, m.keys.RandTrack):
		m.Studio.Randomize(insts[m.track])
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *Model) toggle() {
	inst := pattern.Instruments()[m.track]
	if err := m.Studio.Toggle(inst, m.step); err != nil {
		m.status = err.Error()
	}
}

// cellAt maps a terminal position to a grid cell
func cellAt(x, y int) (track, step int, ok bool) {
	track = y - gridTop
	if track < 0 || track >= len(pattern.Instruments()) {
		return 0, 0, false
	}
	x -= labelWidth + 1
	if x < 0 {
		return 0, 0, false
	}
	// each beat is beatSize cells two columns apart plus a 2-column bar
	beatWidth := beatSize*2 + 2
	beat, rem := x/beatWidth, x%beatWidth
	if rem%2 != 0 || rem >= beatSize*2 {
		return 0, 0, false
	}
	step = beat*beatSize + rem/2
	if step >= pattern.Steps {
		return 0, 0, false
	}
	return track, step, true
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.Studio.Status()
	set := m.Studio.Snapshot()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent()).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	playState := "STOP"
	if st.Running {
		playState = "PLAY"
	}
	step := "--"
	if m.playhead >= 0 {
		step = fmt.Sprintf("%02d", m.playhead+1)
	}
	deviceStatus := ""
	if m.Studio.Controller() != nil {
		deviceStatus = "  LP:X"
	}
	header := headerStyle.Render(fmt.Sprintf("trance-studio  %s  %3dbpm  step:%s  engine:%s%s",
		playState, st.Tempo, step, st.Engine, deviceStatus))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(strings.Repeat(" ", labelWidth+1))
	out.WriteString(widgets.RenderStepRuler(pattern.Steps, beatSize, m.Theme.Muted()))
	out.WriteString("\n")

	for track, inst := range pattern.Instruments() {
		out.WriteString(m.renderTrack(set, track, inst))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	for _, inst := range pattern.Instruments() {
		info, _ := pattern.Info(inst)
		out.WriteString(widgets.RenderLegendItem(m.Theme.InstrumentColor(inst), info.Name, info.Description))
		out.WriteString("\n")
	}

	if m.help.ShowAll {
		out.WriteString("\n")
		for _, tip := range tips {
			out.WriteString(dimStyle.Render(fmt.Sprintf("  %s: %s", tip.title, tip.text)))
			out.WriteString("\n")
		}
	}

	out.WriteString("\n")
	out.WriteString(m.help.View(m.keys))

	if m.status != "" {
		out.WriteString("\n")
		out.WriteString(warnStyle.Render(m.status))
	}
	return out.String()
}

func (m Model) renderTrack(set pattern.Set, track int, inst pattern.Instrument) string {
	info, _ := pattern.Info(inst)
	p, _ := set.Pattern(inst)
	sym := m.Theme.Symbols
	color := m.Theme.InstrumentColor(inst)

	cells := make([]widgets.Cell, pattern.Steps)
	for i, on := range p {
		c := widgets.Cell{Symbol: sym.StepEmpty, Color: m.Theme.Muted()}
		if on {
			c = widgets.Cell{Symbol: sym.StepActive, Color: color}
		}
		if i == m.playhead {
			c.Bold = true
			if on {
				c.Color = m.Theme.Success()
			} else {
				c.Symbol = sym.StepPlayhead
			}
		}
		if track == m.track && i == m.step {
			c.Symbol = sym.CursorEmpty
			if on {
				c.Symbol = sym.CursorActive
			}
			c.Color = m.Theme.Cursor()
		}
		cells[i] = c
	}

	label := lipgloss.NewStyle().Foreground(color).Width(labelWidth).Render(info.Name)
	return label + " " + widgets.RenderStepRow(cells, beatSize, m.Theme.Surface())
}
