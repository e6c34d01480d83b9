package studio

import (
	"context"
	"sync"
	"time"

	"trance-studio/debug"
	"trance-studio/midi"
	"trance-studio/pattern"
	"trance-studio/sequencer"
	"trance-studio/theme"
)

const ledFPS = 30

// playTimeout bounds an engine start triggered from the grid
const playTimeout = 10 * time.Second

// Top row buttons
const (
	padPlay = iota
	padPreset
	padClear
	padRandomLead
	_
	_
	padTempoDown
	padTempoUp
)

var (
	ledOff      = [3]uint8{0, 0, 0}
	ledPlayhead = [3]uint8{255, 255, 255}
)

// Grid layout: each track takes two rows, steps 0-7 on the upper row and
// 8-15 below it, kick at the top. The scene button beside a track's upper
// row randomizes that track.

// padStep maps a grid pad to a track step
func padStep(row, col int) (pattern.Instrument, int, bool) {
	if row < 0 || row >= midi.GridRows || col < 0 || col >= midi.GridCols {
		return "", 0, false
	}
	fromTop := midi.GridRows - 1 - row
	track := fromTop / 2
	insts := pattern.Instruments()
	if track >= len(insts) {
		return "", 0, false
	}
	return insts[track], (fromTop%2)*midi.GridCols + col, true
}

// stepPad maps a track step to its grid pad
func stepPad(track, step int) (row, col int) {
	fromTop := track*2 + step/midi.GridCols
	return midi.GridRows - 1 - fromTop, step % midi.GridCols
}

// sceneTrack maps a scene button to the track it randomizes
func sceneTrack(row int) (pattern.Instrument, bool) {
	fromTop := midi.GridRows - 1 - row
	if fromTop%2 != 0 {
		return "", false
	}
	insts := pattern.Instruments()
	if track := fromTop / 2; track < len(insts) {
		return insts[track], true
	}
	return "", false
}

// renderLEDs draws one full frame of the grid controller
func renderLEDs(set pattern.Set, st sequencer.Status, th *theme.Theme) []midi.LEDUpdate {
	var leds []midi.LEDUpdate
	add := func(row, col int, color [3]uint8) {
		leds = append(leds, midi.LEDUpdate{Row: row, Col: col, Color: color})
	}

	for track, inst := range pattern.Instruments() {
		p, _ := set.Pattern(inst)
		lit := th.Instrument(inst)
		dim := lit.Scale(0.12)

		for step, on := range p {
			row, col := stepPad(track, step)
			switch {
			case st.Running && step == st.Step:
				if on {
					add(row, col, ledPlayhead)
				} else {
					add(row, col, [3]uint8(dim.Scale(3)))
				}
			case on:
				add(row, col, [3]uint8(lit))
			default:
				add(row, col, [3]uint8(dim))
			}
		}
		row, _ := stepPad(track, 0)
		add(row, midi.SceneCol, [3]uint8(lit.Scale(0.5)))
		add(row-1, midi.SceneCol, ledOff)
	}

	play := th.RGB(theme.RoleMuted)
	if st.Running {
		play = th.RGB(theme.RoleSuccess)
	}
	add(midi.TopRow, padPlay, [3]uint8(play))
	add(midi.TopRow, padPreset, [3]uint8(th.RGB(theme.RoleAccent)))
	add(midi.TopRow, padClear, [3]uint8(th.RGB(theme.RoleWarning)))
	add(midi.TopRow, padRandomLead, [3]uint8(th.Instrument(pattern.Lead)))
	add(midi.TopRow, padTempoDown, [3]uint8(th.RGB(theme.RoleFG)))
	add(midi.TopRow, padTempoUp, [3]uint8(th.RGB(theme.RoleFG)))
	return leds
}

// diffLEDs returns the updates that turn prev into next and records next in prev
func diffLEDs(prev map[[2]int]midi.LEDUpdate, next []midi.LEDUpdate) []midi.LEDUpdate {
	var updates []midi.LEDUpdate
	seen := make(map[[2]int]bool, len(next))

	for _, led := range next {
		key := [2]int{led.Row, led.Col}
		seen[key] = true
		if old, ok := prev[key]; !ok || old != led {
			updates = append(updates, led)
			prev[key] = led
		}
	}
	for key := range prev {
		if !seen[key] {
			updates = append(updates, midi.LEDUpdate{Row: key[0], Col: key[1], Color: ledOff})
			delete(prev, key)
		}
	}
	return updates
}

// HandlePad applies a pad press from the grid controller
func (s *Studio) HandlePad(row, col int) {
	if inst, step, ok := padStep(row, col); ok {
		if err := s.Toggle(inst, step); err != nil {
			debug.Log("pad", "toggle: %v", err)
		}
		return
	}

	if col == midi.SceneCol {
		if inst, ok := sceneTrack(row); ok {
			s.Randomize(inst)
		}
		return
	}
	if row != midi.TopRow {
		return
	}

	switch col {
	case padPlay:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
			defer cancel()
			if err := s.TogglePlayback(ctx); err != nil {
				debug.Log("pad", "play: %v", err)
			}
		}()
	case padPreset:
		s.LoadPreset()
	case padClear:
		s.Clear()
	case padRandomLead:
		s.RandomizeLead()
	case padTempoDown:
		s.Nudge(-TempoStep)
	case padTempoUp:
		s.Nudge(TempoStep)
	}
}

// controllerLink is one attached controller and its goroutines
type controllerLink struct {
	ctrl midi.Controller
	stop chan struct{}
	wg   sync.WaitGroup
}

// SetController mirrors the pattern on c and takes pad presses from it.
// nil detaches the current controller.
func (s *Studio) SetController(c midi.Controller) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	if old := s.link; old != nil {
		close(old.stop)
		old.wg.Wait()
		s.link = nil
		debug.Log("ctrl", "detached %s", old.ctrl.ID())
	}
	if c != nil {
		link := &controllerLink{ctrl: c, stop: make(chan struct{})}
		link.wg.Add(2)
		go s.ledLoop(link)
		go s.padLoop(link)
		s.link = link
		debug.Log("ctrl", "attached %s", c.ID())
	}
	s.notify()
}

// Controller returns the attached grid controller, or nil
func (s *Studio) Controller() midi.Controller {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	if s.link == nil {
		return nil
	}
	return s.link.ctrl
}

// WatchDevices attaches grid controllers as they are plugged in and
// detaches them when they go away. It returns when events is closed.
func (s *Studio) WatchDevices(events <-chan midi.DeviceEvent) {
	for ev := range events {
		switch ev.Type {
		case midi.DeviceConnected:
			if ev.Controller != nil && ev.Controller.Type() == midi.ControllerLaunchpad {
				s.SetController(ev.Controller)
			}
		case midi.DeviceDisconnected:
			if c := s.Controller(); c != nil && c.ID() == ev.ID {
				s.SetController(nil)
			}
		}
	}
}

// ledLoop redraws the controller at a fixed rate, sending only changed pads
func (s *Studio) ledLoop(link *controllerLink) {
	defer link.wg.Done()
	ticker := time.NewTicker(time.Second / ledFPS)
	defer ticker.Stop()

	prev := make(map[[2]int]midi.LEDUpdate)
	for {
		frame := renderLEDs(s.Snapshot(), s.Status(), s.theme)
		if updates := diffLEDs(prev, frame); len(updates) > 0 {
			if err := link.ctrl.SetLEDBatch(updates); err != nil {
				debug.Log("led", "batch of %d: %v", len(updates), err)
			}
		}

		select {
		case <-link.stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Studio) padLoop(link *controllerLink) {
	defer link.wg.Done()
	events := link.ctrl.PadEvents()
	for {
		select {
		case <-link.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandlePad(ev.Row, ev.Col)
		}
	}
}
