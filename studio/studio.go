package studio

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"trance-studio/debug"
	"trance-studio/pattern"
	"trance-studio/sequencer"
	"trance-studio/theme"
)

// TempoStep is the change applied by one tempo nudge
const TempoStep = 1

// Options configure a Studio
type Options struct {
	Tempo int
	Lead  time.Duration
	Ramp  time.Duration
	Rand  *rand.Rand   // nil seeds from the clock
	Theme *theme.Theme // colors for the grid controller; nil uses the default
}

// Studio owns the pattern set and the transport and is the one place UI
// surfaces send their actions through. It starts with the preset pattern,
// stopped.
type Studio struct {
	patterns *pattern.Handle
	coord    *sequencer.Coordinator
	theme    *theme.Theme

	rngMu sync.Mutex
	rng   *rand.Rand

	updates chan struct{}

	attachMu sync.Mutex // serializes SetController
	link     *controllerLink
}

// New creates a studio driving engine
func New(engine sequencer.Engine, opts Options) *Studio {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Theme == nil {
		opts.Theme = theme.Default()
	}
	if opts.Tempo == 0 {
		opts.Tempo = sequencer.DefaultTempo
	}

	patterns := pattern.NewHandle(pattern.Preset())
	return &Studio{
		patterns: patterns,
		coord: sequencer.NewCoordinator(engine, patterns, sequencer.Options{
			Tempo: opts.Tempo,
			Lead:  opts.Lead,
			Ramp:  opts.Ramp,
		}),
		theme:   opts.Theme,
		rng:     opts.Rand,
		updates: make(chan struct{}, 1),
	}
}

// Updates signals that the pattern or transport changed. Signals coalesce.
func (s *Studio) Updates() <-chan struct{} {
	return s.updates
}

// Steps delivers the playing step with its scheduled time
func (s *Studio) Steps() <-chan sequencer.StepEvent {
	return s.coord.Steps()
}

func (s *Studio) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Studio) update(fn func(pattern.Set) (pattern.Set, error)) error {
	if _, err := s.patterns.Update(fn); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Toggle flips one step
func (s *Studio) Toggle(inst pattern.Instrument, step int) error {
	return s.update(func(set pattern.Set) (pattern.Set, error) {
		return pattern.ToggleStep(set, inst, step)
	})
}

// LoadPreset replaces every track with the demo pattern
func (s *Studio) LoadPreset() {
	s.patterns.Store(pattern.Preset())
	s.notify()
}

// Clear turns every step off
func (s *Studio) Clear() {
	s.patterns.Store(pattern.Clear())
	s.notify()
}

// Randomize replaces one track with random hits
func (s *Studio) Randomize(inst pattern.Instrument) error {
	return s.update(func(set pattern.Set) (pattern.Set, error) {
		s.rngMu.Lock()
		defer s.rngMu.Unlock()
		return pattern.RandomizeInstrument(set, inst, s.rng)
	})
}

// RandomizeLead randomizes the lead track
func (s *Studio) RandomizeLead() error {
	return s.Randomize(pattern.Lead)
}

// Play starts playback, initializing the engine on first use
func (s *Studio) Play(ctx context.Context) error {
	err := s.coord.Start(ctx)
	s.notify()
	return err
}

// Stop halts playback
func (s *Studio) Stop() {
	s.coord.Stop()
	s.notify()
}

// TogglePlayback stops when playing and starts when stopped
func (s *Studio) TogglePlayback(ctx context.Context) error {
	if s.coord.Status().Running {
		s.Stop()
		return nil
	}
	return s.Play(ctx)
}

// SetTempo sets the tempo and returns the clamped value
func (s *Studio) SetTempo(bpm int) int {
	bpm = s.coord.SetTempo(bpm)
	s.notify()
	return bpm
}

// Nudge moves the tempo by delta BPM
func (s *Studio) Nudge(delta int) int {
	return s.SetTempo(s.coord.Status().Tempo + delta)
}

// Snapshot returns the committed pattern set
func (s *Studio) Snapshot() pattern.Set {
	return s.patterns.Load()
}

// Status returns the transport state
func (s *Studio) Status() sequencer.Status {
	return s.coord.Status()
}

// Close detaches the grid controller and tears playback down
func (s *Studio) Close() error {
	s.SetController(nil)
	err := s.coord.Close()
	debug.Log("studio", "closed")
	return err
}
