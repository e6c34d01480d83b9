package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trance-studio/debug"
	"trance-studio/pattern"
)

// Tempo limits in BPM
const (
	MinTempo     = 120
	MaxTempo     = 150
	DefaultTempo = 138
)

const (
	// DefaultLead delays the first tick after start so the clock settles
	DefaultLead = 100 * time.Millisecond
	// DefaultRamp is how long a tempo change takes while playing
	DefaultRamp = 150 * time.Millisecond
	// DefaultInitTimeout bounds one engine initialization attempt
	DefaultInitTimeout = 15 * time.Second
)

// NoStep is reported as the current step while stopped
const NoStep = -1

var (
	ErrEngineUnavailable = errors.New("audio engine unavailable")
	ErrClosed            = errors.New("coordinator closed")
)

// EngineState tracks lazy engine initialization
type EngineState int

const (
	EngineUninitialized EngineState = iota
	EngineInitializing
	EngineReady
	EngineFailed
)

func (s EngineState) String() string {
	switch s {
	case EngineUninitialized:
		return "uninitialized"
	case EngineInitializing:
		return "initializing"
	case EngineReady:
		return "ready"
	case EngineFailed:
		return "failed"
	}
	return "unknown"
}

// StepEvent reports the step being played and when it sounds
type StepEvent struct {
	Step int
	At   time.Time
}

// Status is a snapshot of the transport
type Status struct {
	Running bool
	Step    int
	Tempo   int
	Engine  EngineState
}

// Options tune the coordinator's timing
type Options struct {
	Tempo       int
	Lead        time.Duration
	Ramp        time.Duration
	InitTimeout time.Duration
}

// initAttempt is one run of Engine.Init that concurrent starters can wait on
type initAttempt struct {
	done chan struct{}
	err  error
}

// Coordinator turns transport ticks into voice triggers.
//
// It reads patterns through a pattern.Handle: the UI side is the only writer,
// and each tick does a single Load, so a tick sees either the whole of an
// edit or none of it.
type Coordinator struct {
	engine   Engine
	patterns *pattern.Handle
	tracks   []Track
	lead     time.Duration
	ramp     time.Duration

	initTimeout time.Duration

	mu          sync.Mutex // serializes Start/Stop/SetTempo/Close
	tempo       int
	engineState EngineState
	attempt     *initAttempt
	sequences   []Sequence
	closed      bool

	running atomic.Bool
	step    atomic.Int32

	steps chan StepEvent
}

// NewCoordinator creates a stopped coordinator
func NewCoordinator(engine Engine, patterns *pattern.Handle, opts Options) *Coordinator {
	if opts.Lead <= 0 {
		opts.Lead = DefaultLead
	}
	if opts.Ramp <= 0 {
		opts.Ramp = DefaultRamp
	}
	if opts.Tempo == 0 {
		opts.Tempo = DefaultTempo
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	c := &Coordinator{
		engine:   engine,
		patterns: patterns,
		tracks:   Tracks(),
		lead:     opts.Lead,
		ramp:     opts.Ramp,
		tempo:    ClampTempo(opts.Tempo),
		steps:    make(chan StepEvent, 16),

		initTimeout: opts.InitTimeout,
	}
	c.step.Store(NoStep)
	return c
}

// ClampTempo limits bpm to the supported range
func ClampTempo(bpm int) int {
	if bpm < MinTempo {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}

// Steps delivers the current step on every 16th note. Sends never block;
// events are dropped when the reader falls behind.
func (c *Coordinator) Steps() <-chan StepEvent {
	return c.steps
}

// Start begins playback. The engine is initialized on first use; if that
// fails Start returns ErrEngineUnavailable and playback stays stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.ensureEngine(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.running.Load() {
		return nil
	}
	if c.sequences == nil {
		c.buildSequences()
	}

	transport := c.engine.Transport()
	transport.SetTempo(float64(c.tempo))
	c.step.Store(0)
	c.running.Store(true)
	for _, seq := range c.sequences {
		seq.Start()
	}
	transport.Start(c.lead)

	debug.Log("transport", "start tempo=%d lead=%s", c.tempo, c.lead)
	return nil
}

// ensureEngine moves the engine to Ready, or reports why it cannot.
// Init runs detached from any one caller's ctx, bounded by initTimeout;
// every caller, the one that began the attempt included, waits on it only
// as long as its own ctx allows.
func (c *Coordinator) ensureEngine(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.engineState == EngineReady {
		c.mu.Unlock()
		return nil
	}

	attempt := c.attempt
	if c.engineState != EngineInitializing {
		// Uninitialized or Failed: start a new attempt
		attempt = &initAttempt{done: make(chan struct{})}
		c.attempt = attempt
		c.engineState = EngineInitializing
		go c.runInit(context.WithoutCancel(ctx), attempt)
	}
	c.mu.Unlock()

	select {
	case <-attempt.done:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, ctx.Err())
	}
	if attempt.err != nil {
		if errors.Is(attempt.err, ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, attempt.err)
	}
	return nil
}

func (c *Coordinator) runInit(ctx context.Context, attempt *initAttempt) {
	ctx, cancel := context.WithTimeout(ctx, c.initTimeout)
	defer cancel()

	debug.Log("engine", "initializing")
	err := c.engine.Init(ctx)

	c.mu.Lock()
	closed := c.closed
	switch {
	case err != nil:
		c.engineState = EngineFailed
	case closed:
		c.engineState = EngineFailed
		err = ErrClosed
	default:
		c.engineState = EngineReady
	}
	attempt.err = err
	close(attempt.done)
	c.mu.Unlock()

	switch {
	case errors.Is(err, ErrClosed):
		c.engine.Close()
		debug.Log("engine", "ready after close, released")
	case err != nil:
		debug.Log("engine", "init failed: %v", err)
	default:
		debug.Log("engine", "ready")
	}
}

// buildSequences registers the step reporter followed by one sequence per
// track. Registration order is dispatch order for ticks that coincide.
func (c *Coordinator) buildSequences() {
	c.sequences = append(c.sequences,
		c.engine.NewSequence(Sixteenth, pattern.Steps, c.reportStep))

	for _, tr := range c.tracks {
		n := pattern.Steps / tr.Subdivision.Steps()
		c.sequences = append(c.sequences,
			c.engine.NewSequence(tr.Subdivision, n, c.trackTick(tr)))
	}
}

func (c *Coordinator) reportStep(at time.Time, step int) {
	if !c.running.Load() {
		return
	}
	c.step.Store(int32(step))
	select {
	case c.steps <- StepEvent{Step: step, At: at}:
	default:
	}
}

func (c *Coordinator) trackTick(tr Track) TickFunc {
	span := tr.Subdivision.Steps()
	return func(at time.Time, idx int) {
		if !c.running.Load() {
			return
		}
		step := (idx * span) % pattern.Steps

		on, err := c.patterns.Load().Get(tr.Instrument, step)
		if err != nil || !on {
			return
		}

		voice := c.engine.Voice(tr.Instrument)
		if voice == nil {
			return
		}
		dur := tr.Length.Duration(c.engine.Transport().Tempo())
		if err := voice.TriggerAttackRelease(tr.Notes(step), dur, at, tr.Velocity); err != nil {
			debug.Log("voice", "%s step %d: %v", tr.Instrument, step, err)
		}
	}
}

// Stop halts playback. Stopping while stopped does nothing.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	if !c.running.Load() {
		return
	}
	c.engine.Transport().Stop()
	for _, seq := range c.sequences {
		seq.Stop()
	}
	c.running.Store(false)
	c.step.Store(NoStep)
	debug.Log("transport", "stop")
}

// SetTempo changes the tempo, clamped to [MinTempo, MaxTempo]. While
// playing the change is ramped and playback continues from the same step.
func (c *Coordinator) SetTempo(bpm int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	bpm = ClampTempo(bpm)
	c.tempo = bpm
	if c.engineState != EngineReady || c.closed {
		return bpm
	}

	transport := c.engine.Transport()
	if c.running.Load() {
		transport.RampTempo(float64(bpm), c.ramp)
	} else {
		transport.SetTempo(float64(bpm))
	}
	debug.Log("transport", "tempo=%d", bpm)
	return bpm
}

// Status returns the current transport state
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Running: c.running.Load(),
		Step:    int(c.step.Load()),
		Tempo:   c.tempo,
		Engine:  c.engineState,
	}
}

// Close tears playback down: the clock stops first, pending triggers are
// cancelled, and only then are sequences, voices and the engine released.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.stopLocked()

	if c.engineState != EngineReady {
		return nil
	}

	c.engine.Transport().Cancel()
	for _, seq := range c.sequences {
		seq.Dispose()
	}
	c.sequences = nil

	var errs []error
	for _, tr := range c.tracks {
		if voice := c.engine.Voice(tr.Instrument); voice != nil {
			if err := voice.Dispose(); err != nil {
				errs = append(errs, fmt.Errorf("dispose %s: %w", tr.Instrument, err))
			}
		}
	}
	if err := c.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	debug.Log("engine", "closed")
	return errors.Join(errs...)
}
