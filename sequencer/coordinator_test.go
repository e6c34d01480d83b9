package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trance-studio/pattern"
)

// --- fakes ---

type trigger struct {
	inst     pattern.Instrument
	notes    []string
	dur      time.Duration
	at       time.Time
	velocity float64
}

type fakeVoice struct {
	inst     pattern.Instrument
	log      *[]trigger
	disposed bool
	order    *[]string
}

func (v *fakeVoice) TriggerAttackRelease(notes []string, dur time.Duration, at time.Time, velocity float64) error {
	*v.log = append(*v.log, trigger{inst: v.inst, notes: notes, dur: dur, at: at, velocity: velocity})
	return nil
}

func (v *fakeVoice) Dispose() error {
	v.disposed = true
	*v.order = append(*v.order, "voice:"+string(v.inst))
	return nil
}

type fakeTransport struct {
	started bool
	lead    time.Duration
	tempo   float64
	ramps   []float64
	order   *[]string
}

func (t *fakeTransport) Start(lead time.Duration) { t.started = true; t.lead = lead }
func (t *fakeTransport) Stop()                    { t.started = false; *t.order = append(*t.order, "stop") }
func (t *fakeTransport) Cancel()                  { *t.order = append(*t.order, "cancel") }
func (t *fakeTransport) SetTempo(bpm float64)     { t.tempo = bpm }
func (t *fakeTransport) Tempo() float64           { return t.tempo }
func (t *fakeTransport) RampTempo(bpm float64, over time.Duration) {
	t.ramps = append(t.ramps, bpm)
	t.tempo = bpm
}

type fakeSequence struct {
	sub      Subdivision
	steps    int
	fn       TickFunc
	started  bool
	disposed bool
	order    *[]string
}

func (s *fakeSequence) Start()   { s.started = true }
func (s *fakeSequence) Stop()    { s.started = false }
func (s *fakeSequence) Dispose() { s.disposed = true; *s.order = append(*s.order, "sequence") }

type fakeEngine struct {
	mu        sync.Mutex
	initErr   error
	initCalls int
	gate      chan struct{} // when set, Init blocks until closed
	closed    bool

	transport *fakeTransport
	sequences []*fakeSequence
	voices    map[pattern.Instrument]*fakeVoice
	triggers  []trigger
	order     []string
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{voices: make(map[pattern.Instrument]*fakeVoice)}
	e.transport = &fakeTransport{order: &e.order}
	for _, inst := range pattern.Instruments() {
		e.voices[inst] = &fakeVoice{inst: inst, log: &e.triggers, order: &e.order}
	}
	return e
}

func (e *fakeEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	e.initCalls++
	gate := e.gate
	err := e.initErr
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (e *fakeEngine) Transport() Transport { return e.transport }

func (e *fakeEngine) NewSequence(sub Subdivision, steps int, fn TickFunc) Sequence {
	s := &fakeSequence{sub: sub, steps: steps, fn: fn, order: &e.order}
	e.sequences = append(e.sequences, s)
	return s
}

func (e *fakeEngine) Voice(inst pattern.Instrument) Voice { return e.voices[inst] }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.order = append(e.order, "engine")
	return nil
}

// run dispatches grid positions [from, to) the way the transport does
func (e *fakeEngine) run(t0 time.Time, from, to int) {
	interval := SixteenthNote.Duration(e.transport.tempo)
	for pos := from; pos < to; pos++ {
		at := t0.Add(time.Duration(pos) * interval)
		for _, s := range e.sequences {
			span := s.sub.Steps()
			if !s.started || pos%span != 0 {
				continue
			}
			s.fn(at, (pos/span)%s.steps)
		}
	}
}

func drainSteps(c *Coordinator) []int {
	var out []int
	for {
		select {
		case ev := <-c.Steps():
			out = append(out, ev.Step)
		default:
			return out
		}
	}
}

// --- tests ---

func TestStartStopLifecycle(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})

	if st := c.Status(); st.Running || st.Step != NoStep || st.Engine != EngineUninitialized {
		t.Fatalf("initial status = %+v", st)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	st := c.Status()
	if !st.Running || st.Step != 0 || st.Engine != EngineReady {
		t.Errorf("status after start = %+v", st)
	}
	if !e.transport.started || e.transport.lead != DefaultLead {
		t.Errorf("transport started=%v lead=%s", e.transport.started, e.transport.lead)
	}
	if e.transport.tempo != DefaultTempo {
		t.Errorf("transport tempo = %v, want %d", e.transport.tempo, DefaultTempo)
	}

	c.Stop()
	st = c.Status()
	if st.Running || st.Step != NoStep {
		t.Errorf("status after stop = %+v", st)
	}
	if e.transport.started {
		t.Error("transport still running after Stop")
	}
}

func TestStopWhileStoppedIsNoop(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})

	before := c.Status()
	c.Stop()
	c.Stop()
	if after := c.Status(); after != before {
		t.Errorf("Stop changed status: %+v -> %+v", before, after)
	}
	if len(e.order) != 0 {
		t.Errorf("Stop touched the engine: %v", e.order)
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	n := len(e.sequences)
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if len(e.sequences) != n || e.initCalls != 1 {
		t.Errorf("second Start rebuilt state: sequences %d -> %d, init calls %d", n, len(e.sequences), e.initCalls)
	}
}

func TestStepsCycleInOrder(t *testing.T) {
	for _, bpm := range []int{MinTempo, DefaultTempo, MaxTempo} {
		e := newFakeEngine()
		c := NewCoordinator(e, pattern.NewHandle(pattern.Clear()), Options{Tempo: bpm})
		if err := c.Start(context.Background()); err != nil {
			t.Fatal(err)
		}

		e.run(time.Now(), 0, 15)
		got := drainSteps(c)
		e.run(time.Now(), 15, 17)
		got = append(got, drainSteps(c)...)

		want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 0}
		if len(got) != len(want) {
			t.Fatalf("bpm %d: steps = %v, want %v", bpm, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("bpm %d: steps = %v, want %v", bpm, got, want)
			}
		}
		if st := c.Status(); st.Step != 0 {
			t.Errorf("bpm %d: current step after wrap = %d, want 0", bpm, st.Step)
		}
	}
}

func TestStepEventCarriesScheduledTime(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Clear()), Options{Tempo: 120})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.run(t0, 0, 4)

	for i := 0; i < 4; i++ {
		ev := <-c.Steps()
		want := t0.Add(time.Duration(i) * 125 * time.Millisecond)
		if !ev.At.Equal(want) {
			t.Errorf("step %d at %s, want %s", ev.Step, ev.At, want)
		}
	}
}

func TestSingleKickEmitsOneTrigger(t *testing.T) {
	set, err := pattern.ToggleStep(pattern.Clear(), pattern.Kick, 0)
	if err != nil {
		t.Fatal(err)
	}

	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(set), Options{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.run(time.Now(), 0, 16)

	if len(e.triggers) != 1 {
		t.Fatalf("triggers = %+v, want exactly one", e.triggers)
	}
	tr := e.triggers[0]
	if tr.inst != pattern.Kick || len(tr.notes) != 1 || tr.notes[0] != "C2" || tr.velocity != 1.0 {
		t.Errorf("trigger = %+v", tr)
	}
}

func TestPresetTriggers(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{Tempo: 120})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.run(time.Now(), 0, 16)

	count := map[pattern.Instrument]int{}
	for _, tr := range e.triggers {
		count[tr.inst]++
	}
	want := map[pattern.Instrument]int{
		pattern.Kick: 4,
		pattern.Bass: 8,
		pattern.Pad:  4,
		pattern.Lead: 6,
	}
	for inst, n := range want {
		if count[inst] != n {
			t.Errorf("%s triggers = %d, want %d", inst, count[inst], n)
		}
	}
}

func TestNoteSelection(t *testing.T) {
	tests := []struct {
		name string
		inst pattern.Instrument
		step int
		want []string
		vel  float64
		dur  time.Duration
	}{
		{"bass first beat", pattern.Bass, 2, []string{"C2"}, 0.8, 250 * time.Millisecond},
		{"bass second beat", pattern.Bass, 6, []string{"G1"}, 0.8, 250 * time.Millisecond},
		{"bass last beat", pattern.Bass, 14, []string{"F1"}, 0.8, 250 * time.Millisecond},
		{"pad chord 2", pattern.Pad, 4, []string{"A3", "C4", "E4"}, 0.4, time.Second},
		{"pad chord 4", pattern.Pad, 12, []string{"G3", "B3", "D4"}, 0.4, time.Second},
		{"lead step 0", pattern.Lead, 0, []string{"C5"}, 0.7, 125 * time.Millisecond},
		{"lead step 4", pattern.Lead, 4, []string{"D5"}, 0.7, 125 * time.Millisecond},
		{"lead step 9", pattern.Lead, 9, []string{"A5"}, 0.7, 125 * time.Millisecond},
		{"lead step 6", pattern.Lead, 6, []string{"B5"}, 0.7, 125 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, _ := pattern.ToggleStep(pattern.Clear(), tt.inst, tt.step)
			e := newFakeEngine()
			c := NewCoordinator(e, pattern.NewHandle(set), Options{Tempo: 120})
			if err := c.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			e.run(time.Now(), 0, 16)

			if len(e.triggers) != 1 {
				t.Fatalf("triggers = %+v, want one", e.triggers)
			}
			got := e.triggers[0]
			if len(got.notes) != len(tt.want) {
				t.Fatalf("notes = %v, want %v", got.notes, tt.want)
			}
			for i := range tt.want {
				if got.notes[i] != tt.want[i] {
					t.Errorf("notes = %v, want %v", got.notes, tt.want)
				}
			}
			if got.velocity != tt.vel {
				t.Errorf("velocity = %v, want %v", got.velocity, tt.vel)
			}
			if got.dur != tt.dur {
				t.Errorf("duration = %s, want %s", got.dur, tt.dur)
			}
		})
	}
}

func TestPadReadsOnlyQuarterSteps(t *testing.T) {
	set := pattern.Clear()
	var err error
	for _, step := range []int{1, 2, 3, 5, 7, 10, 15} {
		if set, err = pattern.ToggleStep(set, pattern.Pad, step); err != nil {
			t.Fatal(err)
		}
	}

	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(set), Options{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.run(time.Now(), 0, 32)

	if len(e.triggers) != 0 {
		t.Errorf("off-beat pad steps triggered: %+v", e.triggers)
	}
}

func TestTickReadsLatestPattern(t *testing.T) {
	h := pattern.NewHandle(pattern.Clear())
	e := newFakeEngine()
	c := NewCoordinator(e, h, Options{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	e.run(time.Now(), 0, 4)
	if len(e.triggers) != 0 {
		t.Fatalf("unexpected triggers: %+v", e.triggers)
	}

	h.Update(func(s pattern.Set) (pattern.Set, error) { return pattern.ToggleStep(s, pattern.Lead, 5) })
	e.run(time.Now(), 4, 8)
	if len(e.triggers) != 1 || e.triggers[0].inst != pattern.Lead {
		t.Errorf("triggers after edit = %+v", e.triggers)
	}
}

func TestTempoChangeWhileRunning(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Clear()), Options{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.run(time.Now(), 0, 6)
	drainSteps(c)

	if got := c.SetTempo(145); got != 145 {
		t.Errorf("SetTempo returned %d", got)
	}
	st := c.Status()
	if !st.Running || st.Step != 5 || st.Tempo != 145 {
		t.Errorf("status after tempo change = %+v", st)
	}
	if len(e.transport.ramps) != 1 || e.transport.ramps[0] != 145 {
		t.Errorf("ramps = %v, want [145]", e.transport.ramps)
	}

	e.run(time.Now(), 6, 7)
	if steps := drainSteps(c); len(steps) != 1 || steps[0] != 6 {
		t.Errorf("steps after tempo change = %v, want [6]", steps)
	}
}

func TestSetTempoClamps(t *testing.T) {
	c := NewCoordinator(newFakeEngine(), pattern.NewHandle(pattern.Clear()), Options{})
	tests := []struct{ in, want int }{
		{100, MinTempo},
		{120, 120},
		{133, 133},
		{150, 150},
		{200, MaxTempo},
	}
	for _, tt := range tests {
		if got := c.SetTempo(tt.in); got != tt.want {
			t.Errorf("SetTempo(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSetTempoBeforeEngineReady(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Clear()), Options{})
	c.SetTempo(125)
	if e.transport.tempo != 0 {
		t.Error("tempo pushed to an uninitialized engine")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.transport.tempo != 125 {
		t.Errorf("transport tempo = %v, want 125", e.transport.tempo)
	}
}

func TestEngineUnavailable(t *testing.T) {
	e := newFakeEngine()
	e.initErr = errors.New("no output port")
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})

	err := c.Start(context.Background())
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Start() error = %v, want ErrEngineUnavailable", err)
	}
	st := c.Status()
	if st.Running || st.Engine != EngineFailed || st.Step != NoStep {
		t.Errorf("status after failed start = %+v", st)
	}
	if len(e.sequences) != 0 || e.transport.started {
		t.Error("failed start left partial state")
	}

	// retry succeeds once the engine comes up
	e.initErr = nil
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("retry Start() error: %v", err)
	}
	if st := c.Status(); !st.Running || st.Engine != EngineReady {
		t.Errorf("status after retry = %+v", st)
	}
}

func TestConcurrentStartsShareInit(t *testing.T) {
	e := newFakeEngine()
	e.gate = make(chan struct{})
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- c.Start(context.Background()) }()
	}

	// wait until the first attempt is in flight
	deadline := time.After(time.Second)
	for c.Status().Engine != EngineInitializing {
		select {
		case <-deadline:
			t.Fatal("engine never started initializing")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(e.gate)

	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Start() error: %v", err)
		}
	}
	if e.initCalls != 1 {
		t.Errorf("Init called %d times, want 1", e.initCalls)
	}
	if !c.Status().Running {
		t.Error("not running after concurrent starts")
	}
}

func waitForEngine(t *testing.T, c *Coordinator, want EngineState) {
	t.Helper()
	deadline := time.After(time.Second)
	for c.Status().Engine != want {
		select {
		case <-deadline:
			t.Fatalf("engine state = %s, want %s", c.Status().Engine, want)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStartCancelledDuringInit(t *testing.T) {
	e := newFakeEngine()
	e.gate = make(chan struct{})
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	waitForEngine(t, c, EngineInitializing)
	cancel()

	err := <-done
	if !errors.Is(err, ErrEngineUnavailable) || !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want ErrEngineUnavailable wrapping context.Canceled", err)
	}
	if c.Status().Running {
		t.Error("running after cancelled start")
	}

	// the attempt outlives the caller that began it
	if st := c.Status().Engine; st != EngineInitializing {
		t.Errorf("engine state after cancel = %s, want initializing", st)
	}
	close(e.gate)
	waitForEngine(t, c, EngineReady)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() after init error: %v", err)
	}
	if e.initCalls != 1 {
		t.Errorf("Init called %d times, want 1", e.initCalls)
	}
}

func TestCancelledStarterDoesNotFailWaiters(t *testing.T) {
	e := newFakeEngine()
	e.gate = make(chan struct{})
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Start(first) }()
	waitForEngine(t, c, EngineInitializing)

	secondErr := make(chan error, 1)
	go func() { secondErr <- c.Start(context.Background()) }()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first Start() error = %v, want context.Canceled", err)
	}

	close(e.gate)
	if err := <-secondErr; err != nil {
		t.Fatalf("second Start() error = %v, want nil", err)
	}
	if st := c.Status(); !st.Running || st.Engine != EngineReady {
		t.Errorf("status = %+v, want running with engine ready", st)
	}
}

func TestInitTimeout(t *testing.T) {
	e := newFakeEngine()
	e.gate = make(chan struct{})
	defer close(e.gate)
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{InitTimeout: 20 * time.Millisecond})

	err := c.Start(context.Background())
	if !errors.Is(err, ErrEngineUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start() error = %v, want ErrEngineUnavailable wrapping DeadlineExceeded", err)
	}
	if st := c.Status().Engine; st != EngineFailed {
		t.Errorf("engine state = %s, want failed", st)
	}
}

func TestCloseDuringInit(t *testing.T) {
	e := newFakeEngine()
	e.gate = make(chan struct{})
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	waitForEngine(t, c, EngineInitializing)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	close(e.gate)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("Start() error = %v, want ErrClosed", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("engine initialized after Close was not released")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseOrder(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if len(e.order) < 3 || e.order[0] != "stop" || e.order[1] != "cancel" {
		t.Fatalf("teardown order = %v, want stop, cancel, ...", e.order)
	}
	if e.order[len(e.order)-1] != "engine" {
		t.Errorf("engine not released last: %v", e.order)
	}
	for _, v := range e.voices {
		if !v.disposed {
			t.Errorf("voice %s not disposed", v.inst)
		}
	}
	for _, s := range e.sequences {
		if !s.disposed {
			t.Error("sequence not disposed")
		}
	}

	if err := c.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close error = %v, want ErrClosed", err)
	}
}

func TestCloseWithoutEngine(t *testing.T) {
	e := newFakeEngine()
	c := NewCoordinator(e, pattern.NewHandle(pattern.Preset()), Options{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if e.closed {
		t.Error("closed an engine that was never initialized")
	}
}

func TestNoteValueDuration(t *testing.T) {
	tests := []struct {
		n    NoteValue
		bpm  float64
		want time.Duration
	}{
		{QuarterNote, 120, 500 * time.Millisecond},
		{SixteenthNote, 120, 125 * time.Millisecond},
		{HalfNote, 120, time.Second},
		{EighthNote, 150, 200 * time.Millisecond},
		{SixteenthNote, 0, 0},
	}
	for _, tt := range tests {
		if got := tt.n.Duration(tt.bpm); got != tt.want {
			t.Errorf("NoteValue(%d).Duration(%v) = %s, want %s", tt.n, tt.bpm, got, tt.want)
		}
	}
}
