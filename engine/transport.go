package engine

import (
	"sync"
	"time"

	"trance-studio/debug"
	"trance-studio/sequencer"
)

// DefaultLookAhead is how early a tick is dispatched before its grid time
const DefaultLookAhead = 50 * time.Millisecond

// Transport is a 16th-note clock. While running, one goroutine walks the
// grid and calls every started sequence whose subdivision lands on the
// current position. Callbacks never overlap and their times never decrease.
type Transport struct {
	lookAhead time.Duration
	onCancel  func()

	mu      sync.Mutex
	tempo   float64
	ramp    *ramp
	seqs    []*Sequence
	pos     int64
	next    time.Time // grid time of pos
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// ramp is a linear tempo change over [start, start+over]
type ramp struct {
	from, to float64
	start    time.Time
	over     time.Duration
}

func (r *ramp) at(t time.Time) (bpm float64, finished bool) {
	elapsed := t.Sub(r.start)
	if elapsed <= 0 {
		return r.from, false
	}
	if elapsed >= r.over {
		return r.to, true
	}
	frac := float64(elapsed) / float64(r.over)
	return r.from + (r.to-r.from)*frac, false
}

// NewTransport creates a stopped transport. onCancel is called by Cancel
// to drop messages already handed to the output; it may be nil.
func NewTransport(lookAhead time.Duration, onCancel func()) *Transport {
	if lookAhead <= 0 {
		lookAhead = DefaultLookAhead
	}
	return &Transport{
		lookAhead: lookAhead,
		onCancel:  onCancel,
		tempo:     sequencer.DefaultTempo,
	}
}

// Start runs the clock with grid time zero at now+lead
func (t *Transport) Start(lead time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}

	t.pos = 0
	t.next = time.Now().Add(lead)
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

// Stop halts the clock and waits for an in-flight dispatch to finish.
// It must not be called from a tick callback.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stop)
	done := t.done
	t.mu.Unlock()

	<-done
}

// Cancel drops scheduled output that has not sounded yet
func (t *Transport) Cancel() {
	if t.onCancel != nil {
		t.onCancel()
	}
}

// SetTempo jumps to bpm, dropping any ramp in progress
func (t *Transport) SetTempo(bpm float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempo = bpm
	t.ramp = nil
}

// RampTempo moves linearly from the current tempo to bpm over the given time
func (t *Transport) RampTempo(bpm float64, over time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	from := t.tempoAtLocked(now)
	if over <= 0 {
		t.tempo = bpm
		t.ramp = nil
		return
	}
	t.ramp = &ramp{from: from, to: bpm, start: now, over: over}
	t.tempo = bpm
}

// Tempo returns the current BPM, mid-ramp values included
func (t *Transport) Tempo() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempoAtLocked(time.Now())
}

func (t *Transport) tempoAtLocked(at time.Time) float64 {
	if t.ramp == nil {
		return t.tempo
	}
	bpm, finished := t.ramp.at(at)
	if finished {
		t.ramp = nil
	}
	return bpm
}

// stepDuration is one 16th note at bpm
func stepDuration(bpm float64) time.Duration {
	if bpm <= 0 {
		bpm = sequencer.DefaultTempo
	}
	return time.Duration(float64(time.Minute) / bpm / 4)
}

func (t *Transport) add(s *Sequence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seqs = append(t.seqs, s)
}

func (t *Transport) remove(s *Sequence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, candidate := range t.seqs {
		if candidate == s {
			t.seqs = append(t.seqs[:i], t.seqs[i+1:]...)
			return
		}
	}
}

func (t *Transport) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		t.mu.Lock()
		at := t.next
		t.mu.Unlock()

		if wait := time.Until(at) - t.lookAhead; wait > 0 {
			timer.Reset(wait)
			select {
			case <-stop:
				return
			case <-timer.C:
			}
		}

		select {
		case <-stop:
			return
		default:
		}

		t.mu.Lock()
		pos := t.pos
		seqs := make([]*Sequence, len(t.seqs))
		copy(seqs, t.seqs)
		t.pos++
		t.next = at.Add(stepDuration(t.tempoAtLocked(at)))
		t.mu.Unlock()

		for _, s := range seqs {
			s.dispatch(at, pos)
		}
		debug.LogEvery(64, "clock", "pos=%d at=%s", pos, at.Format("15:04:05.000"))
	}
}
