package engine

import (
	"sync/atomic"
	"time"

	"trance-studio/sequencer"
)

// Sequence calls fn on every subdivision boundary of the transport grid,
// cycling through steps indices
type Sequence struct {
	transport *Transport
	span      int64
	steps     int64
	fn        sequencer.TickFunc

	started  atomic.Bool
	disposed atomic.Bool
}

// NewSequence registers a stopped sequence on t. Sequences registered
// earlier are called first when their ticks coincide.
func (t *Transport) NewSequence(sub sequencer.Subdivision, steps int, fn sequencer.TickFunc) *Sequence {
	if steps <= 0 {
		steps = 1
	}
	s := &Sequence{
		transport: t,
		span:      int64(max(1, sub.Steps())),
		steps:     int64(steps),
		fn:        fn,
	}
	t.add(s)
	return s
}

func (s *Sequence) Start() {
	if !s.disposed.Load() {
		s.started.Store(true)
	}
}

func (s *Sequence) Stop() {
	s.started.Store(false)
}

// Dispose unregisters the sequence; it never fires again
func (s *Sequence) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.started.Store(false)
	s.transport.remove(s)
}

func (s *Sequence) dispatch(at time.Time, pos int64) {
	if !s.started.Load() || pos%s.span != 0 {
		return
	}
	s.fn(at, int((pos/s.span)%s.steps))
}
