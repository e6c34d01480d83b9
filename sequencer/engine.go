package sequencer

import (
	"context"
	"time"

	"trance-studio/pattern"
)

// Subdivision is the spacing of a sequence's ticks
type Subdivision int

const (
	Sixteenth Subdivision = 1 // one step
	Quarter   Subdivision = 4 // four steps
)

// Steps returns how many 16th-note steps one tick spans
func (s Subdivision) Steps() int {
	return int(s)
}

func (s Subdivision) String() string {
	switch s {
	case Sixteenth:
		return "16n"
	case Quarter:
		return "4n"
	}
	return "?"
}

// TickFunc is called once per tick with the tick's scheduled time and
// the sequence's own step index
type TickFunc func(at time.Time, step int)

// Transport is the shared clock all sequences run on
type Transport interface {
	Start(lead time.Duration) // grid time zero is now + lead
	Stop()
	Cancel() // drop scheduled, not yet sounded, voice messages
	SetTempo(bpm float64)
	RampTempo(bpm float64, over time.Duration)
	Tempo() float64
}

// Sequence is a recurring tick registered on the transport
type Sequence interface {
	Start()
	Stop()
	Dispose()
}

// Voice is something that can sound a note or chord
type Voice interface {
	TriggerAttackRelease(notes []string, dur time.Duration, at time.Time, velocity float64) error
	Dispose() error
}

// Engine is the audio collaborator. Init may be slow and may fail;
// everything else is only valid after a successful Init.
type Engine interface {
	Init(ctx context.Context) error
	Transport() Transport
	NewSequence(sub Subdivision, steps int, fn TickFunc) Sequence
	Voice(inst pattern.Instrument) Voice
	Close() error
}
