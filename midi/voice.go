package midi

import (
	"errors"
	"math"
	"sync"
	"time"
)

var ErrVoiceDisposed = errors.New("voice disposed")

// Lead echo settings, standing in for a 250 ms feedback delay
const (
	echoDelay     = 250 * time.Millisecond
	echoFeedback  = 0.4
	echoMaxRepeat = 3
	echoFloor     = 0.05
)

// Velocity converts 0..1 to a MIDI velocity in 1..127
func Velocity(v float64) uint8 {
	if v <= 0 {
		return 1
	}
	if v >= 1 {
		return 127
	}
	return uint8(max(1, math.Round(v*127)))
}

type heldNote struct {
	note  uint8
	on    time.Time
	off   time.Time
	offID uint64
}

// voice tracks which of its notes are sounding so retriggers can cut them
// cleanly instead of letting a stale NoteOff end a newer note.
type voice struct {
	out     *Output
	channel uint8

	mu       sync.Mutex
	held     []heldNote
	disposed bool
}

// play sounds notes at `at` for dur. With cutAll every note still sounding
// at `at` is released first; otherwise only retriggered pitches are.
func (v *voice) play(names []string, dur time.Duration, at time.Time, velocity float64, cutAll bool) error {
	notes, err := ParseNotes(names)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return ErrVoiceDisposed
	}

	now := time.Now()
	var batch []Event
	kept := v.held[:0]
	for _, h := range v.held {
		if !h.off.After(now) {
			continue // released by its own NoteOff
		}
		sounding := !h.on.After(at) && h.off.After(at)
		if sounding && (cutAll || containsNote(notes, h.note)) {
			if v.out.Unschedule(h.offID) {
				batch = append(batch, noteOff(v.channel, h.note))
			}
			continue
		}
		kept = append(kept, h)
	}
	v.held = kept

	vel := Velocity(velocity)
	for _, n := range notes {
		batch = append(batch, noteOn(v.channel, n, vel))
	}
	if _, err := v.out.Schedule(at, batch...); err != nil {
		return err
	}

	for _, n := range notes {
		off := v.releaseTime(n, at, at.Add(dur))
		id, err := v.out.Schedule(off, noteOff(v.channel, n))
		if err != nil {
			return err
		}
		v.held = append(v.held, heldNote{note: n, on: at, off: off, offID: id})
	}
	return nil
}

// releaseTime ends a note at `at` no later than the start of a same-pitch
// note already scheduled inside its span, so its NoteOff cannot end that
// later note.
func (v *voice) releaseTime(n uint8, at, off time.Time) time.Time {
	for _, h := range v.held {
		if h.note == n && h.on.After(at) && h.on.Before(off) {
			off = h.on
		}
	}
	return off
}

// Dispose releases held notes now and rejects further triggers
func (v *voice) Dispose() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return nil
	}
	v.disposed = true

	var offs []Event
	for _, h := range v.held {
		if v.out.Unschedule(h.offID) {
			offs = append(offs, noteOff(v.channel, h.note))
		}
	}
	v.held = nil
	if len(offs) == 0 {
		return nil
	}
	if err := v.out.Send(offs...); err != nil && !errors.Is(err, ErrOutputClosed) {
		return err
	}
	return nil
}

func containsNote(notes []uint8, n uint8) bool {
	for _, candidate := range notes {
		if candidate == n {
			return true
		}
	}
	return false
}

// PercussiveVoice fires one-shot hits
type PercussiveVoice struct {
	voice
}

func NewPercussiveVoice(out *Output, channel uint8) *PercussiveVoice {
	return &PercussiveVoice{voice{out: out, channel: channel}}
}

func (v *PercussiveVoice) TriggerAttackRelease(notes []string, dur time.Duration, at time.Time, velocity float64) error {
	return v.play(notes, dur, at, velocity, false)
}

// MonophonicVoice plays one note at a time; a new note cuts the previous one
type MonophonicVoice struct {
	voice
}

func NewMonophonicVoice(out *Output, channel uint8) *MonophonicVoice {
	return &MonophonicVoice{voice{out: out, channel: channel}}
}

func (v *MonophonicVoice) TriggerAttackRelease(notes []string, dur time.Duration, at time.Time, velocity float64) error {
	if len(notes) > 1 {
		notes = notes[:1]
	}
	return v.play(notes, dur, at, velocity, true)
}

// PolyphonicVoice plays chords; overlapping chords ring together
type PolyphonicVoice struct {
	voice
}

func NewPolyphonicVoice(out *Output, channel uint8) *PolyphonicVoice {
	return &PolyphonicVoice{voice{out: out, channel: channel}}
}

func (v *PolyphonicVoice) TriggerAttackRelease(notes []string, dur time.Duration, at time.Time, velocity float64) error {
	return v.play(notes, dur, at, velocity, false)
}

// LeadVoice is monophonic and follows each note with fading echo repeats
type LeadVoice struct {
	voice
}

func NewLeadVoice(out *Output, channel uint8) *LeadVoice {
	return &LeadVoice{voice{out: out, channel: channel}}
}

func (v *LeadVoice) TriggerAttackRelease(notes []string, dur time.Duration, at time.Time, velocity float64) error {
	if len(notes) > 1 {
		notes = notes[:1]
	}
	if err := v.play(notes, dur, at, velocity, true); err != nil {
		return err
	}

	level := velocity
	for i := 1; i <= echoMaxRepeat; i++ {
		level *= echoFeedback
		if level < echoFloor {
			break
		}
		echoAt := at.Add(time.Duration(i) * echoDelay)
		if err := v.play(notes, dur, echoAt, level, false); err != nil {
			return err
		}
	}
	return nil
}
