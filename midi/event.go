package midi

import (
	"fmt"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// MIDI message types
const (
	NoteOn  uint8 = 0x90
	NoteOff uint8 = 0x80
)

// Event is a note message bound for an output
type Event struct {
	Type     uint8 // NoteOn, NoteOff
	Channel  uint8 // 0-15
	Note     uint8
	Velocity uint8
}

// Message encodes the event for the wire
func (e Event) Message() gomidi.Message {
	if e.Type == NoteOn {
		return gomidi.NoteOn(e.Channel, e.Note, e.Velocity)
	}
	return gomidi.NoteOff(e.Channel, e.Note)
}

func (e Event) String() string {
	kind := "off"
	if e.Type == NoteOn {
		kind = "on"
	}
	return fmt.Sprintf("%s ch=%d note=%d vel=%d", kind, e.Channel+1, e.Note, e.Velocity)
}

func noteOn(channel, note, velocity uint8) Event {
	return Event{Type: NoteOn, Channel: channel, Note: note, Velocity: velocity}
}

func noteOff(channel, note uint8) Event {
	return Event{Type: NoteOff, Channel: channel, Note: note}
}

// scheduled is a batch of events sent together at one time
type scheduled struct {
	id      uint64
	at      time.Time
	events  []Event
	release bool // only NoteOffs
	timer   *time.Timer
}

func releaseOnly(events []Event) bool {
	for _, ev := range events {
		if ev.Type != NoteOff {
			return false
		}
	}
	return len(events) > 0
}

// before orders batches by time; at the same instant releases go first so
// a note ending exactly where the next one starts never cuts it
func (s *scheduled) before(other *scheduled) bool {
	if !s.at.Equal(other.at) {
		return s.at.Before(other.at)
	}
	if s.release != other.release {
		return s.release
	}
	return s.id < other.id
}
