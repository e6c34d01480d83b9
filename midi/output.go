package midi

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trance-studio/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

var ErrOutputClosed = errors.New("midi output closed")

// Output sends note events to one MIDI port, now or at a scheduled time.
// Events of one batch are sent in order; pending batches can be dropped
// with Cancel.
type Output struct {
	send func(gomidi.Message) error

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*scheduled
	sounding map[[2]uint8]int // channel, note -> open NoteOns
	closed   bool
}

// NewOutput wraps a send function
func NewOutput(send func(gomidi.Message) error) *Output {
	return &Output{
		send:     send,
		pending:  make(map[uint64]*scheduled),
		sounding: make(map[[2]uint8]int),
	}
}

// Open connects to an output port
func Open(port drivers.Out) (*Output, error) {
	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port.String(), err)
	}
	return NewOutput(send), nil
}

// Send writes events immediately
func (o *Output) Send(events ...Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOutputClosed
	}
	return o.sendLocked(events)
}

func (o *Output) sendLocked(events []Event) error {
	var firstErr error
	for _, ev := range events {
		key := [2]uint8{ev.Channel, ev.Note}
		switch ev.Type {
		case NoteOn:
			o.sounding[key]++
		case NoteOff:
			if o.sounding[key] > 1 {
				o.sounding[key]--
			} else {
				delete(o.sounding, key)
			}
		}
		if err := o.send(ev.Message()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Schedule sends events at the given time and returns an id for Unschedule.
// Events due now or in the past are sent right away and the id is 0.
func (o *Output) Schedule(at time.Time, events ...Event) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, ErrOutputClosed
	}

	delay := time.Until(at)
	if delay <= 0 {
		return 0, o.sendLocked(events)
	}

	o.nextID++
	id := o.nextID
	s := &scheduled{id: id, at: at, events: events, release: releaseOnly(events)}
	s.timer = time.AfterFunc(delay, func() { o.fire(id) })
	o.pending[id] = s
	return id, nil
}

// fire sends batch id together with every other batch due no later than
// it, in order, so timers that wake out of order cannot reorder the wire
func (o *Output) fire(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	target, ok := o.pending[id]
	if !ok {
		return // cancelled, or flushed by an earlier fire
	}

	var due []*scheduled
	for _, s := range o.pending {
		if !s.at.After(target.at) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].before(due[j]) })

	for _, s := range due {
		s.timer.Stop()
		delete(o.pending, s.id)
		if err := o.sendLocked(s.events); err != nil {
			debug.Log("midi-out", "send at %s: %v", s.at.Format("15:04:05.000"), err)
		}
	}
}

// Unschedule drops a pending batch. It reports false when the batch has
// already been sent or was never scheduled.
func (o *Output) Unschedule(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.pending[id]
	if !ok {
		return false
	}
	s.timer.Stop()
	delete(o.pending, id)
	return true
}

// Pending returns the number of batches waiting to be sent
func (o *Output) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Cancel drops every pending batch and silences any note left sounding
func (o *Output) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
}

func (o *Output) cancelLocked() {
	for id, s := range o.pending {
		s.timer.Stop()
		delete(o.pending, id)
	}

	var offs []Event
	for key := range o.sounding {
		offs = append(offs, noteOff(key[0], key[1]))
	}
	if len(offs) > 0 {
		debug.Log("midi-out", "cancel: releasing %d notes", len(offs))
		o.sendLocked(offs)
	}
}

// Close cancels everything pending; later sends fail with ErrOutputClosed
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.cancelLocked()
	o.closed = true
	return nil
}
