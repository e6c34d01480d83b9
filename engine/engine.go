package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trance-studio/debug"
	"trance-studio/midi"
	"trance-studio/pattern"
	"trance-studio/sequencer"
)

var ErrNoPort = errors.New("no midi output port configured")

// DefaultChannels are 1-based MIDI channels per instrument
var DefaultChannels = map[pattern.Instrument]uint8{
	pattern.Kick: 10,
	pattern.Bass: 1,
	pattern.Pad:  2,
	pattern.Lead: 3,
}

// Options configure the MIDI engine
type Options struct {
	Port        string
	Channels    map[pattern.Instrument]uint8 // 1-16
	LookAhead   time.Duration
	ScanTimeout time.Duration
}

// opener connects to the output, returning a function that releases it
type opener func(ctx context.Context) (*midi.Output, func() error, error)

// MIDI drives an external synthesizer through one MIDI output port.
// Nothing touches the port until Init.
type MIDI struct {
	opts      Options
	open      opener
	transport *Transport

	mu      sync.Mutex
	out     *midi.Output
	release func() error
	voices  map[pattern.Instrument]sequencer.Voice
}

// New creates an engine for the configured port
func New(opts Options) *MIDI {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = midi.DefaultScanTimeout
	}
	e := &MIDI{opts: opts}
	e.open = e.openPort
	e.transport = NewTransport(opts.LookAhead, e.cancelOutput)
	return e
}

func (e *MIDI) openPort(ctx context.Context) (*midi.Output, func() error, error) {
	if e.opts.Port == "" {
		return nil, nil, ErrNoPort
	}

	type result struct {
		out  *midi.Output
		stop func() error
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		port, err := midi.FindOutPort(e.opts.Port, e.opts.ScanTimeout)
		if err != nil {
			ch <- result{err: err}
			return
		}
		out, err := midi.Open(port)
		ch <- result{out: out, stop: port.Close, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.stop, r.err
	case <-ctx.Done():
		go func() {
			// release a port opened after we stopped waiting
			if r := <-ch; r.err == nil {
				r.out.Close()
				r.stop()
			}
		}()
		return nil, nil, ctx.Err()
	}
}

// Init opens the output port and builds one voice per instrument
func (e *MIDI) Init(ctx context.Context) error {
	out, release, err := e.open(ctx)
	if err != nil {
		return fmt.Errorf("open %q: %w", e.opts.Port, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = out
	e.release = release
	e.voices = map[pattern.Instrument]sequencer.Voice{
		pattern.Kick: midi.NewPercussiveVoice(out, e.channel(pattern.Kick)),
		pattern.Bass: midi.NewMonophonicVoice(out, e.channel(pattern.Bass)),
		pattern.Pad:  midi.NewPolyphonicVoice(out, e.channel(pattern.Pad)),
		pattern.Lead: midi.NewLeadVoice(out, e.channel(pattern.Lead)),
	}
	debug.Log("engine", "output %q open", e.opts.Port)
	return nil
}

// channel returns the 0-based wire channel for inst
func (e *MIDI) channel(inst pattern.Instrument) uint8 {
	ch, ok := e.opts.Channels[inst]
	if !ok || ch < 1 || ch > 16 {
		ch = DefaultChannels[inst]
	}
	return ch - 1
}

func (e *MIDI) Transport() sequencer.Transport {
	return e.transport
}

func (e *MIDI) NewSequence(sub sequencer.Subdivision, steps int, fn sequencer.TickFunc) sequencer.Sequence {
	return e.transport.NewSequence(sub, steps, fn)
}

// Voice returns the voice for inst, or nil before Init
func (e *MIDI) Voice(inst pattern.Instrument) sequencer.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voices[inst]
}

func (e *MIDI) cancelOutput() {
	e.mu.Lock()
	out := e.out
	e.mu.Unlock()
	if out != nil {
		out.Cancel()
	}
}

// Close stops the clock and releases the port
func (e *MIDI) Close() error {
	e.transport.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out == nil {
		return nil
	}

	err := e.out.Close()
	if e.release != nil {
		err = errors.Join(err, e.release())
	}
	e.out = nil
	e.release = nil
	e.voices = nil
	return err
}
