package midi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// DefaultScanTimeout bounds a port scan. CoreMIDI can hang indefinitely;
// the fix on macOS is: sudo killall coreaudiod midiserver
const DefaultScanTimeout = 3 * time.Second

var (
	ErrScanTimeout = errors.New("midi port scan timed out")
	ErrNoSuchPort  = errors.New("midi port not found")
)

// Ports is one snapshot of the system's MIDI ports
type Ports struct {
	Ins  []drivers.In
	Outs []drivers.Out
}

// ScanPorts lists ports, giving up after timeout
func ScanPorts(timeout time.Duration) (Ports, error) {
	ch := make(chan Ports, 1)
	go func() {
		ch <- Ports{Ins: gomidi.GetInPorts(), Outs: gomidi.GetOutPorts()}
	}()

	select {
	case p := <-ch:
		return p, nil
	case <-time.After(timeout):
		return Ports{}, ErrScanTimeout
	}
}

// OutPortNames returns the names of all output ports
func OutPortNames(timeout time.Duration) ([]string, error) {
	ports, err := ScanPorts(timeout)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ports.Outs))
	for i, out := range ports.Outs {
		names[i] = out.String()
	}
	return names, nil
}

// FindOutPort returns the output whose name matches exactly, or failing
// that the first one containing name (case-insensitive)
func FindOutPort(name string, timeout time.Duration) (drivers.Out, error) {
	ports, err := ScanPorts(timeout)
	if err != nil {
		return nil, err
	}

	for _, out := range ports.Outs {
		if out.String() == name {
			return out, nil
		}
	}
	lower := strings.ToLower(name)
	for _, out := range ports.Outs {
		if strings.Contains(strings.ToLower(out.String()), lower) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrNoSuchPort)
}

// CloseDriver releases the MIDI driver. Call once at exit.
func CloseDriver() {
	gomidi.CloseDriver()
}
