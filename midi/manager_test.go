package midi

import (
	"testing"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

type fakePort struct {
	name string
}

func (p fakePort) Open() error             { return nil }
func (p fakePort) Close() error            { return nil }
func (p fakePort) IsOpen() bool            { return true }
func (p fakePort) Number() int             { return 0 }
func (p fakePort) String() string          { return p.name }
func (p fakePort) Underlying() interface{} { return nil }
func (p fakePort) Send([]byte) error       { return nil }
func (p fakePort) Listen(func([]byte, int32), drivers.ListenConfig) (func(), error) {
	return func() {}, nil
}

type fakeController struct {
	id     string
	closed bool
}

func (c *fakeController) ID() string                    { return c.id }
func (c *fakeController) Type() ControllerType          { return ControllerLaunchpad }
func (c *fakeController) PadEvents() <-chan PadEvent    { return nil }
func (c *fakeController) SetLEDBatch([]LEDUpdate) error { return nil }
func (c *fakeController) Close() error                  { c.closed = true; return nil }

func newTestManager(opened map[string]*fakeController) *DeviceManager {
	dm := NewDeviceManager()
	dm.open = func(id string, in drivers.In, out drivers.Out) (Controller, error) {
		c := &fakeController{id: id}
		opened[id] = c
		return c, nil
	}
	return dm
}

func TestReconcileConnectsAndDisconnects(t *testing.T) {
	opened := make(map[string]*fakeController)
	dm := newTestManager(opened)

	lp := "Launchpad X LPX MIDI"
	ports := Ports{
		Ins:  []drivers.In{fakePort{"IAC Bus 1"}, fakePort{lp}},
		Outs: []drivers.Out{fakePort{"IAC Bus 1"}, fakePort{lp}},
	}

	dm.reconcile(ports)
	if len(opened) != 1 || opened[lp] == nil {
		t.Fatalf("opened = %v, want only %q", opened, lp)
	}
	ev := <-dm.Events()
	if ev.Type != DeviceConnected || ev.ID != lp {
		t.Errorf("event = %+v, want connect of %q", ev, lp)
	}
	if dm.Launchpad() == nil {
		t.Error("Launchpad() = nil after connect")
	}

	// same ports again: nothing new
	dm.reconcile(ports)
	if len(dm.Events()) != 0 {
		t.Errorf("%d events for an unchanged scan", len(dm.Events()))
	}

	dm.reconcile(Ports{})
	ev = <-dm.Events()
	if ev.Type != DeviceDisconnected || ev.ID != lp {
		t.Errorf("event = %+v, want disconnect of %q", ev, lp)
	}
	if !opened[lp].closed {
		t.Error("controller not closed on disconnect")
	}
	if dm.Launchpad() != nil {
		t.Error("Launchpad() still set after disconnect")
	}
}

func TestIsLaunchpad(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Launchpad X LPX MIDI", true},
		{"LPX DAW", false},
		{"Launchpad X LPX DAW", false},
		{"IAC Driver Bus 1", false},
	}
	for _, tt := range tests {
		if got := isLaunchpad(tt.name); got != tt.want {
			t.Errorf("isLaunchpad(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLaunchpadHandleMessage(t *testing.T) {
	lp := &LaunchpadController{padChan: make(chan PadEvent, 4)}

	lp.handleMessage(gomidi.NoteOn(0, 34, 100), 0)
	lp.handleMessage(gomidi.NoteOn(0, 34, 0), 0) // release
	lp.handleMessage(gomidi.ControlChange(0, 95, 127), 0)

	want := []PadEvent{
		{Row: 2, Col: 3, Velocity: 100},
		{Row: TopRow, Col: 4, Velocity: 127},
	}
	for _, w := range want {
		got := <-lp.PadEvents()
		if got != w {
			t.Errorf("pad event = %+v, want %+v", got, w)
		}
	}
	if len(lp.padChan) != 0 {
		t.Errorf("%d unexpected pad events", len(lp.padChan))
	}
}
