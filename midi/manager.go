package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	"trance-studio/debug"

	"gitlab.com/gomidi/midi/v2/drivers"
)

// DeviceEvent is emitted when controllers connect/disconnect
type DeviceEvent struct {
	Type       DeviceEventType
	Controller Controller
	ID         string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// DeviceManager watches for grid controllers being plugged in and out
type DeviceManager struct {
	controllers map[string]Controller
	mu          sync.RWMutex
	events      chan DeviceEvent
	pollRate    time.Duration

	// open builds a controller from matching ports; replaced in tests
	open func(id string, in drivers.In, out drivers.Out) (Controller, error)
}

// NewDeviceManager creates a new device manager
func NewDeviceManager() *DeviceManager {
	return &DeviceManager{
		controllers: make(map[string]Controller),
		events:      make(chan DeviceEvent, 16),
		pollRate:    time.Second,
		open: func(id string, in drivers.In, out drivers.Out) (Controller, error) {
			return NewLaunchpadController(id, in, out)
		},
	}
}

// Events returns a channel of device connect/disconnect events.
// It is closed when Run returns.
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Launchpad returns the first connected Launchpad (or nil)
func (dm *DeviceManager) Launchpad() Controller {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	for _, c := range dm.controllers {
		if c.Type() == ControllerLaunchpad {
			return c
		}
	}
	return nil
}

// Run polls for devices until ctx is done
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	dm.scan()
	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan()
		}
	}
}

func (dm *DeviceManager) scan() {
	ports, err := ScanPorts(DefaultScanTimeout)
	if err != nil {
		debug.Log("devices", "scan skipped: %v", err)
		return
	}
	dm.reconcile(ports)
}

// reconcile opens newly seen Launchpads and drops vanished ones
func (dm *DeviceManager) reconcile(ports Ports) {
	seen := make(map[string]bool)

	for _, in := range ports.Ins {
		name := in.String()
		if !isLaunchpad(name) {
			continue
		}
		seen[name] = true

		dm.mu.RLock()
		_, exists := dm.controllers[name]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		var out drivers.Out
		for _, candidate := range ports.Outs {
			if strings.EqualFold(candidate.String(), name) {
				out = candidate
				break
			}
		}

		ctrl, err := dm.open(name, in, out)
		if err != nil {
			debug.Log("devices", "open %s: %v", name, err)
			continue
		}

		dm.mu.Lock()
		dm.controllers[name] = ctrl
		dm.mu.Unlock()
		debug.Log("devices", "connected %s", name)
		dm.events <- DeviceEvent{Type: DeviceConnected, Controller: ctrl, ID: name}
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	for id, ctrl := range dm.controllers {
		if seen[id] {
			continue
		}
		ctrl.Close()
		delete(dm.controllers, id)
		debug.Log("devices", "disconnected %s", id)
		dm.events <- DeviceEvent{Type: DeviceDisconnected, ID: id}
	}
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, c := range dm.controllers {
		c.Close()
	}
	dm.controllers = make(map[string]Controller)
}

func isLaunchpad(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "launchpad") && strings.Contains(name, "midi")
}
