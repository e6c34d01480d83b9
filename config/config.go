package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trance-studio/pattern"
)

var ErrInvalid = errors.New("invalid config")

// ControllerConfig is a grid controller to mirror the pattern on
type ControllerConfig struct {
	PortName    string `json:"portName"`
	AutoConnect bool   `json:"autoConnect"`
}

// MIDIConfig selects the synth output
type MIDIConfig struct {
	Port     string         `json:"port,omitempty"`
	Channels map[string]int `json:"channels,omitempty"` // instrument -> 1-16
}

// TransportConfig tunes playback timing. Durations are milliseconds.
type TransportConfig struct {
	LeadMs      int `json:"leadMs,omitempty"`
	RampMs      int `json:"rampMs,omitempty"`
	LookAheadMs int `json:"lookAheadMs,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo int `json:"lastTempo,omitempty"`
}

// HTTPConfig is the control surface of the serve command
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	MIDI        MIDIConfig         `json:"midi"`
	Transport   TransportConfig    `json:"transport"`
	Controllers []ControllerConfig `json:"controllers,omitempty"`
	UI          UIConfig           `json:"ui"`
	HTTP        HTTPConfig         `json:"http"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MIDI: MIDIConfig{
			Channels: map[string]int{
				string(pattern.Kick): 10,
				string(pattern.Bass): 1,
				string(pattern.Pad):  2,
				string(pattern.Lead): 3,
			},
		},
		Transport: TransportConfig{
			LeadMs:      100,
			RampMs:      150,
			LookAheadMs: 50,
		},
		Controllers: []ControllerConfig{
			{PortName: "Launchpad X LPX MIDI", AutoConnect: true},
		},
		UI:   UIConfig{LastTempo: 138},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8138"},
	}
}

// Dir returns the config directory path
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "trance-studio"), nil
}

// Path returns the full path to config.json
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from its default location
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads path over the defaults. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks channel assignments and timings
func (c *Config) Validate() error {
	for name, ch := range c.MIDI.Channels {
		if _, err := pattern.ParseInstrument(name); err != nil {
			return fmt.Errorf("%w: channel for %q: %w", ErrInvalid, name, err)
		}
		if ch < 1 || ch > 16 {
			return fmt.Errorf("%w: %s channel %d outside 1-16", ErrInvalid, name, ch)
		}
	}
	t := c.Transport
	if t.LeadMs < 0 || t.RampMs < 0 || t.LookAheadMs < 0 {
		return fmt.Errorf("%w: negative transport timing", ErrInvalid)
	}
	return nil
}

// Save writes the config to its default location
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Channels returns the 1-based channel per instrument
func (c *Config) Channels() map[pattern.Instrument]uint8 {
	out := make(map[pattern.Instrument]uint8, len(c.MIDI.Channels))
	for name, ch := range c.MIDI.Channels {
		inst, err := pattern.ParseInstrument(name)
		if err != nil || ch < 1 || ch > 16 {
			continue
		}
		out[inst] = uint8(ch)
	}
	return out
}

func (c *Config) Lead() time.Duration {
	return time.Duration(c.Transport.LeadMs) * time.Millisecond
}

func (c *Config) Ramp() time.Duration {
	return time.Duration(c.Transport.RampMs) * time.Millisecond
}

func (c *Config) LookAhead() time.Duration {
	return time.Duration(c.Transport.LookAheadMs) * time.Millisecond
}

// AutoConnectControllers returns controllers with autoConnect enabled
func (c *Config) AutoConnectControllers() []ControllerConfig {
	var result []ControllerConfig
	for _, ctrl := range c.Controllers {
		if ctrl.AutoConnect {
			result = append(result, ctrl)
		}
	}
	return result
}
