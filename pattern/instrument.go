package pattern

import "fmt"

// Instrument identifies one of the four sequencer tracks
type Instrument string

const (
	Kick Instrument = "kick"
	Bass Instrument = "bass"
	Pad  Instrument = "pad"
	Lead Instrument = "lead"
)

const numInstruments = 4

var instruments = [numInstruments]Instrument{Kick, Bass, Pad, Lead}

// InstrumentInfo is the static display data for a track
type InstrumentInfo struct {
	Name        string
	Description string
}

var infos = map[Instrument]InstrumentInfo{
	Kick: {Name: "Kick", Description: "steady four-on-the-floor backbone"},
	Bass: {Name: "Bass", Description: "rolling bass for rhythmic drive"},
	Pad:  {Name: "Pad", Description: "wide chords for atmosphere"},
	Lead: {Name: "Lead", Description: "bright main melody"},
}

// Instruments returns all instruments in track order
func Instruments() []Instrument {
	out := make([]Instrument, numInstruments)
	copy(out, instruments[:])
	return out
}

// ParseInstrument maps a name to an instrument
func ParseInstrument(name string) (Instrument, error) {
	inst := Instrument(name)
	if _, ok := inst.index(); !ok {
		return "", fmt.Errorf("parse %q: %w", name, ErrUnknownInstrument)
	}
	return inst, nil
}

// Info returns display name and description
func Info(inst Instrument) (InstrumentInfo, error) {
	info, ok := infos[inst]
	if !ok {
		return InstrumentInfo{}, fmt.Errorf("info %q: %w", inst, ErrUnknownInstrument)
	}
	return info, nil
}

// Valid reports whether inst is one of the four tracks
func (inst Instrument) Valid() bool {
	_, ok := inst.index()
	return ok
}

func (inst Instrument) index() (int, bool) {
	for i, candidate := range instruments {
		if candidate == inst {
			return i, true
		}
	}
	return 0, false
}

func mustIndex(inst Instrument) int {
	i, ok := inst.index()
	if !ok {
		panic(fmt.Sprintf("pattern: unknown instrument %q", inst))
	}
	return i
}
