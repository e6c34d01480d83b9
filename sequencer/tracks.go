package sequencer

import (
	"time"

	"trance-studio/pattern"
)

// NoteValue is a note length relative to the beat
type NoteValue int

const (
	WholeNote     NoteValue = 1
	HalfNote      NoteValue = 2
	QuarterNote   NoteValue = 4
	EighthNote    NoteValue = 8
	SixteenthNote NoteValue = 16
)

// Duration resolves the note length at a tempo
func (n NoteValue) Duration(bpm float64) time.Duration {
	if bpm <= 0 || n <= 0 {
		return 0
	}
	beat := float64(time.Minute) / bpm
	return time.Duration(beat * 4 / float64(n))
}

// Track is the static playback configuration of one instrument
type Track struct {
	Instrument  pattern.Instrument
	Subdivision Subdivision
	Length      NoteValue
	Velocity    float64
	Notes       func(step int) []string
}

var (
	bassNotes = []string{"C2", "G1", "A1", "F1"}
	padChords = [][]string{
		{"C4", "E4", "G4"},
		{"A3", "C4", "E4"},
		{"F3", "A3", "C4"},
		{"G3", "B3", "D4"},
	}
	leadScale = []string{"C5", "D5", "E5", "G5", "A5", "B5", "C6"}
)

// Tracks returns the playback table in instrument order
func Tracks() []Track {
	return []Track{
		{
			Instrument:  pattern.Kick,
			Subdivision: Sixteenth,
			Length:      EighthNote,
			Velocity:    1.0,
			Notes:       func(int) []string { return []string{"C2"} },
		},
		{
			Instrument:  pattern.Bass,
			Subdivision: Sixteenth,
			Length:      EighthNote,
			Velocity:    0.8,
			Notes: func(step int) []string {
				return []string{bassNotes[(step/4)%len(bassNotes)]}
			},
		},
		{
			// Pad ticks once per quarter note, so only every 4th pad step is read
			Instrument:  pattern.Pad,
			Subdivision: Quarter,
			Length:      HalfNote,
			Velocity:    0.4,
			Notes: func(step int) []string {
				return padChords[(step/4)%len(padChords)]
			},
		},
		{
			Instrument:  pattern.Lead,
			Subdivision: Sixteenth,
			Length:      SixteenthNote,
			Velocity:    0.7,
			Notes: func(step int) []string {
				return []string{leadScale[(step*2)%len(leadScale)]}
			},
		},
	}
}
