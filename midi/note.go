package midi

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrBadNote = errors.New("invalid note name")

var semitones = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// ParseNote converts a scientific pitch name ("C4", "F#3", "Bb-1") to a
// MIDI note number. C4 is 60.
func ParseNote(name string) (uint8, error) {
	if len(name) < 2 {
		return 0, fmt.Errorf("%q: %w", name, ErrBadNote)
	}

	base, ok := semitones[name[0]]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrBadNote)
	}

	rest := name[1:]
	switch rest[0] {
	case '#':
		base++
		rest = rest[1:]
	case 'b':
		base--
		rest = rest[1:]
	}

	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", name, ErrBadNote)
	}

	n := (octave+1)*12 + base
	if n < 0 || n > 127 {
		return 0, fmt.Errorf("%q out of range: %w", name, ErrBadNote)
	}
	return uint8(n), nil
}

// ParseNotes converts a list of names, failing on the first bad one
func ParseNotes(names []string) ([]uint8, error) {
	notes := make([]uint8, len(names))
	for i, name := range names {
		n, err := ParseNote(name)
		if err != nil {
			return nil, err
		}
		notes[i] = n
	}
	return notes, nil
}
