package pattern

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// Steps is the loop length of every pattern
const Steps = 16

// Probability that a randomized step is active
const randomDensity = 0.4

var (
	ErrInvalidIndex      = errors.New("step index out of range")
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// Pattern holds one on/off flag per step
type Pattern [Steps]bool

// String renders the pattern as beats of four cells, e.g. |x---|x---|x---|x---|
func (p Pattern) String() string {
	var b strings.Builder
	b.WriteString("|")
	for i, on := range p {
		if on {
			b.WriteString("x")
		} else {
			b.WriteString("-")
		}
		if i%4 == 3 {
			b.WriteString("|")
		}
	}
	return b.String()
}

// Active returns the indices of active steps
func (p Pattern) Active() []int {
	var steps []int
	for i, on := range p {
		if on {
			steps = append(steps, i)
		}
	}
	return steps
}

// Set holds a pattern for every instrument. It is a value type:
// copies are independent and sets compare with ==.
type Set struct {
	patterns [numInstruments]Pattern
}

// Pattern returns the pattern of one instrument
func (s Set) Pattern(inst Instrument) (Pattern, error) {
	i, ok := inst.index()
	if !ok {
		return Pattern{}, fmt.Errorf("pattern %q: %w", inst, ErrUnknownInstrument)
	}
	return s.patterns[i], nil
}

// Get reports whether a step is active
func (s Set) Get(inst Instrument, step int) (bool, error) {
	i, ok := inst.index()
	if !ok {
		return false, fmt.Errorf("get %q: %w", inst, ErrUnknownInstrument)
	}
	if step < 0 || step >= Steps {
		return false, fmt.Errorf("get %s step %d: %w", inst, step, ErrInvalidIndex)
	}
	return s.patterns[i][step], nil
}

// With returns a copy of the set with one instrument's pattern replaced
func (s Set) With(inst Instrument, p Pattern) (Set, error) {
	i, ok := inst.index()
	if !ok {
		return s, fmt.Errorf("replace %q: %w", inst, ErrUnknownInstrument)
	}
	s.patterns[i] = p
	return s, nil
}

func (s Set) String() string {
	var b strings.Builder
	for _, inst := range Instruments() {
		fmt.Fprintf(&b, "%-5s %s\n", inst, s.patterns[mustIndex(inst)])
	}
	return b.String()
}

// Preset returns the demo pattern loaded at startup
func Preset() Set {
	var s Set
	for i := 0; i < Steps; i++ {
		s.patterns[mustIndex(Kick)][i] = i%4 == 0
		s.patterns[mustIndex(Bass)][i] = i%2 == 0 && (i%4 == 0 || i%4 == 2)
		s.patterns[mustIndex(Pad)][i] = i%4 == 0
	}
	s.patterns[mustIndex(Lead)] = Pattern{
		true, false, false, false,
		true, false, true, false,
		false, true, false, false,
		true, false, true, false,
	}
	return s
}

// Clear returns a set with every step off
func Clear() Set {
	return Set{}
}

// ToggleStep flips a single step and returns the new set
func ToggleStep(s Set, inst Instrument, step int) (Set, error) {
	i, ok := inst.index()
	if !ok {
		return s, fmt.Errorf("toggle %q: %w", inst, ErrUnknownInstrument)
	}
	if step < 0 || step >= Steps {
		return s, fmt.Errorf("toggle %s step %d: %w", inst, step, ErrInvalidIndex)
	}
	s.patterns[i][step] = !s.patterns[i][step]
	return s, nil
}

// RandomizeInstrument replaces one instrument's steps with random hits.
// Other instruments are left as they are.
func RandomizeInstrument(s Set, inst Instrument, rng *rand.Rand) (Set, error) {
	i, ok := inst.index()
	if !ok {
		return s, fmt.Errorf("randomize %q: %w", inst, ErrUnknownInstrument)
	}
	var p Pattern
	for step := range p {
		p[step] = rng.Float64() < randomDensity
	}
	s.patterns[i] = p
	return s, nil
}
