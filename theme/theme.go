package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"trance-studio/pattern"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	StepEmpty    rune // · inactive step
	StepActive   rune // ● has hit
	StepPlayhead rune // ▶ playhead on an empty step

	CursorEmpty  rune // ○ cursor on empty
	CursorActive rune // ◉ cursor on active
}

func New(palette *Palette) *Theme {
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			StepEmpty:    '·',
			StepActive:   '●',
			StepPlayhead: '▶',

			CursorEmpty:  '○',
			CursorActive: '◉',
		},
	}
}

// Default uses the built-in palette
func Default() *Theme {
	return New(DefaultPalette())
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleSurface = 0.1
	RoleMuted   = 0.2
	RoleFG      = 0.4
	RoleAccent  = 0.5
	RoleCursor  = 0.6
	RoleActive  = 0.7
	RoleWarning = 0.8
	RoleSuccess = 1.0
)

// Track colors, spread across the palette
var instrumentRoles = map[pattern.Instrument]float64{
	pattern.Kick: 0.6,
	pattern.Bass: 0.75,
	pattern.Pad:  0.35,
	pattern.Lead: 0.9,
}

func (t *Theme) BG() lipgloss.Color      { return t.Color(RoleBG) }
func (t *Theme) Surface() lipgloss.Color { return t.Color(RoleSurface) }
func (t *Theme) FG() lipgloss.Color      { return t.Color(RoleFG) }
func (t *Theme) Accent() lipgloss.Color  { return t.Color(RoleAccent) }
func (t *Theme) Muted() lipgloss.Color   { return t.Color(RoleMuted) }
func (t *Theme) Active() lipgloss.Color  { return t.Color(RoleActive) }
func (t *Theme) Cursor() lipgloss.Color  { return t.Color(RoleCursor) }
func (t *Theme) Warning() lipgloss.Color { return t.Color(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.Color(RoleSuccess) }

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return Hex(t.Palette.Lookup(norm))
}

// RGB returns raw RGB for any normalized value (for Launchpad)
func (t *Theme) RGB(norm float64) RGB {
	return t.Palette.Lookup(norm)
}

// Instrument returns the track color of inst
func (t *Theme) Instrument(inst pattern.Instrument) RGB {
	role, ok := instrumentRoles[inst]
	if !ok {
		role = RoleFG
	}
	return t.Palette.Lookup(role)
}

// InstrumentColor is Instrument as a lipgloss color
func (t *Theme) InstrumentColor(inst pattern.Instrument) lipgloss.Color {
	return Hex(t.Instrument(inst))
}

// Hex formats c as #rrggbb
func Hex(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
