package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Left      key.Binding
	Right     key.Binding
	Toggle    key.Binding
	Play      key.Binding
	Faster    key.Binding
	Slower    key.Binding
	Preset    key.Binding
	Clear     key.Binding
	RandLead  key.Binding
	RandTrack key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("↓/j", "down")),
		Left:      key.NewBinding(key.WithKeys("h", "left"), key.WithHelp("←/h", "left")),
		Right:     key.NewBinding(key.WithKeys("l", "right"), key.WithHelp("→/l", "right")),
		Toggle:    key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "toggle")),
		Play:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "play/stop")),
		Faster:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "tempo up")),
		Slower:    key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "tempo down")),
		Preset:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "preset")),
		Clear:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
		RandLead:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "random lead")),
		RandTrack: key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "random track")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "tips")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Play, k.Faster, k.Slower, k.Preset, k.Clear, k.RandLead, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right},
		{k.Toggle, k.Play, k.Faster, k.Slower},
		{k.Preset, k.Clear, k.RandLead, k.RandTrack},
		{k.Help, k.Quit},
	}
}
