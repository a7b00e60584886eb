package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all key bindings
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Add    key.Binding
	Done   key.Binding
	Delete key.Binding
	Sync   key.Binding
	Help   key.Binding
	Quit   key.Binding
	Escape key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Enter:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save")),
	Add:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add task")),
	Done:   key.NewBinding(key.WithKeys("x", " "), key.WithHelp("x", "toggle done")),
	Delete: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Sync:   key.NewBinding(key.WithKeys("s", "r", "R"), key.WithHelp("s", "sync now")),
	Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Escape: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}
