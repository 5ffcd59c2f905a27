package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up      key.Binding
	down    key.Binding
	enter   key.Binding
	back    key.Binding
	tab     key.Binding
	add     key.Binding
	remove  key.Binding
	use     key.Binding
	refresh key.Binding
	submit  key.Binding
	retry   key.Binding
	localDB key.Binding
	v1      key.Binding
	logout  key.Binding
	yes     key.Binding
	no      key.Binding
	quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		enter:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		back:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		tab:     key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "switch tab")),
		add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add account")),
		remove:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		use:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "switch to")),
		refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh quotas")),
		submit:  key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "submit")),
		retry:   key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "new link")),
		localDB: key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "from IDE")),
		v1:      key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "from v1 app")),
		logout:  key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "log out")),
		yes:     key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
		no:      key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "no")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.enter},
		{k.add, k.remove, k.use, k.refresh},
		{k.logout, k.quit},
	}
}
