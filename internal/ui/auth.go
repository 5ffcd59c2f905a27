package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// loginForm collects the admin password, plus a confirmation when no password exists yet.
type loginForm struct {
	setup  bool
	inputs []textinput.Model
	focus  int
}

func newPasswordInput(placeholder string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.CharLimit = 128
	in.Width = 32
	return in
}

func newLoginForm(setup bool) loginForm {
	f := loginForm{setup: setup, inputs: []textinput.Model{newPasswordInput("password")}}
	if setup {
		f.inputs = append(f.inputs, newPasswordInput("confirm password"))
	}
	f.inputs[0].Focus()
	return f
}

func (f loginForm) password() string { return f.inputs[0].Value() }

func (f loginForm) confirmation() string {
	if len(f.inputs) < 2 {
		return ""
	}
	return f.inputs[1].Value()
}

// last reports whether the focused field is the final one.
func (f loginForm) last() bool { return f.focus == len(f.inputs)-1 }

func (f *loginForm) move(delta int) {
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + delta + len(f.inputs)) % len(f.inputs)
	f.inputs[f.focus].Focus()
}

func (f *loginForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f loginForm) view(errMsg, help string) string {
	var b strings.Builder
	if f.setup {
		b.WriteString(styles.title.Render("Set an admin password"))
		b.WriteString("\nThe backend has no password yet. Choose one to protect the admin API.\n\n")
	} else {
		b.WriteString(styles.title.Render("Log in"))
		b.WriteString("\n")
	}
	for _, in := range f.inputs {
		b.WriteString(in.View() + "\n")
	}
	if errMsg != "" {
		b.WriteString("\n" + styles.err.Render(errMsg) + "\n")
	}
	return fmt.Sprintf("%s\n%s", b.String(), help)
}
