package ui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/oauth"
	"github.com/desertthunder/agx/internal/tasks"
)

var dialogTabs = []oauth.Tab{oauth.TabOAuth, oauth.TabToken, oauth.TabImport}

// addDialog is the add-account dialog state owned by the shell.
type addDialog struct {
	tab     oauth.Tab
	variant oauth.Variant
	session oauth.Session

	code   textinput.Model
	tokens textarea.Model
	path   textinput.Model

	cancel     context.CancelFunc
	progressCh chan tasks.ProgressUpdate
	doneCh     chan importData
	progress   tasks.ProgressUpdate
	result     *tasks.Result
	err        error
}

func newAddDialog(variant oauth.Variant) *addDialog {
	code := textinput.New()
	code.Placeholder = "paste the redirect URL or code"
	code.Width = 60

	tokens := textarea.New()
	tokens.Placeholder = "paste refresh tokens (1//...) or a JSON export"
	tokens.SetWidth(64)
	tokens.SetHeight(6)

	path := textinput.New()
	path.Placeholder = "path to a .json or .yaml file"
	path.Width = 60
	if variant == oauth.VariantBridge {
		path.Placeholder = "path to a .json, .yaml or .vscdb file"
	}

	d := &addDialog{tab: oauth.TabOAuth, variant: variant, code: code, tokens: tokens, path: path}
	d.focus()
	return d
}

func (d *addDialog) running() bool { return d.cancel != nil }

func (d *addDialog) nextTab(delta int) oauth.Tab {
	for i, t := range dialogTabs {
		if t == d.tab {
			return dialogTabs[(i+delta+len(dialogTabs))%len(dialogTabs)]
		}
	}
	return oauth.TabOAuth
}

func (d *addDialog) focus() {
	d.code.Blur()
	d.tokens.Blur()
	d.path.Blur()
	switch d.tab {
	case oauth.TabOAuth:
		if d.variant == oauth.VariantWeb {
			d.code.Focus()
		}
	case oauth.TabToken:
		d.tokens.Focus()
	case oauth.TabImport:
		d.path.Focus()
	}
}

func (d *addDialog) updateInput(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch d.tab {
	case oauth.TabOAuth:
		if d.variant == oauth.VariantWeb {
			d.code, cmd = d.code.Update(msg)
		}
	case oauth.TabToken:
		d.tokens, cmd = d.tokens.Update(msg)
	case oauth.TabImport:
		d.path, cmd = d.path.Update(msg)
	}
	return cmd
}

// handleDialogKeys routes keys while the add dialog is open.
func (m *Model) handleDialogKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	d := m.dialog

	switch {
	case key.Matches(msg, m.keys.back):
		if d.running() {
			d.cancel()
			return m, nil
		}
		return m, m.closeDialog()
	case key.Matches(msg, m.keys.tab):
		if d.running() {
			return m, nil
		}
		delta := 1
		if msg.String() == "shift+tab" {
			delta = -1
		}
		d.tab = d.nextTab(delta)
		d.result, d.err = nil, nil
		d.focus()
		tab := d.tab
		return m, m.oauthStep(func(ctx context.Context) error { return m.deps.OAuth.SwitchTab(ctx, tab) })
	}

	if d.running() {
		return m, nil
	}

	switch d.tab {
	case oauth.TabOAuth:
		return m.handleOAuthKeys(msg)
	case oauth.TabToken:
		if key.Matches(msg, m.keys.submit) {
			raw := d.tokens.Value()
			return m, m.startImport(func(ctx context.Context, ch chan<- tasks.ProgressUpdate) (*tasks.Result, error) {
				return m.deps.Importer.ImportText(ctx, raw, ch)
			})
		}
	case oauth.TabImport:
		bridged := d.variant == oauth.VariantBridge
		switch {
		case bridged && key.Matches(msg, m.keys.localDB):
			return m, m.startLocalImport("ide", m.deps.Admin.ImportFromDB)
		case bridged && key.Matches(msg, m.keys.v1):
			return m, m.startLocalImport("v1", m.deps.Admin.ImportV1Accounts)
		case key.Matches(msg, m.keys.enter):
			path := strings.TrimSpace(d.path.Value())
			if bridged && strings.EqualFold(filepath.Ext(path), ".vscdb") {
				return m, m.startLocalImport(filepath.Base(path), func(ctx context.Context) ([]models.Account, error) {
					return m.deps.Admin.ImportCustomDB(ctx, path)
				})
			}
			return m, m.startImport(func(ctx context.Context, ch chan<- tasks.ProgressUpdate) (*tasks.Result, error) {
				return m.deps.Importer.ImportFile(ctx, path, ch)
			})
		}
	}
	return m, d.updateInput(msg)
}

func (m *Model) handleOAuthKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	d := m.dialog
	ctrl := m.deps.OAuth

	switch {
	case key.Matches(msg, m.keys.retry):
		return m, m.oauthStep(ctrl.Prepare)
	case key.Matches(msg, m.keys.enter):
		if code := strings.TrimSpace(d.code.Value()); d.variant == oauth.VariantWeb && code != "" {
			d.code.SetValue("")
			return m, m.oauthStep(func(ctx context.Context) error { return ctrl.SubmitCode(ctx, code) })
		}
		switch d.session.Phase {
		case oauth.URLPrepared:
			return m, m.oauthStep(ctrl.Start)
		case oauth.AwaitingCompletion:
			if d.variant == oauth.VariantBridge {
				return m, m.oauthStep(ctrl.Finish)
			}
		case oauth.Failed, oauth.Cancelled:
			return m, m.oauthStep(ctrl.Prepare)
		}
		return m, nil
	}
	return m, d.updateInput(msg)
}

// oauthStep runs one controller operation. Its failures surface through the session.
func (m *Model) oauthStep(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg(sourceOAuth, "", false, fn(ctx))
	}
}

func (m *Model) openDialog() tea.Cmd {
	m.dialog = newAddDialog(m.deps.OAuth.Variant())
	return m.oauthStep(func(ctx context.Context) error { return m.deps.OAuth.Open(ctx, oauth.TabOAuth) })
}

func (m *Model) closeDialog() tea.Cmd {
	if m.dialog == nil {
		return nil
	}
	if m.dialog.running() {
		m.dialog.cancel()
	}
	m.dialog = nil
	ctx := m.ctx
	return func() tea.Msg {
		m.deps.OAuth.Close(ctx)
		return nil
	}
}

func (m *Model) startImport(run func(context.Context, chan<- tasks.ProgressUpdate) (*tasks.Result, error)) tea.Cmd {
	d := m.dialog
	ctx, cancel := context.WithCancel(m.ctx)
	d.cancel = cancel
	d.result, d.err = nil, nil
	d.progress = tasks.ProgressUpdate{Message: "Starting import..."}
	d.progressCh = make(chan tasks.ProgressUpdate, 50)
	d.doneCh = make(chan importData, 1)

	progressCh, doneCh := d.progressCh, d.doneCh
	go func() {
		result, err := run(ctx, progressCh)
		doneCh <- importData{owner: d, result: result, err: err}
		close(progressCh)
	}()

	return waitForProgress(d)
}

// startLocalImport runs one of the shell's own importers and reports it like a batch.
func (m *Model) startLocalImport(source string, fn func(context.Context) ([]models.Account, error)) tea.Cmd {
	return m.startImport(func(ctx context.Context, ch chan<- tasks.ProgressUpdate) (*tasks.Result, error) {
		ch <- tasks.ProgressUpdate{Phase: tasks.AddCredential, Message: "Importing from " + source + "..."}
		accounts, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		result := &tasks.Result{Source: source, Total: len(accounts), Succeeded: len(accounts)}
		for i := range accounts {
			result.Accounts = append(result.Accounts, &accounts[i])
		}
		return result, nil
	})
}

// waitForProgress relays the next update of d's import, then its result once the channel closes.
func waitForProgress(d *addDialog) tea.Cmd {
	progressCh, doneCh := d.progressCh, d.doneCh
	return func() tea.Msg {
		update, ok := <-progressCh
		if !ok {
			done := <-doneCh
			return importCompleteMsg(d, done.result, done.err)
		}
		return progressUpdateMsg(d, update)
	}
}

func (m *Model) renderDialog() string {
	d := m.dialog

	var tabs []string
	for _, t := range dialogTabs {
		label := strings.ToUpper(string(t[:1])) + string(t[1:])
		if t == oauth.TabOAuth {
			label = "OAuth"
		}
		if t == d.tab {
			tabs = append(tabs, styles.activeTab.Render(label))
		} else {
			tabs = append(tabs, styles.tab.Render(label))
		}
	}

	var body string
	switch d.tab {
	case oauth.TabOAuth:
		body = m.renderOAuthTab()
	case oauth.TabToken:
		body = "Refresh tokens\n\n" + d.tokens.View() + "\n" + m.renderImportState()
	case oauth.TabImport:
		body = "Import file\n\n" + d.path.View() + "\n" + m.renderImportState()
	}

	helpKeys := []key.Binding{m.keys.tab, m.keys.back}
	switch d.tab {
	case oauth.TabOAuth:
		helpKeys = append(helpKeys, key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "continue")), m.keys.retry)
	case oauth.TabToken:
		helpKeys = append(helpKeys, m.keys.submit)
	case oauth.TabImport:
		helpKeys = append(helpKeys, key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "import")))
		if d.variant == oauth.VariantBridge {
			helpKeys = append(helpKeys, m.keys.localDB, m.keys.v1)
		}
	}

	title := styles.title.Render("Add account")
	content := fmt.Sprintf("%s\n%s\n\n%s", title, strings.Join(tabs, " "), body)
	return fmt.Sprintf("%s\n%s", styles.box.Render(content), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderOAuthTab() string {
	d := m.dialog
	s := d.session

	var b strings.Builder
	switch s.Phase {
	case oauth.Idle:
		b.WriteString(m.spinner.View() + " Preparing authorization link...\n")
	case oauth.URLPrepared:
		b.WriteString("Authorization link ready.\n\n" + s.AuthorizationURL + "\n\n")
		if d.variant == oauth.VariantBridge {
			b.WriteString(styles.help.Render("Press enter to sign in through the desktop app.") + "\n")
		} else {
			b.WriteString(styles.help.Render("Press enter to open the browser, or paste the code below.") + "\n")
		}
	case oauth.AwaitingCompletion:
		b.WriteString(m.spinner.View() + " Waiting for the browser sign-in to finish...\n")
		if s.AuthorizationURL != "" {
			b.WriteString("\n" + s.AuthorizationURL + "\n")
		}
		if d.variant == oauth.VariantBridge {
			b.WriteString(styles.help.Render("Press enter once you have approved access.") + "\n")
		}
	case oauth.Exchanging:
		b.WriteString(m.spinner.View() + " Exchanging authorization code...\n")
	case oauth.Succeeded:
		email := ""
		if s.Account != nil {
			email = " " + s.Account.Email
		}
		b.WriteString(styles.ok.Render("✓ Account"+email+" added") + "\n")
	case oauth.Failed:
		b.WriteString(styles.err.Render("Authorization failed") + "\n")
	case oauth.Cancelled:
		b.WriteString(styles.warn.Render("Authorization cancelled") + "\n")
	}

	if s.Message != "" && s.Phase != oauth.Succeeded {
		b.WriteString("\n" + styles.warn.Render(s.Message) + "\n")
	}
	if s.LastError != "" {
		b.WriteString("\n" + styles.err.Render(s.LastError) + "\n")
	}
	if d.variant == oauth.VariantWeb && s.Phase != oauth.Succeeded && s.Phase != oauth.Exchanging {
		b.WriteString("\n" + d.code.View() + "\n")
	}
	return b.String()
}

func (m *Model) renderImportState() string {
	d := m.dialog
	switch {
	case d.running():
		line := d.progress.Message
		if d.progress.Total > 0 {
			line = fmt.Sprintf("[%d/%d] %s", d.progress.Step, d.progress.Total, line)
		}
		return m.spinner.View() + " " + line
	case d.err != nil:
		return styles.err.Render(d.err.Error())
	case d.result != nil:
		return m.renderImportResult(d.result)
	default:
		return ""
	}
}

func (m *Model) renderImportResult(r *tasks.Result) string {
	var line string
	switch r.Outcome() {
	case tasks.Success:
		line = styles.ok.Render("✓ " + r.Summary())
	case tasks.Partial:
		line = styles.warn.Render(r.Summary())
	default:
		line = styles.err.Render(r.Summary())
	}
	for _, e := range r.Errors {
		line += fmt.Sprintf("\n  • #%d %s: %v", e.Index+1, e.Token, e.Err)
	}
	return line
}
