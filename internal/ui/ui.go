package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/oauth"
	"github.com/desertthunder/agx/internal/services"
	"github.com/desertthunder/agx/internal/session"
	"github.com/desertthunder/agx/internal/shared"
	"github.com/desertthunder/agx/internal/tasks"
)

// Deps are the runtime components the shell drives.
type Deps struct {
	Guard    *session.Guard
	Admin    *services.AdminService
	OAuth    *oauth.Controller
	Importer *tasks.Importer
	Logger   *log.Logger
}

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	deps   Deps
	logger *log.Logger

	snap    session.Snapshot
	snapCh  <-chan session.Snapshot
	oauthCh <-chan oauth.Session

	width    int
	height   int
	spinner  spinner.Model
	form     loginForm
	accounts list.Model
	current  string
	busy     bool
	deleting *models.Account
	dialog   *addDialog
	status   string
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a new TUI model with the provided dependencies. Subscriptions are taken here so no state
// change between construction and Init is missed.
func NewModel(ctx context.Context, deps Deps) *Model {
	if deps.Logger == nil {
		deps.Logger = shared.NewLogger(nil)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.title.UnsetMarginBottom()

	accounts := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	accounts.Title = "Accounts"
	accounts.SetStatusBarItemName("account", "accounts")

	return &Model{
		ctx:      ctx,
		deps:     deps,
		logger:   shared.WithLogger(deps.Logger, "component", "ui"),
		snap:     deps.Guard.Snapshot(),
		snapCh:   deps.Guard.Subscribe(),
		oauthCh:  deps.OAuth.Subscribe(),
		spinner:  sp,
		accounts: accounts,
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init probes the session and starts listening for state changes.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.mount(), m.waitForSnapshot(), m.waitForOAuth())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.accounts.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		switch m.snap.View() {
		case session.ViewPlaceholder:
			if key.Matches(msg, m.keys.quit) {
				return m, m.quit()
			}
			return m, nil
		case session.ViewLogin:
			return m.handleLoginKeys(msg)
		default:
			if m.dialog != nil {
				return m.handleDialogKeys(msg)
			}
			return m.handleAccountKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateActive(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSnapshot:
		return m, tea.Batch(m.applySnapshot(msg.data.(session.Snapshot)), m.waitForSnapshot())

	case MsgAccountsFetched:
		data := msg.data.(accountsData)
		m.busy = false
		if data.err != nil {
			m.handleErr(data.err)
			return m, nil
		}
		m.current = data.current
		return m, m.accounts.SetItems(accountItems(data.accounts, data.current))

	case MsgOAuthSession:
		s := msg.data.(oauth.Session)
		var cmd tea.Cmd
		if m.dialog != nil {
			prev := m.dialog.session.Phase
			m.dialog.session = s
			if s.Phase == oauth.Succeeded && prev != oauth.Succeeded {
				m.status = "Account added"
				cmd = m.fetchAccounts()
			}
		}
		return m, tea.Batch(cmd, m.waitForOAuth())

	case MsgProgressUpdate:
		data := msg.data.(progressData)
		if data.owner != m.dialog {
			return m, nil
		}
		m.dialog.progress = data.update
		return m, waitForProgress(m.dialog)

	case MsgImportComplete:
		data := msg.data.(importData)
		if d := data.owner; d != nil && d.running() {
			d.cancel()
			d.cancel = nil
			d.result, d.err = data.result, data.err
		}
		if data.err != nil && dispatch.IsUnauthorized(data.err) {
			m.handleErr(data.err)
			return m, nil
		}
		if data.result == nil || data.result.Succeeded == 0 {
			return m, nil
		}
		// A partial import stays open so the failures can be read.
		if data.err == nil && data.owner == m.dialog && data.result.Outcome() == tasks.Success {
			m.status, m.err = data.result.Summary(), nil
			return m, tea.Batch(m.closeDialog(), m.fetchAccounts())
		}
		return m, m.fetchAccounts()

	case MsgActionDone:
		data := msg.data.(actionData)
		m.busy = false
		if data.err != nil {
			switch data.source {
			case sourceLogin, sourceOAuth:
				if dispatch.IsUnauthorized(data.err) {
					m.deps.Guard.ForceLogin(data.err.Error())
				}
				return m, nil
			}
			m.handleErr(data.err)
			return m, nil
		}
		if data.status != "" {
			m.status, m.err = data.status, nil
		}
		if data.reload {
			return m, m.fetchAccounts()
		}
	}
	return m, nil
}

// applySnapshot follows the guard. Entering the protected view loads accounts, leaving it closes the dialog.
func (m *Model) applySnapshot(s session.Snapshot) tea.Cmd {
	prev := m.snap
	m.snap = s

	var cmds []tea.Cmd
	switch s.View() {
	case session.ViewLogin:
		setup := s.State == session.SetupRequired
		if m.form.inputs == nil || m.form.setup != setup {
			m.form = newLoginForm(setup)
		}
		cmds = append(cmds, m.closeDialog())
		m.deleting = nil
	case session.ViewProtected:
		m.form = loginForm{}
		if prev.View() != session.ViewProtected {
			m.err, m.status = nil, ""
			cmds = append(cmds, m.fetchAccounts())
		}
	}
	return tea.Batch(cmds...)
}

// handleErr records err. Unauthorized drops the guard to login, which the next snapshot reflects.
func (m *Model) handleErr(err error) {
	if dispatch.IsUnauthorized(err) {
		m.logger.Info("session rejected, returning to login", "error", err)
		m.deps.Guard.ForceLogin(err.Error())
		return
	}
	m.logger.Warn("request failed", "error", err)
	m.err = err
}

func (m *Model) handleLoginKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.snap.State == session.Errored {
		switch msg.String() {
		case "r":
			return m, m.mount()
		case "q", "esc":
			return m, m.quit()
		}
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEsc:
		return m, m.quit()
	case tea.KeyEnter:
		if !m.form.last() {
			m.form.move(1)
			return m, nil
		}
		return m, m.submitLogin()
	case tea.KeyTab, tea.KeyDown:
		m.form.move(1)
		return m, nil
	case tea.KeyShiftTab, tea.KeyUp:
		m.form.move(-1)
		return m, nil
	}
	return m, m.form.update(msg)
}

func (m *Model) handleAccountKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.deleting != nil {
		switch {
		case key.Matches(msg, m.keys.yes):
			id := m.deleting.ID
			m.deleting = nil
			return m, m.run(fmt.Sprintf("Deleted %s", id), true, func(ctx context.Context) error {
				return m.deps.Admin.DeleteAccount(ctx, id)
			})
		case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
			m.deleting = nil
		}
		return m, nil
	}

	if m.accounts.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.accounts, cmd = m.accounts.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, m.quit()
	case key.Matches(msg, m.keys.add):
		m.status, m.err = "", nil
		return m, m.openDialog()
	case key.Matches(msg, m.keys.remove):
		if a := m.selected(); a != nil {
			m.deleting = a
		}
		return m, nil
	case key.Matches(msg, m.keys.use), key.Matches(msg, m.keys.enter):
		a := m.selected()
		if a == nil || a.ID == m.current {
			return m, nil
		}
		id, label := a.ID, a.Label()
		return m, m.run("Switched to "+label, true, func(ctx context.Context) error {
			return m.deps.Admin.SwitchAccount(ctx, id)
		})
	case key.Matches(msg, m.keys.refresh):
		return m, m.refreshQuotas()
	case key.Matches(msg, m.keys.logout):
		ctx := m.ctx
		return m, func() tea.Msg {
			return actionDoneMsg(sourceShell, "", false, m.deps.Guard.Logout(ctx))
		}
	}

	var cmd tea.Cmd
	m.accounts, cmd = m.accounts.Update(msg)
	return m, cmd
}

func (m *Model) updateActive(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.snap.View() != session.ViewProtected {
		return m, nil
	}
	if m.dialog != nil {
		return m, m.dialog.updateInput(msg)
	}
	var cmd tea.Cmd
	m.accounts, cmd = m.accounts.Update(msg)
	return m, cmd
}

func (m *Model) selected() *models.Account {
	if item, ok := m.accounts.SelectedItem().(accountItem); ok {
		a := item.account
		return &a
	}
	return nil
}

func (m *Model) quit() tea.Cmd {
	return tea.Sequence(m.closeDialog(), tea.Quit)
}

func (m *Model) mount() tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := m.deps.Guard.Mount(ctx); err != nil {
			m.logger.Debug("mount failed", "error", err)
		}
		return nil
	}
}

func (m *Model) waitForSnapshot() tea.Cmd {
	ch := m.snapCh
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func (m *Model) waitForOAuth() tea.Cmd {
	ch := m.oauthCh
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return oauthSessionMsg(s)
	}
}

func (m *Model) submitLogin() tea.Cmd {
	ctx := m.ctx
	setup := m.form.setup
	password, confirm := m.form.password(), m.form.confirmation()
	return func() tea.Msg {
		var err error
		if setup {
			err = m.deps.Guard.Setup(ctx, password, confirm)
		} else {
			err = m.deps.Guard.Login(ctx, password)
		}
		return actionDoneMsg(sourceLogin, "", false, err)
	}
}

func (m *Model) fetchAccounts() tea.Cmd {
	m.busy = true
	ctx := m.ctx
	return func() tea.Msg {
		accounts, err := m.deps.Admin.ListAccounts(ctx)
		if err != nil {
			return accountsFetchedMsg(nil, "", err)
		}
		current := ""
		if a, err := m.deps.Admin.CurrentAccount(ctx); err != nil {
			return accountsFetchedMsg(nil, "", err)
		} else if a != nil {
			current = a.ID
		}
		return accountsFetchedMsg(accounts, current, nil)
	}
}

func (m *Model) refreshQuotas() tea.Cmd {
	m.busy, m.status, m.err = true, "", nil
	ctx := m.ctx
	return func() tea.Msg {
		stats, err := m.deps.Admin.RefreshAllQuotas(ctx)
		if err != nil {
			return actionDoneMsg(sourceShell, "", false, err)
		}
		return actionDoneMsg(sourceShell, fmt.Sprintf("Refreshed %d of %d quotas", stats.Success, stats.Total), true, nil)
	}
}

// run executes a protected account action.
func (m *Model) run(status string, reload bool, fn func(context.Context) error) tea.Cmd {
	m.busy, m.status, m.err = true, "", nil
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg(sourceShell, status, reload, fn(ctx))
	}
}

// View renders the UI based on the guard snapshot.
func (m *Model) View() string {
	switch m.snap.View() {
	case session.ViewPlaceholder:
		return fmt.Sprintf("\n  %s Connecting to backend...\n", m.spinner.View())
	case session.ViewLogin:
		if m.snap.State == session.Errored {
			return styles.err.Render(fmt.Sprintf("Backend unavailable: %s", m.snap.Error)) +
				"\n\n" + styles.help.Render("Press r to retry, q to quit")
		}
		return m.form.view(m.snap.Error, m.help.ShortHelpView([]key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "quit")),
		}))
	default:
		if m.dialog != nil {
			return m.renderDialog()
		}
		return m.renderAccounts()
	}
}

func (m *Model) renderAccounts() string {
	var footer string
	switch {
	case m.deleting != nil:
		footer = styles.warn.Render(fmt.Sprintf("Delete %s? (y/n)", m.deleting.Label()))
	case m.err != nil:
		footer = styles.err.Render("Error: " + m.err.Error())
	case m.status != "":
		footer = styles.ok.Render(m.status)
	case m.busy:
		footer = m.spinner.View() + " Working..."
	}

	helpKeys := []key.Binding{m.keys.add, m.keys.use, m.keys.remove, m.keys.refresh, m.keys.logout, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n\n%s", m.accounts.View(), footer, m.help.ShortHelpView(helpKeys))
}
