package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/oauth"
	"github.com/desertthunder/agx/internal/session"
	"github.com/desertthunder/agx/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSnapshot MsgKind = iota
	MsgAccountsFetched
	MsgOAuthSession
	MsgProgressUpdate
	MsgImportComplete
	MsgActionDone
)

type accountsData struct {
	accounts []models.Account
	current  string
	err      error
}

type progressData struct {
	owner  *addDialog
	update tasks.ProgressUpdate
}

type importData struct {
	owner  *addDialog
	result *tasks.Result
	err    error
}

// Action sources whose errors are already reported elsewhere.
const (
	sourceShell = "shell"
	sourceLogin = "login"
	sourceOAuth = "oauth"
)

type actionData struct {
	source string
	status string
	reload bool
	err    error
}

// snapshotMsg is the constructor for [MsgSnapshot]
func snapshotMsg(s session.Snapshot) Msg {
	return Msg{kind: MsgSnapshot, data: s}
}

// accountsFetchedMsg is the constructor for [MsgAccountsFetched]
func accountsFetchedMsg(accounts []models.Account, current string, err error) Msg {
	return Msg{kind: MsgAccountsFetched, data: accountsData{accounts, current, err}}
}

// oauthSessionMsg is the constructor for [MsgOAuthSession]
func oauthSessionMsg(s oauth.Session) Msg {
	return Msg{kind: MsgOAuthSession, data: s}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(owner *addDialog, update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: progressData{owner, update}}
}

// importCompleteMsg is the constructor for [MsgImportComplete]
func importCompleteMsg(owner *addDialog, result *tasks.Result, err error) Msg {
	return Msg{kind: MsgImportComplete, data: importData{owner, result, err}}
}

// actionDoneMsg is the constructor for [MsgActionDone]. Status is shown on success; reload refetches accounts.
func actionDoneMsg(source, status string, reload bool, err error) Msg {
	return Msg{kind: MsgActionDone, data: actionData{source, status, reload, err}}
}
