// Package session implements the login guard that gates protected views on the network transport.
//
// The guard is a small state machine:
//
//	Loading -> SetupRequired | LoginRequired | Authenticated | Errored
//	SetupRequired --Setup--> Authenticated
//	LoginRequired --Login--> Authenticated
//	Authenticated --Logout or 401--> LoginRequired
//
// On the native bridge there is no admin session; [Guard.Mount] goes straight to Authenticated.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
)

// DefaultMinPasswordLength is the shortest accepted admin password.
const DefaultMinPasswordLength = 6

// State is the guard's position in the login flow.
type State int

const (
	Loading State = iota
	SetupRequired
	LoginRequired
	Authenticated
	Errored
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case SetupRequired:
		return "setup required"
	case LoginRequired:
		return "login required"
	case Authenticated:
		return "authenticated"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// View is what the shell should render for a snapshot.
type View int

const (
	ViewPlaceholder View = iota
	ViewLogin
	ViewProtected
)

// Snapshot is an immutable copy of the guard state.
type Snapshot struct {
	State              State
	Loading            bool
	PasswordConfigured bool
	Authenticated      bool
	Error              string
}

// View decides what to render. Loading always wins, even over a stale authenticated flag.
func (s Snapshot) View() View {
	switch {
	case s.Loading:
		return ViewPlaceholder
	case s.Authenticated:
		return ViewProtected
	default:
		return ViewLogin
	}
}

// Guard owns the session state. It is safe for concurrent use.
type Guard struct {
	sender dispatch.Sender
	minLen int
	logger *log.Logger

	mu        sync.Mutex
	snap      Snapshot
	listeners []chan Snapshot
}

// Opts configures a [Guard].
type Opts struct {
	MinPasswordLength int
	Logger            *log.Logger
}

// New creates a guard in the Loading state.
func New(sender dispatch.Sender, opts Opts) *Guard {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = DefaultMinPasswordLength
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Guard{
		sender: sender,
		minLen: opts.MinPasswordLength,
		logger: shared.WithLogger(opts.Logger, "component", "session"),
		snap:   Snapshot{State: Loading, Loading: true},
	}
}

// Snapshot returns the current state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}

// Subscribe returns a channel that receives every state change. Slow subscribers miss intermediate states.
func (g *Guard) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 4)
	g.mu.Lock()
	g.listeners = append(g.listeners, ch)
	g.mu.Unlock()
	return ch
}

// set replaces the snapshot and notifies listeners. Callers hold g.mu.
func (g *Guard) set(s Snapshot) {
	prev := g.snap.State
	g.snap = s
	if prev != s.State {
		g.logger.Debug("session state", "from", prev, "to", s.State)
	}
	for _, ch := range g.listeners {
		select {
		case ch <- s:
		default:
		}
	}
}

func (g *Guard) transition(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.set(s)
}

// begin marks a call in flight if the guard is in one of the allowed states.
func (g *Guard) begin(allowed ...State) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.admits(allowed); err != nil {
		return g.snap, err
	}

	next := g.snap
	next.Loading = true
	next.Error = ""
	g.set(next)
	return next, nil
}

// admits reports why a call cannot start from the current snapshot. Callers hold mu.
func (g *Guard) admits(allowed []State) error {
	if g.snap.Loading && g.snap.State != Loading {
		return shared.ErrBusy
	}
	for _, s := range allowed {
		if g.snap.State == s {
			return nil
		}
	}
	return errorf(shared.ErrInvalidState, g.snap.State)
}

// allowed checks the state without marking a call in flight.
func (g *Guard) allowed(states ...State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admits(states)
}

// Mount probes the session once when the shell starts.
func (g *Guard) Mount(ctx context.Context) error {
	if g.sender.Kind() == dispatch.TransportBridge {
		g.transition(Snapshot{State: Authenticated, PasswordConfigured: true, Authenticated: true})
		return nil
	}
	return g.CheckStatus(ctx)
}

// CheckStatus asks the backend whether a password exists and the session is valid.
func (g *Guard) CheckStatus(ctx context.Context) error {
	g.mu.Lock()
	cur := g.snap
	cur.Loading = true
	g.set(cur)
	g.mu.Unlock()

	status, err := dispatch.Call[models.AuthStatus](ctx, g.sender, commands.AuthStatus, nil)
	if err != nil {
		g.logger.Warn("session status probe failed", "error", err)
		g.transition(Snapshot{State: Errored, Error: err.Error()})
		return err
	}

	switch {
	case !status.PasswordSet:
		g.transition(Snapshot{State: SetupRequired})
	case !status.LoggedIn:
		g.transition(Snapshot{State: LoginRequired, PasswordConfigured: true})
	default:
		g.transition(Snapshot{State: Authenticated, PasswordConfigured: true, Authenticated: true})
	}
	return nil
}

// Setup sets the first admin password. The state is checked first, then the input, before any backend call.
func (g *Guard) Setup(ctx context.Context, password, confirm string) error {
	if err := g.allowed(SetupRequired); err != nil {
		return err
	}
	if len(password) < g.minLen {
		err := shared.Validationf("password must be at least %d characters", g.minLen)
		g.fail(SetupRequired, err)
		return err
	}
	if password != confirm {
		err := shared.Validationf("passwords do not match")
		g.fail(SetupRequired, err)
		return err
	}

	if _, err := g.begin(SetupRequired); err != nil {
		return err
	}

	if _, err := g.sender.Dispatch(ctx, commands.AuthSetup, commands.Args{"password": password}); err != nil {
		g.transition(Snapshot{State: SetupRequired, Error: err.Error()})
		return err
	}

	g.logger.Info("admin password configured")
	g.transition(Snapshot{State: Authenticated, PasswordConfigured: true, Authenticated: true})
	return nil
}

// Login establishes a session with the admin password.
func (g *Guard) Login(ctx context.Context, password string) error {
	if err := g.allowed(LoginRequired); err != nil {
		return err
	}
	if password == "" {
		err := shared.Validationf("password is required")
		g.fail(LoginRequired, err)
		return err
	}

	if _, err := g.begin(LoginRequired); err != nil {
		return err
	}

	if _, err := g.sender.Dispatch(ctx, commands.AuthLogin, commands.Args{"password": password}); err != nil {
		g.transition(Snapshot{State: LoginRequired, PasswordConfigured: true, Error: err.Error()})
		return err
	}

	g.transition(Snapshot{State: Authenticated, PasswordConfigured: true, Authenticated: true})
	return nil
}

// Logout ends the session. The guard returns to LoginRequired even if the backend call fails.
func (g *Guard) Logout(ctx context.Context) error {
	if _, err := g.begin(Authenticated); err != nil {
		return err
	}

	_, err := g.sender.Dispatch(ctx, commands.AuthLogout, nil)
	if err != nil {
		g.logger.Warn("logout request failed", "error", err)
	}
	g.transition(Snapshot{State: LoginRequired, PasswordConfigured: true})
	return nil
}

// ForceLogin drops an authenticated session after the backend rejected it.
func (g *Guard) ForceLogin(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snap.State != Authenticated {
		return
	}
	g.logger.Info("session expired", "reason", reason)
	g.set(Snapshot{State: LoginRequired, PasswordConfigured: true, Error: "session expired, please log in again"})
}

// fail records a local validation error if the guard is in state.
func (g *Guard) fail(state State, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snap.State != state || g.snap.Loading {
		return
	}
	next := g.snap
	next.Error = err.Error()
	g.set(next)
}

// RequireAuthenticated returns nil only when the guard is Authenticated.
func (g *Guard) RequireAuthenticated() error {
	s := g.Snapshot()
	if s.State == Authenticated {
		return nil
	}
	if s.State == Errored {
		return errors.New(s.Error)
	}
	return errorf(shared.ErrUnauthorized, s.State)
}

func errorf(sentinel error, s State) error {
	return &stateError{sentinel: sentinel, state: s}
}

type stateError struct {
	sentinel error
	state    State
}

func (e *stateError) Error() string { return e.sentinel.Error() + ": " + e.state.String() }
func (e *stateError) Unwrap() error { return e.sentinel }
