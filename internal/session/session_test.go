package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"testing"

	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
	tu "github.com/desertthunder/agx/internal/testing"
)

func newGuard(s dispatch.Sender) *Guard {
	return New(s, Opts{Logger: tu.QuietLogger()})
}

func TestGuardMount(t *testing.T) {
	ctx := context.Background()

	tc := []struct {
		name   string
		status models.AuthStatus
		want   State
		view   View
	}{
		{name: "no password", status: models.AuthStatus{}, want: SetupRequired, view: ViewLogin},
		{name: "password but no session", status: models.AuthStatus{PasswordSet: true}, want: LoginRequired, view: ViewLogin},
		{name: "valid session", status: models.AuthStatus{PasswordSet: true, LoggedIn: true}, want: Authenticated, view: ViewProtected},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			g := newGuard(tu.NewStubSender().Return(commands.AuthStatus, tt.status))
			if g.Snapshot().View() != ViewPlaceholder {
				t.Error("a fresh guard should render the placeholder")
			}

			if err := g.Mount(ctx); err != nil {
				t.Fatalf("Mount() error: %v", err)
			}
			s := g.Snapshot()
			if s.State != tt.want || s.View() != tt.view {
				t.Errorf("state = %s view = %d, want %s %d", s.State, s.View(), tt.want, tt.view)
			}
		})
	}

	t.Run("probe failure is errored", func(t *testing.T) {
		g := newGuard(tu.NewStubSender().Fail(commands.AuthStatus, dispatch.KindTransport, "connection refused"))
		if err := g.Mount(ctx); err == nil {
			t.Fatal("expected error")
		}
		s := g.Snapshot()
		if s.State != Errored || s.Error != "connection refused" {
			t.Errorf("unexpected snapshot %+v", s)
		}
	})

	t.Run("bridge bypasses the probe", func(t *testing.T) {
		stub := tu.NewStubSender()
		stub.TransportKind = dispatch.TransportBridge
		g := newGuard(stub)

		if err := g.Mount(ctx); err != nil {
			t.Fatalf("Mount() error: %v", err)
		}
		if g.Snapshot().State != Authenticated {
			t.Errorf("expected Authenticated, got %s", g.Snapshot().State)
		}
		if len(stub.Calls()) != 0 {
			t.Errorf("expected no calls, got %v", stub.Calls())
		}
	})
}

func TestGuardSetup(t *testing.T) {
	ctx := context.Background()

	setupGuard := func(t *testing.T, stub *tu.StubSender) *Guard {
		t.Helper()
		stub.Return(commands.AuthStatus, models.AuthStatus{})
		g := newGuard(stub)
		if err := g.Mount(ctx); err != nil {
			t.Fatalf("Mount() error: %v", err)
		}
		return g
	}

	t.Run("short password never reaches the backend", func(t *testing.T) {
		stub := tu.NewStubSender()
		g := setupGuard(t, stub)

		err := g.Setup(ctx, "abc", "abc")
		if !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if stub.Count(commands.AuthSetup) != 0 {
			t.Error("setup must not be dispatched")
		}
		if s := g.Snapshot(); s.State != SetupRequired || s.Error == "" {
			t.Errorf("unexpected snapshot %+v", s)
		}
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		stub := tu.NewStubSender()
		g := setupGuard(t, stub)

		if err := g.Setup(ctx, "secret123", "secret124"); !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if stub.Count(commands.AuthSetup) != 0 {
			t.Error("setup must not be dispatched")
		}
	})

	t.Run("accepted", func(t *testing.T) {
		stub := tu.NewStubSender()
		g := setupGuard(t, stub)

		if err := g.Setup(ctx, "secret123", "secret123"); err != nil {
			t.Fatalf("Setup() error: %v", err)
		}
		if s := g.Snapshot(); s.State != Authenticated || s.Loading {
			t.Errorf("unexpected snapshot %+v", s)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		stub := tu.NewStubSender().Fail(commands.AuthSetup, dispatch.KindProtocol, "password already set")
		g := setupGuard(t, stub)

		if err := g.Setup(ctx, "secret123", "secret123"); err == nil {
			t.Fatal("expected error")
		}
		s := g.Snapshot()
		if s.State != SetupRequired || s.Loading || s.Error != "password already set" {
			t.Errorf("unexpected snapshot %+v", s)
		}
	})

	t.Run("only valid from setup required", func(t *testing.T) {
		stub := tu.NewStubSender().Return(commands.AuthStatus, models.AuthStatus{PasswordSet: true})
		g := newGuard(stub)
		g.Mount(ctx)

		if err := g.Setup(ctx, "secret123", "secret123"); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("expected invalid state, got %v", err)
		}
	})

	t.Run("state is checked before the password", func(t *testing.T) {
		stub := tu.NewStubSender().Return(commands.AuthStatus, models.AuthStatus{PasswordSet: true})
		g := newGuard(stub)
		g.Mount(ctx)

		tc := []struct{ password, confirm string }{
			{"abc", "abc"},
			{"secret123", "secret124"},
		}
		for _, tt := range tc {
			err := g.Setup(ctx, tt.password, tt.confirm)
			if !errors.Is(err, shared.ErrInvalidState) || errors.Is(err, shared.ErrValidation) {
				t.Errorf("Setup(%q, %q) = %v, want invalid state", tt.password, tt.confirm, err)
			}
		}
		if stub.Count(commands.AuthSetup) != 0 {
			t.Error("setup must not be dispatched")
		}
		if s := g.Snapshot(); s.State != LoginRequired || s.Error != "" {
			t.Errorf("unexpected snapshot %+v", s)
		}
	})
}

func TestGuardLoginLogout(t *testing.T) {
	ctx := context.Background()

	loginGuard := func(t *testing.T, stub *tu.StubSender) *Guard {
		t.Helper()
		stub.Return(commands.AuthStatus, models.AuthStatus{PasswordSet: true})
		g := newGuard(stub)
		if err := g.Mount(ctx); err != nil {
			t.Fatalf("Mount() error: %v", err)
		}
		return g
	}

	t.Run("wrong password stays on login", func(t *testing.T) {
		g := loginGuard(t, tu.NewStubSender().Fail(commands.AuthLogin, dispatch.KindProtocol, "wrong password"))

		if err := g.Login(ctx, "nope"); err == nil {
			t.Fatal("expected error")
		}
		s := g.Snapshot()
		if s.State != LoginRequired || s.Error != "wrong password" || s.Loading {
			t.Errorf("unexpected snapshot %+v", s)
		}
	})

	t.Run("empty password is local", func(t *testing.T) {
		stub := tu.NewStubSender()
		g := loginGuard(t, stub)
		if err := g.Login(ctx, ""); !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if stub.Count(commands.AuthLogin) != 0 {
			t.Error("login must not be dispatched")
		}
	})

	t.Run("empty password outside login is invalid state", func(t *testing.T) {
		stub := tu.NewStubSender().Return(commands.AuthStatus, models.AuthStatus{})
		g := newGuard(stub)
		g.Mount(ctx)
		if err := g.Login(ctx, ""); !errors.Is(err, shared.ErrInvalidState) {
			t.Fatalf("expected invalid state, got %v", err)
		}
	})

	t.Run("logout is best effort", func(t *testing.T) {
		stub := tu.NewStubSender().Fail(commands.AuthLogout, dispatch.KindTransport, "connection reset")
		g := loginGuard(t, stub)
		if err := g.Login(ctx, "secret123"); err != nil {
			t.Fatalf("Login() error: %v", err)
		}

		if err := g.Logout(ctx); err != nil {
			t.Fatalf("Logout() should not fail, got %v", err)
		}
		if g.Snapshot().State != LoginRequired {
			t.Errorf("expected LoginRequired, got %s", g.Snapshot().State)
		}
	})

	t.Run("force login only from authenticated", func(t *testing.T) {
		g := loginGuard(t, tu.NewStubSender())
		g.ForceLogin("401")
		if g.Snapshot().Error != "" {
			t.Error("ForceLogin should be ignored while not authenticated")
		}

		g.Login(ctx, "secret123")
		updates := g.Subscribe()
		g.ForceLogin("401")

		s := <-updates
		if s.State != LoginRequired || s.View() != ViewLogin {
			t.Errorf("unexpected snapshot %+v", s)
		}
		if err := g.RequireAuthenticated(); !errors.Is(err, shared.ErrUnauthorized) {
			t.Errorf("expected unauthorized, got %v", err)
		}
	})
}

func TestSnapshotView(t *testing.T) {
	stale := Snapshot{State: Loading, Loading: true, Authenticated: true}
	if stale.View() != ViewPlaceholder {
		t.Error("loading must win over a stale authenticated flag")
	}
}

func TestGuardAgainstBackend(t *testing.T) {
	ctx := context.Background()
	b := tu.NewFakeBackend(t)

	jar, _ := cookiejar.New(nil)
	var guard *Guard
	transport := dispatch.NewNetworkTransport(b.URL,
		dispatch.WithHTTPClient(&http.Client{Jar: jar}),
		dispatch.WithLogger(tu.QuietLogger()),
		dispatch.WithUnauthorizedHandler(func(n commands.Name) { guard.ForceLogin(n.String()) }),
	)
	d := dispatch.New(transport, tu.QuietLogger())
	guard = newGuard(d)

	if err := guard.Mount(ctx); err != nil {
		t.Fatalf("Mount() error: %v", err)
	}
	if guard.Snapshot().State != SetupRequired {
		t.Fatalf("expected SetupRequired, got %s", guard.Snapshot().State)
	}

	if err := guard.Setup(ctx, "secret123", "secret123"); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	if _, err := d.Dispatch(ctx, commands.ListAccounts, nil); err != nil {
		t.Fatalf("authenticated call failed: %v", err)
	}

	b.ExpireSessions()
	if _, err := d.Dispatch(ctx, commands.ListAccounts, nil); !dispatch.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if guard.Snapshot().State != LoginRequired {
		t.Fatalf("401 should return the guard to login, got %s", guard.Snapshot().State)
	}

	if err := guard.Login(ctx, "wrong-password"); err == nil || err.Error() != "wrong password" {
		t.Fatalf("expected wrong password error, got %v", err)
	}
	if err := guard.Login(ctx, "secret123"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if guard.Snapshot().View() != ViewProtected {
		t.Error("expected protected view after login")
	}
}
