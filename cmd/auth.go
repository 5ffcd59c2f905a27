package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/agx/internal/session"
	"github.com/urfave/cli/v3"
)

// Health checks that the backend responds, optionally waiting until it is ready.
func (r *Runner) Health(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	if cmd.Bool("wait") {
		ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		defer cancel()
		r.logger.Info("waiting for backend", "timeout", cmd.Duration("timeout"))
		if err := r.admin.WaitReady(ctx, cmd.Duration("interval")); err != nil {
			return err
		}
		return r.writePlain("✓ Backend is ready (%s)\n", r.sender.Kind())
	}

	health, err := r.admin.Health(ctx)
	if err != nil {
		return err
	}
	if !health.OK() {
		return r.writePlain("✗ Backend status: %s\n", health.Status)
	}
	return r.writePlain("✓ Backend is healthy (%s)\n", r.sender.Kind())
}

// AuthStatus reports whether a password is configured and the stored session is valid.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}
	if err := r.guard.Mount(ctx); err != nil {
		return err
	}

	snap := r.guard.Snapshot()
	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"transport":     r.sender.Kind(),
			"state":         snap.State.String(),
			"password_set":  snap.PasswordConfigured,
			"authenticated": snap.Authenticated,
		}, true)
	}

	r.writePlain("Transport: %s\n", r.sender.Kind())
	switch snap.State {
	case session.SetupRequired:
		return r.writePlain("Password: ✗ not set (run 'agx auth setup')\n")
	case session.LoginRequired:
		return r.writePlain("Password: ✓ set\nSession: ✗ not logged in (run 'agx auth login')\n")
	default:
		return r.writePlain("Password: ✓ set\nSession: ✓ authenticated\n")
	}
}

// AuthSetup sets the first admin password.
func (r *Runner) AuthSetup(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}
	if err := r.guard.Mount(ctx); err != nil {
		return err
	}
	if r.guard.Snapshot().State != session.SetupRequired {
		return r.writePlain("A password is already configured; use 'agx auth login'.\n")
	}

	password := cmd.String("password")
	confirm := password
	if password == "" {
		var err error
		if password, err = r.readPassword("New password: "); err != nil {
			return err
		}
		if confirm, err = r.readPassword("Confirm password: "); err != nil {
			return err
		}
	}

	if err := r.guard.Setup(ctx, password, confirm); err != nil {
		return err
	}
	r.logger.Info("admin password configured")
	return r.writePlain("✓ Password set, you are logged in\n")
}

// AuthLogin logs in and persists the session cookie in the local database.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}
	if err := r.guard.Mount(ctx); err != nil {
		return err
	}

	switch r.guard.Snapshot().State {
	case session.Authenticated:
		return r.writePlain("✓ Already logged in\n")
	case session.SetupRequired:
		return fmt.Errorf("no admin password configured yet, run 'agx auth setup'")
	}

	password := cmd.String("password")
	if password == "" {
		var err error
		if password, err = r.readPassword("Password: "); err != nil {
			return err
		}
	}

	if err := r.guard.Login(ctx, password); err != nil {
		return err
	}
	return r.writePlain("✓ Logged in\n")
}

// AuthLogout ends the session.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.guard.Logout(ctx); err != nil {
		return err
	}
	if r.jar != nil && r.network != nil {
		if err := r.jar.Clear(r.jarURL()); err != nil {
			r.logger.Warn("failed to clear stored session", "error", err)
		}
	}
	return r.writePlain("✓ Logged out\n")
}
