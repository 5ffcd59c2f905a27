package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/agx/internal/oauth"
	"github.com/desertthunder/agx/internal/server"
	"github.com/desertthunder/agx/internal/services"
	"github.com/desertthunder/agx/internal/shared"
	"github.com/urfave/cli/v3"
)

func (r *Runner) refresher() *services.Refresher {
	return services.NewRefresher(r.admin, r.logger)
}

// oauthController builds the add-account controller for the connected transport. The returned stop
// function ends bridge event forwarding.
func (r *Runner) oauthController(ctx context.Context, openBrowser bool) (*oauth.Controller, func()) {
	opts := oauth.Opts{Refresher: r.refresher(), Logger: r.logger}
	if openBrowser && r.config.OAuth.OpenBrowser {
		opts.OpenBrowser = shared.OpenBrowser
	}
	if r.bridge == nil && r.config.OAuth.CallbackListener {
		opts.Listener = server.NewCallbackServer(r.config.OAuth.CallbackAddr, r.logger)
	}

	ctl := oauth.New(r.sender, opts)
	if r.bridge == nil {
		return ctl, func() {}
	}

	signals, stop := oauth.BridgeSignals(r.bridge)
	go ctl.Watch(ctx, signals)
	return ctl, stop
}

// OAuthLogin authorizes a new account through the browser.
//
// With --code the pasted code is exchanged right away. Otherwise the page is opened and the command waits
// for the redirect listener, or for a code typed on stdin.
func (r *Runner) OAuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	ctl, stop := r.oauthController(ctx, !cmd.Bool("no-browser"))
	defer stop()
	defer ctl.Close(context.WithoutCancel(ctx))

	updates := ctl.Subscribe()
	if err := ctl.Open(ctx, oauth.TabOAuth); err != nil {
		return err
	}
	sess := ctl.Session()
	r.writePlain("Authorization URL:\n  %s\n\n", sess.AuthorizationURL)

	if code := cmd.String("code"); code != "" {
		if err := ctl.SubmitCode(ctx, code); err != nil {
			return r.oauthFailure(ctl.Session(), err)
		}
		return r.oauthResult(ctl.Session())
	}

	if err := ctl.Start(ctx); err != nil {
		return r.oauthFailure(ctl.Session(), err)
	}
	if ctl.Variant() == oauth.VariantBridge {
		return r.oauthResult(ctl.Session())
	}

	if msg := ctl.Session().Message; msg != "" {
		r.writePlain("%s\n", msg)
	}
	r.writePlain("Sign in, then paste the code or redirect URL here")
	if r.config.OAuth.CallbackListener {
		r.writePlain(" (or wait for the browser to return)")
	}
	r.writePlain(":\n")

	lines := make(chan string)
	go func() {
		for {
			line, err := r.readLine()
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			if err := ctl.SubmitCode(ctx, line); err != nil {
				if errors.Is(err, shared.ErrValidation) {
					r.writePlain("✗ %v, try again:\n", err)
					continue
				}
				return r.oauthFailure(ctl.Session(), err)
			}
		case <-updates:
		}

		switch s := ctl.Session(); s.Phase {
		case oauth.Succeeded, oauth.Failed, oauth.Cancelled:
			return r.oauthResult(s)
		}
	}
}

func (r *Runner) oauthResult(s oauth.Session) error {
	switch s.Phase {
	case oauth.Succeeded:
		return r.writePlain("✓ %s\n", s.Message)
	case oauth.Cancelled:
		return fmt.Errorf("authorization cancelled")
	default:
		return r.oauthFailure(s, errors.New("authorization did not complete"))
	}
}

// oauthFailure prefers the classified message the controller recorded.
func (r *Runner) oauthFailure(s oauth.Session, err error) error {
	if s.LastError != "" {
		return fmt.Errorf("%s: %w", s.LastError, err)
	}
	return err
}
