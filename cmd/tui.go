package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/agx/internal/shared"
	"github.com/desertthunder/agx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive account shell.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	path := r.config.Log.File
	if path == "" {
		path = "./tmp/agx-tui.log"
	}
	fileLogger, closer, err := shared.NewFileLogger(path)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, r.logger.GetLevel())
	r.closers = append(r.closers, closer)
	r.SetLogger(fileLogger)

	if err := r.connect(ctx); err != nil {
		return err
	}

	ctl, stop := r.oauthController(ctx, true)
	defer stop()

	model := ui.NewModel(ctx, ui.Deps{
		Guard:    r.guard,
		Admin:    r.admin,
		OAuth:    ctl,
		Importer: r.importer(),
		Logger:   r.logger,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
