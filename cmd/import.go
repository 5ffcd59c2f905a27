package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/desertthunder/agx/internal/formatter"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
	"github.com/desertthunder/agx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// importer builds a batch importer that records runs in the local database when it is available.
func (r *Runner) importer() *tasks.Importer {
	opts := tasks.ImporterOpts{
		Delay:     r.config.Import.Delay(),
		Refresher: r.refresher(),
		Logger:    r.logger,
	}
	if _, err := r.store(); err != nil {
		r.logger.Warn("import history will not be recorded", "error", err)
	} else {
		opts.Recorder = r.runs
	}
	return tasks.NewImporter(r.admin, opts)
}

// ImportText imports every refresh token found in the arguments, or in stdin.
func (r *Runner) ImportText(ctx context.Context, cmd *cli.Command) error {
	raw := strings.Join(cmd.Args().Slice(), "\n")
	if raw == "" {
		data, err := io.ReadAll(r.input)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		raw = string(data)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}

	return r.runImport(func(progress chan<- tasks.ProgressUpdate) (*tasks.Result, error) {
		return r.importer().ImportText(ctx, raw, progress)
	})
}

// ImportFile imports a JSON or YAML array of tokens.
func (r *Runner) ImportFile(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: file path", shared.ErrMissingArgument)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}

	return r.runImport(func(progress chan<- tasks.ProgressUpdate) (*tasks.Result, error) {
		return r.importer().ImportFile(ctx, path, progress)
	})
}

// ImportLocal runs one of the desktop shell's own importers: the IDE database, the v1 app, or a
// database file picked by the user.
func (r *Runner) ImportLocal(source string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		path := cmd.StringArg("path")
		if source == "custom" && path == "" {
			return fmt.Errorf("%w: database path", shared.ErrMissingArgument)
		}
		if err := r.protected(ctx); err != nil {
			return err
		}

		var accounts []models.Account
		var err error
		switch source {
		case "db":
			accounts, err = r.admin.ImportFromDB(ctx)
		case "v1":
			accounts, err = r.admin.ImportV1Accounts(ctx)
		default:
			accounts, err = r.admin.ImportCustomDB(ctx, path)
		}
		if errors.Is(err, shared.ErrUnsupported) {
			return fmt.Errorf("%w: import %s needs the desktop shell (set transport.mode = \"bridge\")", shared.ErrUnsupported, source)
		}
		if err != nil {
			return err
		}

		for _, a := range accounts {
			r.writePlain("  + %s\n", a.Label())
		}
		r.writePlain("Imported %d account(s) from %s\n", len(accounts), source)
		if len(accounts) > 0 {
			if err := r.refresher().RefreshAfterAdd(ctx); err != nil {
				r.logger.Warn("refresh after import failed", "error", err)
			}
		}
		return nil
	}
}

func (r *Runner) runImport(run func(chan<- tasks.ProgressUpdate) (*tasks.Result, error)) error {
	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			switch update.Phase {
			case tasks.ExtractCandidates:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.AddCredential:
				r.writePlain("   %s\n", update.Message)
			case tasks.RefreshQuotas:
				r.writePlain("\n🔄 %s\n", update.Message)
			}
		}
	}()

	result, err := run(progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	r.writePlain("\n═══════════════════════════════════════\n")
	r.writePlain("%s\n", result.Summary())
	r.writePlain("═══════════════════════════════════════\n")
	if result.Failed > 0 {
		r.writePlain("\nFailed %d token(s):\n", result.Failed)
		for _, e := range result.Errors {
			r.writePlain("  - #%d %s: %v\n", e.Index+1, e.Token, e.Err)
		}
	}

	if result.Outcome() == tasks.Failure {
		return fmt.Errorf("import failed: %s", result.Summary())
	}
	return nil
}

// ImportHistory lists recorded import runs, newest first.
func (r *Runner) ImportHistory(ctx context.Context, cmd *cli.Command) error {
	if _, err := r.store(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	criteria := map[string]any{"limit": int(cmd.Int("limit"))}
	if source := cmd.String("source"); source != "" {
		criteria["source"] = source
	}
	runs, err := r.runs.List(criteria)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(runs, true)
	}
	if len(runs) == 0 {
		return r.writePlain("No imports recorded\n")
	}

	out, err := formatter.ImportRunsToText(runs)
	if err != nil {
		return err
	}
	r.writePlain("%s", out)
	return nil
}
