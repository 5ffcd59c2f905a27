package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
)

// DefaultDelay is the pause between two submitted credentials.
const DefaultDelay = 100 * time.Millisecond

// Adder submits one credential.
type Adder interface {
	AddAccount(ctx context.Context, email, refreshToken string) (*models.Account, error)
}

// Refresher reloads accounts and quotas after an import.
type Refresher interface {
	RefreshAfterAdd(ctx context.Context) error
}

// RunRecorder persists finished runs. repositories.ImportRunRepository satisfies it.
type RunRecorder interface {
	Create(run *models.ImportRun) error
}

// Outcome classifies a finished batch.
type Outcome int

const (
	Success Outcome = iota
	Partial
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Partial:
		return "partial"
	default:
		return "failure"
	}
}

// ItemError records a failed credential.
type ItemError struct {
	Index int
	Token string
	Err   error
}

// Result accumulates a batch. Succeeded + Failed always equals Total.
type Result struct {
	RunID     string
	Source    string
	Total     int
	Succeeded int
	Failed    int
	Errors    []ItemError
	Accounts  []*models.Account
}

// Outcome reports whether everything, something or nothing was added.
func (r *Result) Outcome() Outcome {
	switch {
	case r.Total > 0 && r.Succeeded == r.Total:
		return Success
	case r.Succeeded > 0:
		return Partial
	default:
		return Failure
	}
}

// Summary is the message shown once the batch ends.
func (r *Result) Summary() string {
	switch r.Outcome() {
	case Success:
		return fmt.Sprintf("Imported %d account(s)", r.Succeeded)
	case Partial:
		return fmt.Sprintf("Imported %d account(s), %d failed", r.Succeeded, r.Failed)
	default:
		return fmt.Sprintf("Import failed: none of %d credential(s) were added", r.Total)
	}
}

// ImporterOpts configures an [Importer].
type ImporterOpts struct {
	// Delay between items. Zero uses [DefaultDelay]; negative disables throttling.
	Delay     time.Duration
	Refresher Refresher
	Recorder  RunRecorder
	Logger    *log.Logger
}

// Importer submits extracted credentials one at a time.
type Importer struct {
	adder  Adder
	opts   ImporterOpts
	logger *log.Logger
}

// NewImporter creates an importer over adder.
func NewImporter(adder Adder, opts ImporterOpts) *Importer {
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Importer{adder: adder, opts: opts, logger: shared.WithLogger(opts.Logger, "component", "import")}
}

// ImportText imports every credential found in pasted text.
func (im *Importer) ImportText(ctx context.Context, raw string, progress chan<- ProgressUpdate) (*Result, error) {
	candidates := ExtractTokens(raw)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, shared.ErrNoCredentials)
	}
	sendProgress(progress, extractedUpdate("pasted text", len(candidates)))
	return im.run(ctx, "text", candidates, progress)
}

// ImportFile reads a .json, .yaml or .yml account list and imports it.
func (im *Importer) ImportFile(ctx context.Context, path string, progress chan<- ProgressUpdate) (*Result, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	return im.importList(ctx, filepath.Base(path), data, format, progress)
}

// ImportList imports an already loaded account list.
func (im *Importer) ImportList(ctx context.Context, data []byte, format Format, progress chan<- ProgressUpdate) (*Result, error) {
	return im.importList(ctx, string(format), data, format, progress)
}

func (im *Importer) importList(ctx context.Context, source string, data []byte, format Format, progress chan<- ProgressUpdate) (*Result, error) {
	candidates, err := ParseList(data, format)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, shared.ErrNoCredentials)
	}
	sendProgress(progress, extractedUpdate(source, len(candidates)))

	result, err := im.run(ctx, source, candidates, progress)
	if err != nil {
		return result, err
	}

	if result.Outcome() != Failure && im.opts.Refresher != nil {
		sendProgress(progress, refreshingUpdate())
		if err := im.opts.Refresher.RefreshAfterAdd(ctx); err != nil {
			im.logger.Warn("quota refresh after import failed", "error", err)
		}
	}
	return result, nil
}

func (im *Importer) run(ctx context.Context, source string, candidates []Candidate, progress chan<- ProgressUpdate) (*Result, error) {
	total := len(candidates)
	result := &Result{RunID: shared.GenerateID(), Source: source, Total: total}

	var runErr error
	attempted := 0
	for i, c := range candidates {
		if err := pause(ctx, i, im.opts.Delay); err != nil {
			runErr = err
			for j := i; j < total; j++ {
				result.Failed++
				result.Errors = append(result.Errors, ItemError{Index: j, Token: candidates[j].Masked(), Err: err})
			}
			break
		}

		attempted++
		sendProgress(progress, addingUpdate(i+1, total, c))
		account, err := im.adder.AddAccount(ctx, c.Email, c.RefreshToken)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Index: i, Token: c.Masked(), Err: err})
			sendProgress(progress, addFailedUpdate(i+1, total, err))
			im.logger.Warn("credential rejected", "index", i+1, "token", c.Masked(), "error", err)
			continue
		}
		result.Succeeded++
		if account != nil {
			result.Accounts = append(result.Accounts, account)
		}
	}

	im.logger.Info("import finished", "source", source, "total", result.Total, "succeeded", result.Succeeded, "failed", result.Failed)
	im.record(result)

	if runErr != nil {
		return result, fmt.Errorf("import interrupted after %d of %d: %w", attempted, total, runErr)
	}
	return result, nil
}

func (im *Importer) record(result *Result) {
	if im.opts.Recorder == nil {
		return
	}
	run := &models.ImportRun{
		RunID:     result.RunID,
		Source:    result.Source,
		Total:     result.Total,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Created:   time.Now(),
	}
	if err := im.opts.Recorder.Create(run); err != nil {
		im.logger.Warn("failed to record import run", "error", err)
	}
}

// pause waits delay before every item but the first, measured from the end
// of the previous request.
func pause(ctx context.Context, index int, delay time.Duration) error {
	if index == 0 || delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
