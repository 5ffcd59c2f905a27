package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/desertthunder/agx/internal/formatter"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
	"github.com/desertthunder/agx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// currentID returns the id of the current account, or "" when none is set or the lookup fails.
func (r *Runner) currentID(ctx context.Context) string {
	current, err := r.admin.CurrentAccount(ctx)
	if err != nil {
		r.logger.Debug("current account lookup failed", "error", err)
		return ""
	}
	if current == nil {
		return ""
	}
	return current.ID
}

// AccountsList prints every account with its status and lowest quota.
func (r *Runner) AccountsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	accounts, err := r.admin.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(accounts, true)
	}
	if len(accounts) == 0 {
		return r.writePlain("No accounts. Add one with 'agx accounts add' or 'agx oauth login'.\n")
	}

	out, err := formatter.ExportToText(accounts, r.currentID(ctx))
	if err != nil {
		return err
	}
	r.writePlain("%s", out)
	return r.writePlainln("%d account(s)", len(accounts))
}

// AccountsCurrent prints the account serving requests.
func (r *Runner) AccountsCurrent(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	current, err := r.admin.CurrentAccount(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(current, true)
	}
	if current == nil {
		return r.writePlain("No current account\n")
	}

	r.writePlainHeader(current.Label())
	r.writePlain("ID: %s\n", current.ID)
	r.writePlain("Status: %s\n", current.StatusText())
	return r.writeQuota(current.ID, current.Quota)
}

// AccountsAdd registers a refresh token, then reloads quotas.
func (r *Runner) AccountsAdd(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	acc, err := r.admin.AddAccount(ctx, cmd.String("email"), strings.TrimSpace(cmd.String("token")))
	if err != nil {
		return err
	}
	if err := r.refresher().RefreshAfterAdd(ctx); err != nil {
		r.logger.Warn("refresh after add failed", "error", err)
	}

	if acc == nil {
		return r.writePlain("✓ Account added\n")
	}
	return r.writePlain("✓ Account added: %s\n", acc.Label())
}

// AccountsDelete deletes one account, or several in a single request.
func (r *Runner) AccountsDelete(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one account id", shared.ErrMissingArgument)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}

	var err error
	if len(ids) == 1 {
		err = r.admin.DeleteAccount(ctx, ids[0])
	} else {
		err = r.admin.DeleteAccounts(ctx, ids)
	}
	if err != nil {
		return err
	}
	return r.writePlain("✓ Deleted %d account(s)\n", len(ids))
}

// AccountsSwitch makes an account current.
func (r *Runner) AccountsSwitch(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: account id", shared.ErrMissingArgument)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.SwitchAccount(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Switched to %s\n", id)
}

// AccountsReorder sets the rotation order.
func (r *Runner) AccountsReorder(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one account id", shared.ErrMissingArgument)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}
	if err := r.admin.ReorderAccounts(ctx, ids); err != nil {
		return err
	}
	return r.writePlain("✓ Order updated\n")
}

// AccountsToggleProxy enables or disables proxy traffic for one account.
func (r *Runner) AccountsToggleProxy(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: account id", shared.ErrMissingArgument)
	}
	if err := r.protected(ctx); err != nil {
		return err
	}

	enable := cmd.Bool("enable")
	if err := r.admin.ToggleProxy(ctx, id, enable, cmd.String("reason")); err != nil {
		return err
	}
	if enable {
		return r.writePlain("✓ Proxy enabled for %s\n", id)
	}
	return r.writePlain("✓ Proxy disabled for %s\n", id)
}

// AccountsExport renders accounts to stdout or a file.
func (r *Runner) AccountsExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.protected(ctx); err != nil {
		return err
	}

	accounts, err := r.admin.ListAccounts(ctx)
	if err != nil {
		return err
	}
	current := r.currentID(ctx)

	if path := cmd.String("output"); path != "" {
		written, err := formatter.WriteExport(accounts, current, format, path)
		if err != nil {
			return err
		}
		r.logger.Info("accounts exported", "path", written, "format", format, "count", len(accounts))
		return r.writePlain("✓ Exported %d account(s) to %s\n", len(accounts), written)
	}

	out, err := formatter.Export(accounts, current, format)
	if err != nil {
		return err
	}
	r.writePlain("%s", out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		return r.writePlain("\n")
	}
	return nil
}

// QuotaRefresh refreshes one account, every account through the backend, or every account one by one.
func (r *Runner) QuotaRefresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.protected(ctx); err != nil {
		return err
	}

	if id := cmd.StringArg("id"); id != "" {
		quota, err := r.admin.RefreshQuota(ctx, id)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(quota, true)
		}
		return r.writeQuota(id, quota)
	}

	if !cmd.Bool("each") {
		stats, err := r.admin.RefreshAllQuotas(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(stats, true)
		}
		return r.writePlain("✓ Refreshed %d/%d account(s), %d failed\n", stats.Success, stats.Total, stats.Failed)
	}

	return r.sweepQuotas(ctx, cmd)
}

func (r *Runner) sweepQuotas(ctx context.Context, cmd *cli.Command) error {
	accounts, err := r.admin.ListAccounts(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		ids = append(ids, acc.ID)
	}

	asJSON := cmd.Bool("json")
	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			if !asJSON {
				r.writePlain("   %s\n", update.Message)
			}
		}
	}()

	result, err := tasks.SweepQuotas(ctx, progressCh, r.admin, ids, tasks.SweepOpts{
		NumWorkers: int(cmd.Int("workers")),
		RateLimit:  cmd.Float("rate"),
	})
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	if asJSON {
		out := make([]map[string]any, 0, len(result.Results))
		for _, res := range result.Results {
			entry := map[string]any{"account_id": res.AccountID, "quota": res.Quota}
			if res.Error != nil {
				entry["error"] = res.Error.Error()
			}
			out = append(out, entry)
		}
		return r.writeJSON(out, true)
	}

	r.writePlainln("✓ Refreshed %d/%d account(s)", result.Refreshed, result.Total)
	if result.Failed > 0 {
		r.writePlain("Failed: %d\n", result.Failed)
		for _, res := range result.Results {
			if res.Error != nil {
				r.writePlain("  - %s: %v\n", res.AccountID, res.Error)
			}
		}
	}
	return nil
}

func (r *Runner) writeQuota(id string, quota *models.Quota) error {
	if quota == nil || len(quota.Models) == 0 {
		return r.writePlain("No quota data for %s\n", id)
	}
	if quota.IsForbidden {
		r.writePlain("⚠ %s is forbidden upstream\n", id)
	}
	w := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREMAINING\tRESETS")
	for _, m := range quota.Models {
		fmt.Fprintf(w, "%s\t%d%%\t%s\n", m.Name, m.Percentage, m.ResetTime)
	}
	return w.Flush()
}
