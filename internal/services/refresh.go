package services

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/shared"
)

// Refresher reloads accounts then quotas after a credential was added.
//
// Failures are reported to the caller but are meant to be logged only; they never change the outcome of the
// operation that triggered the refresh.
type Refresher struct {
	admin  *AdminService
	logger *log.Logger
	// OnAccounts receives the reloaded list when set.
	OnAccounts func(n int)
}

// NewRefresher creates a refresher over admin.
func NewRefresher(admin *AdminService, logger *log.Logger) *Refresher {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Refresher{admin: admin, logger: shared.WithLogger(logger, "component", "refresh")}
}

// RefreshAfterAdd runs list_accounts then refresh_all_quotas. Both run even if the first fails.
func (r *Refresher) RefreshAfterAdd(ctx context.Context) error {
	var errs []error

	accounts, err := r.admin.ListAccounts(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if r.OnAccounts != nil {
		r.OnAccounts(len(accounts))
	}

	stats, err := r.admin.RefreshAllQuotas(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		r.logger.Debug("quotas refreshed", "total", stats.Total, "success", stats.Success, "failed", stats.Failed)
	}
	return errors.Join(errs...)
}
