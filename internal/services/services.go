// package services wraps the command dispatcher in typed admin operations.
package services

import (
	"context"

	"github.com/desertthunder/agx/internal/models"
)

// AccountService manages the backend's upstream accounts.
type AccountService interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)

	// CurrentAccount returns nil without error when no account is selected.
	CurrentAccount(ctx context.Context) (*models.Account, error)

	AddAccount(ctx context.Context, email, refreshToken string) (*models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	DeleteAccounts(ctx context.Context, ids []string) error
	SwitchAccount(ctx context.Context, id string) error
	ReorderAccounts(ctx context.Context, ids []string) error
	ToggleProxy(ctx context.Context, id string, enable bool, reason string) error
}

// QuotaService refreshes account quotas.
type QuotaService interface {
	RefreshQuota(ctx context.Context, id string) (*models.Quota, error)
	RefreshAllQuotas(ctx context.Context) (*models.RefreshStats, error)
}

var (
	_ AccountService = (*AdminService)(nil)
	_ QuotaService   = (*AdminService)(nil)
)
