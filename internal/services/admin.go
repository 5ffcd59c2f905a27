package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
)

// AdminService provides one typed method per registry command.
type AdminService struct {
	sender dispatch.Sender
	logger *log.Logger
}

// NewAdminService creates an admin service over sender.
func NewAdminService(sender dispatch.Sender, logger *log.Logger) *AdminService {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &AdminService{sender: sender, logger: shared.WithLogger(logger, "component", "admin")}
}

// Sender returns the underlying dispatcher.
func (a *AdminService) Sender() dispatch.Sender { return a.sender }

func (a *AdminService) exec(ctx context.Context, name commands.Name, args commands.Args) error {
	_, err := a.sender.Dispatch(ctx, name, args)
	return err
}

func requireID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: account id", shared.ErrMissingArgument)
	}
	return nil
}

// ListAccounts returns every account in backend order.
func (a *AdminService) ListAccounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := dispatch.Call[[]models.Account](ctx, a.sender, commands.ListAccounts, nil)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return accounts, nil
}

func (a *AdminService) CurrentAccount(ctx context.Context) (*models.Account, error) {
	acc, err := dispatch.Call[*models.Account](ctx, a.sender, commands.CurrentAccount, nil)
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.ID == "" {
		return nil, nil
	}
	return acc, nil
}

// AddAccount registers a refresh token. The email is optional.
func (a *AdminService) AddAccount(ctx context.Context, email, refreshToken string) (*models.Account, error) {
	if refreshToken == "" {
		return nil, shared.Validationf("refresh token is required")
	}
	res, err := a.sender.Dispatch(ctx, commands.AddAccount, commands.Args{"email": email, "refreshToken": refreshToken})
	if err != nil {
		return nil, err
	}
	var acc models.Account
	if err := res.Decode(&acc); err != nil {
		return nil, err
	}
	if acc.ID == "" && acc.Email == "" {
		return nil, nil
	}
	return &acc, nil
}

func (a *AdminService) DeleteAccount(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return a.exec(ctx, commands.DeleteAccount, commands.Args{"accountId": id})
}

func (a *AdminService) DeleteAccounts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one account id", shared.ErrMissingArgument)
	}
	return a.exec(ctx, commands.DeleteAccounts, commands.Args{"accountIds": ids})
}

func (a *AdminService) SwitchAccount(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return a.exec(ctx, commands.SwitchAccount, commands.Args{"accountId": id})
}

// ReorderAccounts sets the rotation order. Accounts left out keep their relative order at the end.
func (a *AdminService) ReorderAccounts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one account id", shared.ErrMissingArgument)
	}
	return a.exec(ctx, commands.ReorderAccounts, commands.Args{"accountIds": ids})
}

// ToggleProxy enables or disables proxy traffic for one account.
func (a *AdminService) ToggleProxy(ctx context.Context, id string, enable bool, reason string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return a.exec(ctx, commands.ToggleProxyStatus, commands.Args{"accountId": id, "enable": enable, "reason": reason})
}

func (a *AdminService) RefreshQuota(ctx context.Context, id string) (*models.Quota, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	res, err := a.sender.Dispatch(ctx, commands.FetchAccountQuota, commands.Args{"accountId": id})
	if err != nil {
		return nil, err
	}
	if res.IsEmpty() {
		return nil, nil
	}
	var q models.Quota
	if err := res.Decode(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (a *AdminService) RefreshAllQuotas(ctx context.Context) (*models.RefreshStats, error) {
	var stats models.RefreshStats
	res, err := a.sender.Dispatch(ctx, commands.RefreshAllQuotas, nil)
	if err != nil {
		return nil, err
	}
	if err := res.Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// LoadConfig returns the backend configuration as a raw JSON object.
func (a *AdminService) LoadConfig(ctx context.Context) (map[string]any, error) {
	cfg, err := dispatch.Call[map[string]any](ctx, a.sender, commands.LoadConfig, nil)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// SaveConfig replaces the backend configuration.
func (a *AdminService) SaveConfig(ctx context.Context, cfg map[string]any) error {
	if cfg == nil {
		return shared.Validationf("config object is required")
	}
	return a.exec(ctx, commands.SaveConfig, commands.Args{"config": cfg})
}

// DataPath returns the backend's data directory.
func (a *AdminService) DataPath(ctx context.Context) (string, error) {
	return dispatch.Call[string](ctx, a.sender, commands.DataFolderPath, nil)
}

// OpenDataFolder asks the shell to reveal the data directory. It does nothing on the network.
func (a *AdminService) OpenDataFolder(ctx context.Context) error {
	return a.exec(ctx, commands.OpenDataFolder, nil)
}

// ShowMainWindow asks the shell to raise its window. It does nothing on the network.
func (a *AdminService) ShowMainWindow(ctx context.Context) error {
	return a.exec(ctx, commands.ShowMainWindow, nil)
}

// ImportFromDB imports the account signed in to the local IDE database. Bridge only.
func (a *AdminService) ImportFromDB(ctx context.Context) ([]models.Account, error) {
	return a.importAccounts(ctx, commands.ImportFromDB, nil)
}

// ImportV1Accounts migrates accounts stored by the legacy v1 desktop app. Bridge only.
func (a *AdminService) ImportV1Accounts(ctx context.Context) ([]models.Account, error) {
	return a.importAccounts(ctx, commands.ImportV1Accounts, nil)
}

// ImportCustomDB imports from an IDE state database at path. Bridge only.
func (a *AdminService) ImportCustomDB(ctx context.Context, path string) ([]models.Account, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path", shared.ErrMissingArgument)
	}
	return a.importAccounts(ctx, commands.ImportCustomDB, commands.Args{"path": path})
}

// importAccounts accepts a single account, a list, or no value.
func (a *AdminService) importAccounts(ctx context.Context, name commands.Name, args commands.Args) ([]models.Account, error) {
	res, err := a.sender.Dispatch(ctx, name, args)
	if err != nil {
		return nil, err
	}
	accounts := []models.Account{}
	if !res.IsEmpty() && res.Decode(&accounts) != nil {
		var acc models.Account
		if err := res.Decode(&acc); err != nil {
			return nil, err
		}
		if acc.ID != "" || acc.Email != "" {
			accounts = append(accounts, acc)
		}
	}
	a.logger.Info("accounts imported", "cmd", name, "count", len(accounts))
	return accounts, nil
}

func (a *AdminService) ProxyStatus(ctx context.Context) (*models.ProxyStatus, error) {
	var status models.ProxyStatus
	res, err := a.sender.Dispatch(ctx, commands.ProxyStatus, nil)
	if err != nil {
		return nil, err
	}
	if err := res.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (a *AdminService) StartProxy(ctx context.Context) error {
	return a.exec(ctx, commands.StartProxyService, nil)
}

func (a *AdminService) StopProxy(ctx context.Context) error {
	return a.exec(ctx, commands.StopProxyService, nil)
}

// UpdateModelMapping replaces the model alias table used by the proxy.
func (a *AdminService) UpdateModelMapping(ctx context.Context, mapping map[string]string) error {
	if len(mapping) == 0 {
		return shared.Validationf("model mapping is empty")
	}
	return a.exec(ctx, commands.UpdateModelMapping, commands.Args{"mapping": mapping})
}

// FetchModels lists the models offered by a third-party provider. It is not retried.
func (a *AdminService) FetchModels(ctx context.Context, params map[string]any) ([]string, error) {
	ids, err := dispatch.Call[[]string](ctx, a.sender, commands.FetchModels, commands.Args(params))
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *AdminService) ClearSessionBindings(ctx context.Context) error {
	return a.exec(ctx, commands.ClearProxySessionBindings, nil)
}

// GenerateAPIKey returns a fresh proxy API key.
func (a *AdminService) GenerateAPIKey(ctx context.Context) (string, error) {
	key, err := dispatch.Call[string](ctx, a.sender, commands.GenerateAPIKey, nil)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", &dispatch.Error{Kind: dispatch.KindProtocol, Command: commands.GenerateAPIKey, Message: "backend returned an empty API key"}
	}
	return key, nil
}

func (a *AdminService) MonitorStats(ctx context.Context) (*models.ProxyStats, error) {
	var stats models.ProxyStats
	res, err := a.sender.Dispatch(ctx, commands.ProxyStats, nil)
	if err != nil {
		return nil, err
	}
	if err := res.Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// MonitorLogs returns recent proxy requests, newest first. A limit of zero returns the backend default.
func (a *AdminService) MonitorLogs(ctx context.Context, limit int) ([]models.ProxyLog, error) {
	var args commands.Args
	if limit > 0 {
		args = commands.Args{"limit": limit}
	}
	logs, err := dispatch.Call[[]models.ProxyLog](ctx, a.sender, commands.ProxyLogs, args)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (a *AdminService) SetMonitorEnabled(ctx context.Context, enabled bool) error {
	return a.exec(ctx, commands.SetProxyMonitorEnabled, commands.Args{"enabled": enabled})
}

func (a *AdminService) ClearLogs(ctx context.Context) error {
	return a.exec(ctx, commands.ClearProxyLogs, nil)
}

// Health returns the readiness probe result.
func (a *AdminService) Health(ctx context.Context) (models.Health, error) {
	return dispatch.Call[models.Health](ctx, a.sender, commands.HealthCheck, nil)
}

// WaitReady polls the health probe every interval until the backend reports ok or ctx ends.
func (a *AdminService) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		h, err := a.Health(ctx)
		if err == nil && h.OK() {
			return nil
		}
		a.logger.Debug("backend not ready", "attempt", attempt, "status", h.Status, "error", err)

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("%w: backend not ready: %v", shared.ErrTimeout, err)
			}
			return fmt.Errorf("%w: backend not ready", shared.ErrTimeout)
		case <-ticker.C:
		}
	}
}

// Call sends any registered command with raw arguments and returns the decoded result.
func (a *AdminService) Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	res, err := a.sender.Dispatch(ctx, commands.Name(name), commands.Args(args))
	if err != nil {
		return nil, err
	}
	return res.Raw(), nil
}
