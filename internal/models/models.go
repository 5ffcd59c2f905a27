package models

import (
	"fmt"
	"strings"
	"time"
)

// Model defines the base interface for locally persisted records.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// ModelQuota is the remaining share of one upstream model.
type ModelQuota struct {
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
	ResetTime  string `json:"reset_time,omitempty"`
}

// Quota is the last quota snapshot fetched for an account.
type Quota struct {
	Models      []ModelQuota `json:"models"`
	LastUpdated int64        `json:"last_updated,omitempty"`
	IsForbidden bool         `json:"is_forbidden,omitempty"`
}

// Lowest returns the smallest remaining percentage across models, or -1 without data.
func (q *Quota) Lowest() int {
	if q == nil || len(q.Models) == 0 {
		return -1
	}
	low := q.Models[0].Percentage
	for _, m := range q.Models[1:] {
		low = min(low, m.Percentage)
	}
	return low
}

// Account is an upstream account managed by the backend.
type Account struct {
	ID                  string `json:"id"`
	Email               string `json:"email"`
	Name                string `json:"name,omitempty"`
	Disabled            bool   `json:"disabled,omitempty"`
	ProxyDisabled       bool   `json:"proxy_disabled,omitempty"`
	ProxyDisabledReason string `json:"proxy_disabled_reason,omitempty"`
	Quota               *Quota `json:"quota,omitempty"`
	CreatedAt           int64  `json:"created_at,omitempty"`
	LastUsed            int64  `json:"last_used,omitempty"`
}

// Label returns the display name followed by the email when both exist.
func (a Account) Label() string {
	if a.Name != "" && a.Name != a.Email {
		return fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	return a.Email
}

// StatusText summarizes whether the account can serve proxy traffic.
func (a Account) StatusText() string {
	switch {
	case a.Disabled:
		return "disabled"
	case a.Quota != nil && a.Quota.IsForbidden:
		return "forbidden"
	case a.ProxyDisabled:
		return "proxy off"
	default:
		return "active"
	}
}

// RefreshStats is the outcome of a bulk quota refresh.
type RefreshStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// OAuthAccount identifies the account created by a completed authorization.
type OAuthAccount struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthStatus is the backend's view of the admin session.
type AuthStatus struct {
	PasswordSet bool `json:"password_set"`
	LoggedIn    bool `json:"logged_in"`
}

// ProxyStatus describes the local proxy service.
type ProxyStatus struct {
	Running        bool   `json:"running"`
	Port           int    `json:"port,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	ActiveAccounts int    `json:"active_accounts,omitempty"`
}

// ProxyStats aggregates monitor counters.
type ProxyStats struct {
	TotalRequests int `json:"total_requests"`
	SuccessCount  int `json:"success_count"`
	ErrorCount    int `json:"error_count"`
}

// ProxyLog is one request recorded by the proxy monitor.
type ProxyLog struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Duration  int64  `json:"duration"`
	Model     string `json:"model,omitempty"`
	Account   string `json:"account_email,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Health is the readiness probe payload.
type Health struct {
	Status string `json:"status"`
}

// OK reports whether the backend declared itself ready.
func (h Health) OK() bool { return strings.EqualFold(h.Status, "ok") }

// ImportRun records one batch credential import.
type ImportRun struct {
	RunID     string
	Source    string
	Total     int
	Succeeded int
	Failed    int
	Created   time.Time
}

func (r *ImportRun) ID() string           { return r.RunID }
func (r *ImportRun) CreatedAt() time.Time { return r.Created }

// Validate checks that counters add up.
func (r *ImportRun) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("import run id is required")
	}
	if r.Source == "" {
		return fmt.Errorf("import run source is required")
	}
	if r.Succeeded < 0 || r.Failed < 0 || r.Succeeded+r.Failed != r.Total {
		return fmt.Errorf("import run counters do not add up: %d + %d != %d", r.Succeeded, r.Failed, r.Total)
	}
	return nil
}

// StoredCookie is a session cookie persisted for a backend host.
type StoredCookie struct {
	Host    string
	Name    string
	Value   string
	Path    string
	Expires time.Time
	Updated time.Time
}

func (c *StoredCookie) ID() string           { return c.Host + "/" + c.Name }
func (c *StoredCookie) CreatedAt() time.Time { return c.Updated }

// Validate checks required cookie fields.
func (c *StoredCookie) Validate() error {
	if c.Host == "" || c.Name == "" {
		return fmt.Errorf("cookie host and name are required")
	}
	return nil
}

// Expired reports whether the cookie has a past expiry.
func (c *StoredCookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}
