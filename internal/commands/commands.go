package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/desertthunder/agx/internal/shared"
)

// Name identifies a backend command.
type Name string

func (n Name) String() string { return string(n) }

// Args holds command arguments using the field names the interface layer works with.
type Args map[string]any

// String returns the string argument key or "".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether key is present and non-nil.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

const (
	ListAccounts      Name = "list_accounts"
	CurrentAccount    Name = "get_current_account"
	AddAccount        Name = "add_account"
	DeleteAccount     Name = "delete_account"
	DeleteAccounts    Name = "delete_accounts"
	SwitchAccount     Name = "switch_account"
	ReorderAccounts   Name = "reorder_accounts"
	ToggleProxyStatus Name = "toggle_proxy_status"

	FetchAccountQuota Name = "fetch_account_quota"
	RefreshAllQuotas  Name = "refresh_all_quotas"

	LoadConfig Name = "load_config"
	SaveConfig Name = "save_config"

	DataFolderPath Name = "get_antigravity_path"
	OpenDataFolder Name = "open_data_folder"
	ShowMainWindow Name = "show_main_window"

	ProxyStatus               Name = "get_proxy_status"
	StartProxyService         Name = "start_proxy_service"
	StopProxyService          Name = "stop_proxy_service"
	UpdateModelMapping        Name = "update_model_mapping"
	FetchModels               Name = "fetch_zai_models"
	ClearProxySessionBindings Name = "clear_proxy_session_bindings"
	GenerateAPIKey            Name = "generate_api_key"

	ProxyStats             Name = "get_proxy_stats"
	ProxyLogs              Name = "get_proxy_logs"
	SetProxyMonitorEnabled Name = "set_proxy_monitor_enabled"
	ClearProxyLogs         Name = "clear_proxy_logs"

	WebOAuthURL        Name = "get_web_oauth_url"
	SubmitWebOAuthCode Name = "submit_web_oauth_code"

	PrepareOAuthURL    Name = "prepare_oauth_url"
	StartOAuthLogin    Name = "start_oauth_login"
	CompleteOAuthLogin Name = "complete_oauth_login"
	CancelOAuthLogin   Name = "cancel_oauth_login"

	ImportFromDB     Name = "import_from_db"
	ImportV1Accounts Name = "import_v1_accounts"
	ImportCustomDB   Name = "import_custom_db"

	HealthCheck Name = "health_check"
	AuthStatus  Name = "auth_status"
	AuthSetup   Name = "auth_setup"
	AuthLogin   Name = "auth_login"
	AuthLogout  Name = "auth_logout"
)

// AdminPrefix is the path prefix guarded by the backend's session middleware.
const AdminPrefix = "/api/admin/"

// Descriptor describes how a command maps onto the network admin API.
type Descriptor struct {
	Name Name
	Verb string
	// Path is used when PathFunc is nil.
	Path     string
	PathFunc func(Args) (string, error)
	// Reshape builds the request body from the arguments. It is applied to POST commands only.
	Reshape func(Args) any
	// Unwrap extracts the result from a decoded response body when the command does not follow the
	// generic envelope. It reports false to fall back to generic unwrapping.
	Unwrap func(body []byte) (json.RawMessage, bool)
}

// Protected reports whether the backend requires a session for this command.
func (d Descriptor) Protected() bool {
	return strings.HasPrefix(d.Path, AdminPrefix)
}

// BuildPath returns the request path for args, including any query string.
func (d Descriptor) BuildPath(args Args) (string, error) {
	if d.PathFunc == nil {
		return d.Path, nil
	}
	return d.PathFunc(args)
}

// HasBody reports whether requests for this command carry a JSON body.
func (d Descriptor) HasBody() bool {
	return d.Verb != http.MethodGet && d.Verb != http.MethodDelete
}

// Body returns the request payload for args.
//
// GET and DELETE commands have no body. POST commands use the reshape rule when one exists and the
// arguments unchanged otherwise.
func (d Descriptor) Body(args Args) any {
	if !d.HasBody() {
		return nil
	}
	if d.Reshape != nil {
		return d.Reshape(args)
	}
	if args == nil {
		return map[string]any{}
	}
	return map[string]any(args)
}

// accountPath builds /api/admin/<prefix>/<accountId><suffix> with the id escaped as one segment.
func accountPath(prefix, suffix string) func(Args) (string, error) {
	return func(a Args) (string, error) {
		id := a.String("accountId")
		if id == "" {
			return "", fmt.Errorf("%w: %w: accountId", shared.ErrValidation, shared.ErrMissingArgument)
		}
		return prefix + url.PathEscape(id) + suffix, nil
	}
}

func logsPath(a Args) (string, error) {
	const base = "/api/admin/monitor/logs"
	if !a.Has("limit") {
		return base, nil
	}
	n, err := strconv.Atoi(a.String("limit"))
	if err != nil || n < 0 {
		return "", fmt.Errorf("%w: %w: limit must be a non-negative integer", shared.ErrValidation, shared.ErrInvalidArgument)
	}
	return base + "?limit=" + strconv.Itoa(n), nil
}

// urlField unwraps {"url": "..."} into a JSON string.
func urlField(body []byte) (json.RawMessage, bool) {
	var v struct {
		URL *string `json:"url"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.URL == nil {
		return nil, false
	}
	raw, err := json.Marshal(*v.URL)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// dataField unwraps {"data": ...} regardless of any status field.
func dataField(body []byte) (json.RawMessage, bool) {
	var v struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.Data == nil {
		return nil, false
	}
	return v.Data, true
}

var table = []Descriptor{
	{Name: ListAccounts, Verb: http.MethodGet, Path: "/api/admin/accounts"},
	{Name: CurrentAccount, Verb: http.MethodGet, Path: "/api/admin/accounts/current"},
	{Name: AddAccount, Verb: http.MethodPost, Path: "/api/admin/accounts", Reshape: func(a Args) any {
		return map[string]any{"refresh_token": a["refreshToken"], "email": a["email"]}
	}},
	{Name: DeleteAccount, Verb: http.MethodDelete, Path: "/api/admin/accounts/{accountId}",
		PathFunc: accountPath("/api/admin/accounts/", "")},
	{Name: DeleteAccounts, Verb: http.MethodPost, Path: "/api/admin/accounts/batch_delete", Reshape: func(a Args) any {
		return map[string]any{"account_ids": a["accountIds"]}
	}},
	{Name: SwitchAccount, Verb: http.MethodPost, Path: "/api/admin/accounts/switch", Reshape: func(a Args) any {
		return map[string]any{"account_id": a["accountId"]}
	}},
	{Name: ReorderAccounts, Verb: http.MethodPost, Path: "/api/admin/accounts/reorder", Reshape: func(a Args) any {
		return map[string]any{"account_ids": a["accountIds"]}
	}},
	{Name: ToggleProxyStatus, Verb: http.MethodPost, Path: "/api/admin/accounts/{accountId}/toggle_proxy",
		PathFunc: accountPath("/api/admin/accounts/", "/toggle_proxy"),
		Reshape: func(a Args) any {
			return map[string]any{"enable": a["enable"], "reason": a["reason"]}
		}},

	{Name: FetchAccountQuota, Verb: http.MethodPost, Path: "/api/admin/quota/{accountId}",
		PathFunc: accountPath("/api/admin/quota/", "")},
	{Name: RefreshAllQuotas, Verb: http.MethodPost, Path: "/api/admin/quota/refresh"},

	{Name: LoadConfig, Verb: http.MethodGet, Path: "/api/admin/config"},
	{Name: SaveConfig, Verb: http.MethodPost, Path: "/api/admin/config", Reshape: func(a Args) any {
		return a["config"]
	}},

	{Name: DataFolderPath, Verb: http.MethodGet, Path: "/api/admin/system/path"},

	{Name: ProxyStatus, Verb: http.MethodGet, Path: "/api/admin/proxy/status"},
	{Name: StartProxyService, Verb: http.MethodPost, Path: "/api/admin/proxy/start"},
	{Name: StopProxyService, Verb: http.MethodPost, Path: "/api/admin/proxy/stop"},
	{Name: UpdateModelMapping, Verb: http.MethodPost, Path: "/api/admin/proxy/mapping"},
	{Name: FetchModels, Verb: http.MethodPost, Path: "/api/admin/proxy/fetch_models"},
	{Name: ClearProxySessionBindings, Verb: http.MethodDelete, Path: "/api/admin/proxy/sessions"},
	{Name: GenerateAPIKey, Verb: http.MethodPost, Path: "/api/admin/utils/generate_key"},

	{Name: ProxyStats, Verb: http.MethodGet, Path: "/api/admin/monitor/stats"},
	{Name: ProxyLogs, Verb: http.MethodGet, Path: "/api/admin/monitor/logs", PathFunc: logsPath},
	{Name: SetProxyMonitorEnabled, Verb: http.MethodPost, Path: "/api/admin/monitor/enable"},
	{Name: ClearProxyLogs, Verb: http.MethodDelete, Path: "/api/admin/monitor/logs"},

	{Name: WebOAuthURL, Verb: http.MethodGet, Path: "/api/oauth/url", Unwrap: urlField},
	{Name: SubmitWebOAuthCode, Verb: http.MethodPost, Path: "/api/oauth/exchange", Unwrap: dataField},

	{Name: HealthCheck, Verb: http.MethodGet, Path: "/healthz"},
	{Name: AuthStatus, Verb: http.MethodGet, Path: "/api/auth/status"},
	{Name: AuthSetup, Verb: http.MethodPost, Path: "/api/auth/setup"},
	{Name: AuthLogin, Verb: http.MethodPost, Path: "/api/auth/login"},
	{Name: AuthLogout, Verb: http.MethodPost, Path: "/api/auth/logout"},
}

// noop commands have a meaning only inside the desktop shell.
var noop = map[Name]bool{
	ShowMainWindow: true,
	OpenDataFolder: true,
}

var bridgeOnly = map[Name]bool{
	ShowMainWindow:     true,
	OpenDataFolder:     true,
	PrepareOAuthURL:    true,
	StartOAuthLogin:    true,
	CompleteOAuthLogin: true,
	CancelOAuthLogin:   true,
	ImportFromDB:       true,
	ImportV1Accounts:   true,
	ImportCustomDB:     true,
}

// Registry is an immutable lookup table of command descriptors.
type Registry struct {
	byName map[Name]Descriptor
}

// New builds a registry from descriptors, rejecting duplicates and incomplete entries.
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[Name]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" || d.Verb == "" || d.Path == "" {
			return nil, fmt.Errorf("%w: incomplete descriptor %q", shared.ErrInvalidConfig, d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate command %q", shared.ErrInvalidConfig, d.Name)
		}
		if bridgeOnly[d.Name] {
			return nil, fmt.Errorf("%w: %q is bridge only", shared.ErrInvalidConfig, d.Name)
		}
		r.byName[d.Name] = d
	}
	return r, nil
}

// Default returns the registry of every admin API command.
func Default() *Registry {
	r, err := New(table...)
	if err != nil {
		panic(fmt.Sprintf("invalid command table: %v", err))
	}
	return r
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name Name) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns every registered network command, sorted.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Verify returns an error naming every command that is neither registered nor bridge only.
func (r *Registry) Verify(names ...Name) error {
	var missing []string
	for _, n := range names {
		if _, ok := r.byName[n]; !ok && !bridgeOnly[n] {
			missing = append(missing, string(n))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unregistered commands: %s", shared.ErrUnsupported, strings.Join(missing, ", "))
	}
	return nil
}

// IsBridgeOnly reports whether name exists only on the native bridge.
func IsBridgeOnly(name Name) bool { return bridgeOnly[name] }

// IsNoop reports whether name silently does nothing on the network transport.
func IsNoop(name Name) bool { return noop[name] }

// All returns every command name known to agx, network and bridge only.
func All() []Name {
	names := Default().Names()
	for n := range bridgeOnly {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
