package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/agx/internal/models"
	"github.com/gorilla/mux"
)

// SessionCookie is the cookie name issued by the admin API.
const SessionCookie = "ag_session"

// FakeBackend is an in-memory admin API used by package tests.
//
// It follows the envelope and status code conventions of the real server: admin routes require a session
// cookie, auth routes and /healthz do not, and failures carry {"status":"error","message":...}.
type FakeBackend struct {
	*httptest.Server

	mu sync.Mutex

	Password       string
	Headless       bool
	ProxyRunning   bool
	ProxyPort      int
	MonitorEnabled bool
	Config         map[string]any
	Accounts       []models.Account
	CurrentID      string
	Logs           []models.ProxyLog
	// RejectTokens makes add_account fail for the listed refresh tokens.
	RejectTokens map[string]string
	// QuotaFailures is the failed count reported by a bulk refresh.
	QuotaFailures int
	// ExchangeEmail is returned for a successful OAuth code exchange.
	ExchangeEmail string

	sessions map[string]bool
	hits     map[string]int
}

// NewFakeBackend starts a fake admin API. The server is closed when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	b := &FakeBackend{
		ProxyPort:     8045,
		Config:        map[string]any{"language": "en"},
		RejectTokens:  map[string]string{},
		ExchangeEmail: "oauth@example.com",
		sessions:      map[string]bool{},
		hits:          map[string]int{},
	}
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(b.Close)
	return b
}

// Hits returns how many times route (METHOD /path template) was served.
func (b *FakeBackend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

// TotalHits returns how many requests were served on any route.
func (b *FakeBackend) TotalHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.hits {
		n += c
	}
	return n
}

// ExpireSessions drops every issued session.
func (b *FakeBackend) ExpireSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = map[string]bool{}
}

// Update mutates the backend state under its lock.
func (b *FakeBackend) Update(fn func(b *FakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// AccountCount returns the number of stored accounts.
func (b *FakeBackend) AccountCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Accounts)
}

func (b *FakeBackend) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(b.count)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/api/auth/status", b.authStatus).Methods("GET")
	r.HandleFunc("/api/auth/setup", b.authSetup).Methods("POST")
	r.HandleFunc("/api/auth/login", b.authLogin).Methods("POST")
	r.HandleFunc("/api/auth/logout", b.authLogout).Methods("POST")

	r.HandleFunc("/api/oauth/url", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"url": "https://accounts.example.com/o/oauth2/auth?redirect_uri=http://127.0.0.1:10101/callback"})
	}).Methods("GET")
	r.HandleFunc("/api/oauth/exchange", b.oauthExchange).Methods("POST")

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(b.requireSession)

	admin.HandleFunc("/accounts", b.listAccounts).Methods("GET")
	admin.HandleFunc("/accounts", b.addAccount).Methods("POST")
	admin.HandleFunc("/accounts/current", b.currentAccount).Methods("GET")
	admin.HandleFunc("/accounts/switch", b.switchAccount).Methods("POST")
	admin.HandleFunc("/accounts/reorder", b.reorderAccounts).Methods("POST")
	admin.HandleFunc("/accounts/batch_delete", b.batchDelete).Methods("POST")
	admin.HandleFunc("/accounts/{id}", b.deleteAccount).Methods("DELETE")
	admin.HandleFunc("/accounts/{id}/toggle_proxy", b.toggleProxy).Methods("POST")

	admin.HandleFunc("/quota/refresh", b.refreshQuotas).Methods("POST")
	admin.HandleFunc("/quota/{id}", b.fetchQuota).Methods("POST")

	admin.HandleFunc("/config", b.loadConfig).Methods("GET")
	admin.HandleFunc("/config", b.saveConfig).Methods("POST")
	admin.HandleFunc("/system/path", func(w http.ResponseWriter, r *http.Request) {
		success(w, "/var/lib/agx")
	}).Methods("GET")

	admin.HandleFunc("/proxy/status", b.proxyStatus).Methods("GET")
	admin.HandleFunc("/proxy/start", b.proxyStartStop(true)).Methods("POST")
	admin.HandleFunc("/proxy/stop", b.proxyStartStop(false)).Methods("POST")
	admin.HandleFunc("/proxy/mapping", func(w http.ResponseWriter, r *http.Request) {
		success(w, nil)
	}).Methods("POST")
	admin.HandleFunc("/proxy/fetch_models", func(w http.ResponseWriter, r *http.Request) {
		success(w, []string{"glm-4.6", "glm-4.5-air"})
	}).Methods("POST")
	admin.HandleFunc("/proxy/sessions", func(w http.ResponseWriter, r *http.Request) {
		success(w, nil)
	}).Methods("DELETE")
	admin.HandleFunc("/utils/generate_key", func(w http.ResponseWriter, r *http.Request) {
		success(w, "sk-"+strings.Repeat("a", 32))
	}).Methods("POST")

	admin.HandleFunc("/monitor/stats", b.monitorStats).Methods("GET")
	admin.HandleFunc("/monitor/logs", b.monitorLogs).Methods("GET")
	admin.HandleFunc("/monitor/logs", b.clearLogs).Methods("DELETE")
	admin.HandleFunc("/monitor/enable", b.enableMonitor).Methods("POST")

	return r
}

func (b *FakeBackend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = r.Method + " " + tpl
			}
		}
		b.mu.Lock()
		b.hits[route]++
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) loggedIn(r *http.Request) bool {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[c.Value]
}

func (b *FakeBackend) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.loggedIn(r) {
			failure(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) issueSession(w http.ResponseWriter) {
	token := fmt.Sprintf("s%d", len(b.sessions)+1)
	b.sessions[token] = true
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token, Path: "/", MaxAge: 86400, HttpOnly: true})
}

func (b *FakeBackend) authStatus(w http.ResponseWriter, r *http.Request) {
	loggedIn := b.loggedIn(r)
	b.mu.Lock()
	set := b.Password != ""
	b.mu.Unlock()
	success(w, models.AuthStatus{PasswordSet: set, LoggedIn: set && loggedIn})
}

func (b *FakeBackend) authSetup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Password != "" {
		failure(w, http.StatusForbidden, "password already set")
		return
	}
	if len(body.Password) < 6 {
		failure(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	b.Password = body.Password
	b.issueSession(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "password set"})
}

func (b *FakeBackend) authLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Password == "" {
		failure(w, http.StatusBadRequest, "password not set")
		return
	}
	if body.Password != b.Password {
		failure(w, http.StatusUnauthorized, "wrong password")
		return
	}
	b.issueSession(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "logged in"})
}

func (b *FakeBackend) authLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		b.mu.Lock()
		delete(b.sessions, c.Value)
		b.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "logged out"})
}

func (b *FakeBackend) oauthExchange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}

	switch strings.TrimSpace(body.Code) {
	case "":
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": "authorization code is empty"})
	case "no-refresh":
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": "No Refresh Token returned. Revoke access and retry."})
	default:
		b.mu.Lock()
		acc := models.Account{ID: fmt.Sprintf("acc-%d", len(b.Accounts)+1), Email: b.ExchangeEmail}
		b.Accounts = append(b.Accounts, acc)
		b.mu.Unlock()
		success(w, models.OAuthAccount{ID: acc.ID, Email: acc.Email})
	}
}

func (b *FakeBackend) listAccounts(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	accounts := append([]models.Account{}, b.Accounts...)
	success(w, accounts)
}

func (b *FakeBackend) currentAccount(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.Accounts {
		if a.ID == b.CurrentID {
			success(w, a)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": nil})
}

func (b *FakeBackend) addAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
		Email        string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, bad := b.RejectTokens[body.RefreshToken]; bad {
		failure(w, http.StatusBadRequest, msg)
		return
	}
	if !strings.HasPrefix(body.RefreshToken, "1//") {
		failure(w, http.StatusBadRequest, "invalid refresh_token")
		return
	}

	email := body.Email
	if email == "" {
		email = fmt.Sprintf("user%d@example.com", len(b.Accounts)+1)
	}
	acc := models.Account{ID: fmt.Sprintf("acc-%d", len(b.Accounts)+1), Email: email}
	b.Accounts = append(b.Accounts, acc)
	success(w, acc)
}

func (b *FakeBackend) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.remove(id) {
		failure(w, http.StatusNotFound, "account not found")
		return
	}
	success(w, nil)
}

func (b *FakeBackend) batchDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountIDs []string `json:"account_ids"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range body.AccountIDs {
		b.remove(id)
	}
	success(w, nil)
}

func (b *FakeBackend) remove(id string) bool {
	for i, a := range b.Accounts {
		if a.ID == id {
			b.Accounts = append(b.Accounts[:i], b.Accounts[i+1:]...)
			if b.CurrentID == id {
				b.CurrentID = ""
			}
			return true
		}
	}
	return false
}

func (b *FakeBackend) switchAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID string `json:"account_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.Accounts {
		if a.ID == body.AccountID {
			b.CurrentID = a.ID
			success(w, nil)
			return
		}
	}
	failure(w, http.StatusNotFound, "account not found")
}

func (b *FakeBackend) reorderAccounts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountIDs []string `json:"account_ids"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	byID := make(map[string]models.Account, len(b.Accounts))
	for _, a := range b.Accounts {
		byID[a.ID] = a
	}
	ordered := make([]models.Account, 0, len(b.Accounts))
	for _, id := range body.AccountIDs {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
			delete(byID, id)
		}
	}
	for _, a := range b.Accounts {
		if _, left := byID[a.ID]; left {
			ordered = append(ordered, a)
		}
	}
	b.Accounts = ordered
	success(w, nil)
}

func (b *FakeBackend) toggleProxy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Enable bool   `json:"enable"`
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Accounts {
		if b.Accounts[i].ID == id {
			b.Accounts[i].ProxyDisabled = !body.Enable
			b.Accounts[i].ProxyDisabledReason = body.Reason
			success(w, nil)
			return
		}
	}
	failure(w, http.StatusNotFound, "account not found")
}

func (b *FakeBackend) refreshQuotas(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(b.Accounts)
	failed := min(b.QuotaFailures, total)
	success(w, models.RefreshStats{Total: total, Success: total - failed, Failed: failed})
}

func (b *FakeBackend) fetchQuota(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Accounts {
		if b.Accounts[i].ID == id {
			q := &models.Quota{Models: []models.ModelQuota{{Name: "gemini-3-pro", Percentage: 75}}}
			b.Accounts[i].Quota = q
			success(w, q)
			return
		}
	}
	failure(w, http.StatusNotFound, "account not found")
}

func (b *FakeBackend) loadConfig(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	success(w, b.Config)
}

func (b *FakeBackend) saveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]any
	if !decode(w, r, &cfg) {
		return
	}
	b.mu.Lock()
	b.Config = cfg
	b.mu.Unlock()
	success(w, nil)
}

func (b *FakeBackend) proxyStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := models.ProxyStatus{Running: b.ProxyRunning || b.Headless, ActiveAccounts: len(b.Accounts)}
	if status.Running {
		status.Port = b.ProxyPort
	}
	success(w, status)
}

func (b *FakeBackend) proxyStartStop(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.Headless {
			failure(w, http.StatusBadRequest, "Start/Stop not supported in Headless Mode")
			return
		}
		b.ProxyRunning = start
		success(w, nil)
	}
}

func (b *FakeBackend) monitorStats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := models.ProxyStats{TotalRequests: len(b.Logs)}
	for _, l := range b.Logs {
		if l.Status >= 200 && l.Status < 400 {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
	}
	success(w, stats)
}

func (b *FakeBackend) monitorLogs(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	logs := append([]models.ProxyLog{}, b.Logs...)
	if limit := r.URL.Query().Get("limit"); limit != "" {
		var n int
		fmt.Sscanf(limit, "%d", &n)
		if n < len(logs) {
			logs = logs[:n]
		}
	}
	success(w, logs)
}

func (b *FakeBackend) clearLogs(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.Logs = nil
	b.mu.Unlock()
	success(w, nil)
}

func (b *FakeBackend) enableMonitor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	b.MonitorEnabled = body.Enabled
	b.mu.Unlock()
	success(w, nil)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		failure(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func success(w http.ResponseWriter, data any) {
	body := map[string]any{"status": "success"}
	if data != nil {
		body["data"] = data
	}
	writeJSON(w, http.StatusOK, body)
}

func failure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": "error", "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
