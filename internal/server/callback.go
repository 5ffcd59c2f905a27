package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/shared"
)

// CallbackPath is the redirect path registered with the identity provider.
const CallbackPath = "/callback"

// DefaultCallbackAddr is where the admin backend tells the provider to redirect.
const DefaultCallbackAddr = "127.0.0.1:10101"

// ErrAuthorizationDenied is reported when the provider redirects with an error instead of a code.
var ErrAuthorizationDenied = errors.New("authorization denied")

// CallbackResult carries the outcome of the browser redirect.
type CallbackResult struct {
	Code string
	err  error
}

func (c CallbackResult) Error() error { return c.err }

var pageTmpl = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: {{.Color}}; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p>{{.Detail}}</p>
    </div>
</body>
</html>
`))

type page struct {
	Title  string
	Detail string
	Color  template.CSS
}

// CallbackHandler receives the provider redirect.
//
// Only the first request is processed; later ones are rejected so a replayed URL cannot complete a second flow.
type CallbackHandler struct {
	results chan CallbackResult
	once    sync.Once

	mu  sync.Mutex
	hit bool
}

// NewCallbackHandler creates a handler with a buffered result channel.
func NewCallbackHandler() *CallbackHandler {
	return &CallbackHandler{results: make(chan CallbackResult, 1)}
}

// Routes returns the HTTP routes this handler serves.
func (h *CallbackHandler) Routes() []string {
	return []string{CallbackPath}
}

// ServeHTTP handles the redirect request.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.hit = true
	h.mu.Unlock()

	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: %s %s", ErrAuthorizationDenied, q.Get("error"), q.Get("error_description"))
		h.Send(CallbackResult{err: err})
		render(w, http.StatusBadRequest, page{Title: "Authorization Failed", Detail: "Return to the terminal and try again.", Color: "#d14343"})
		return
	}

	h.Send(CallbackResult{Code: code})
	render(w, http.StatusOK, page{Title: "Authorization Received", Detail: "You can close this window and return to the terminal.", Color: "#1DB954"})
}

func render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	pageTmpl.Execute(w, p)
}

// Send delivers result once and closes the channel.
func (h *CallbackHandler) Send(result CallbackResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// abandon closes the channel without a result.
func (h *CallbackHandler) abandon() {
	h.once.Do(func() { close(h.results) })
}

// Result returns the channel that receives at most one result. It is closed once the attempt ends.
func (h *CallbackHandler) Result() <-chan CallbackResult {
	return h.results
}

// CallbackServer owns the listening socket for one authorization attempt.
type CallbackServer struct {
	addr   string
	logger *log.Logger

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	handler *CallbackHandler
}

// NewCallbackServer creates a server for addr (host:port). Nothing listens until [CallbackServer.Listen].
func NewCallbackServer(addr string, logger *log.Logger) *CallbackServer {
	if addr == "" {
		addr = DefaultCallbackAddr
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &CallbackServer{addr: addr, logger: shared.WithLogger(logger, "component", "callback")}
}

// Listen reserves the port and starts serving. Calling Listen while already listening returns the
// existing result channel.
func (s *CallbackServer) Listen() (<-chan CallbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return s.handler.Result(), nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve callback port %s: %w", s.addr, err)
	}

	handler := NewCallbackHandler()
	router := NewBasicRouter()
	router.Use(Recover(s.logger), Logging(s.logger))
	router.Handler(handler)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	s.srv, s.ln, s.handler = srv, ln, handler

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("callback server stopped", "error", err)
		}
	}()

	s.logger.Debug("callback listener reserved", "addr", ln.Addr().String())
	return handler.Result(), nil
}

// Addr returns the bound address, or the configured one when not listening.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Listening reports whether the port is currently reserved.
func (s *CallbackServer) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln != nil
}

// Close frees the port. It is safe to call more than once.
func (s *CallbackServer) Close() error {
	s.mu.Lock()
	srv, handler := s.srv, s.handler
	s.srv, s.ln, s.handler = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	handler.abandon()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop callback server: %w", err)
	}
	s.logger.Debug("callback listener released")
	return nil
}
