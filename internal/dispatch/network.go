package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/shared"
)

// DefaultBaseURL is used when no admin API address is configured.
const DefaultBaseURL = "http://127.0.0.1:8045"

// RequestIDHeader carries a per-request id for correlating client and server logs.
const RequestIDHeader = "X-Request-ID"

// NetworkTransport calls the admin API over HTTP.
type NetworkTransport struct {
	baseURL        string
	httpClient     *http.Client
	registry       *commands.Registry
	onUnauthorized func(commands.Name)
	logger         *log.Logger
}

// NetworkOption configures a [NetworkTransport].
type NetworkOption func(*NetworkTransport)

// WithHTTPClient sets the client used for requests. Its cookie jar holds the session.
func WithHTTPClient(c *http.Client) NetworkOption {
	return func(n *NetworkTransport) {
		if c != nil {
			n.httpClient = c
		}
	}
}

// WithRegistry replaces the default command registry.
func WithRegistry(r *commands.Registry) NetworkOption {
	return func(n *NetworkTransport) {
		if r != nil {
			n.registry = r
		}
	}
}

// WithUnauthorizedHandler registers fn to run when a protected command is rejected with 401.
//
// fn runs before the error is returned to the caller.
func WithUnauthorizedHandler(fn func(commands.Name)) NetworkOption {
	return func(n *NetworkTransport) { n.onUnauthorized = fn }
}

// WithLogger sets the transport logger.
func WithLogger(l *log.Logger) NetworkOption {
	return func(n *NetworkTransport) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNetworkTransport creates a transport for the admin API at baseURL.
func NewNetworkTransport(baseURL string, opts ...NetworkOption) *NetworkTransport {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	n := &NetworkTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		registry:   commands.Default(),
		logger:     shared.NewLogger(nil),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = shared.WithLogger(n.logger, "transport", TransportNetwork)
	return n
}

// SetUnauthorizedHandler replaces the 401 hook after construction.
func (n *NetworkTransport) SetUnauthorizedHandler(fn func(commands.Name)) {
	n.onUnauthorized = fn
}

// Kind implements [Transport].
func (n *NetworkTransport) Kind() TransportKind { return TransportNetwork }

// BaseURL returns the admin API address.
func (n *NetworkTransport) BaseURL() string { return n.baseURL }

// Call implements [Transport].
func (n *NetworkTransport) Call(ctx context.Context, name commands.Name, args commands.Args) (Result, error) {
	desc, ok := n.registry.Lookup(name)
	if !ok {
		if commands.IsNoop(name) {
			n.logger.Debug("skipping shell-only command", "cmd", name)
			return Empty(), nil
		}
		return Result{}, newError(KindUnsupported, name, fmt.Sprintf("command %s is not available over the network", name), nil)
	}

	path, err := desc.BuildPath(args)
	if err != nil {
		return Result{}, err
	}

	req, err := n.newRequest(ctx, desc, path, args)
	if err != nil {
		return Result{}, newError(KindTransport, name, err.Error(), err)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Result{}, newError(KindTransport, name, fmt.Sprintf("request failed: %v", err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, newError(KindTransport, name, fmt.Sprintf("failed to read response: %v", err), err)
	}

	n.logger.Debug("admin api", "cmd", name, "method", desc.Verb, "path", path, "status", resp.StatusCode)
	return n.interpret(desc, resp.StatusCode, body)
}

func (n *NetworkTransport) newRequest(ctx context.Context, desc commands.Descriptor, path string, args commands.Args) (*http.Request, error) {
	var body io.Reader
	if desc.HasBody() {
		data, err := json.Marshal(desc.Body(args))
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, desc.Verb, n.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, shared.GenerateID())
	return req, nil
}

// interpret maps an HTTP response onto a result or a normalized error.
func (n *NetworkTransport) interpret(desc commands.Descriptor, status int, body []byte) (Result, error) {
	name := desc.Name

	if status == http.StatusUnauthorized && desc.Protected() {
		if n.onUnauthorized != nil {
			n.onUnauthorized(name)
		}
		e := newError(KindUnauthorized, name, failureMessage(body, http.StatusText(status)), shared.ErrUnauthorized)
		e.Status = status
		return Result{}, e
	}

	if status < 200 || status >= 300 {
		e := newError(KindProtocol, name, failureMessage(body, http.StatusText(status)), nil)
		e.Status = status
		return Result{}, e
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return Empty(), nil
	}

	if !json.Valid(body) {
		e := newError(KindProtocol, name, "backend returned a non-JSON response", errors.New(shared.Truncate(string(body), 120)))
		e.Status = status
		return Result{}, e
	}

	if envelopeStatus(body) == statusError {
		msg, ok := envelopeMessage(body)
		if !ok {
			msg = "request failed"
		}
		e := newError(KindProtocol, name, msg, nil)
		e.Status = status
		return Result{}, e
	}

	if desc.Unwrap != nil {
		if raw, ok := desc.Unwrap(body); ok {
			return NewResult(raw), nil
		}
	}

	if data, ok := envelopeData(body); ok {
		return NewResult(data), nil
	}
	return NewResult(body), nil
}
