// package testing contains shared testing utilities
package testing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/shared"
)

// QuietLogger returns a logger that discards output.
func QuietLogger() *log.Logger { return shared.NewLogger(io.Discard) }

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
	Requests []*http.Request
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.Requests = append(m.Requests, req)
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

// Call records one command sent through a [StubSender].
type Call struct {
	Name commands.Name
	Args commands.Args
}

// Handler answers a stubbed command.
type Handler func(ctx context.Context, args commands.Args) (dispatch.Result, error)

// StubSender is a scripted [dispatch.Sender].
//
// Commands without a handler return an empty result.
type StubSender struct {
	TransportKind dispatch.TransportKind

	mu       sync.Mutex
	handlers map[commands.Name]Handler
	calls    []Call
}

// NewStubSender returns a network-kind stub with no handlers.
func NewStubSender() *StubSender {
	return &StubSender{TransportKind: dispatch.TransportNetwork, handlers: make(map[commands.Name]Handler)}
}

// On sets the handler for name.
func (s *StubSender) On(name commands.Name, h Handler) *StubSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
	return s
}

// Return makes name answer with v encoded as JSON.
func (s *StubSender) Return(name commands.Name, v any) *StubSender {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return s.On(name, func(context.Context, commands.Args) (dispatch.Result, error) {
		return dispatch.NewResult(raw), nil
	})
}

// Fail makes name fail with a dispatch error of kind and message.
func (s *StubSender) Fail(name commands.Name, kind dispatch.Kind, msg string) *StubSender {
	return s.On(name, func(context.Context, commands.Args) (dispatch.Result, error) {
		return dispatch.Result{}, &dispatch.Error{Kind: kind, Command: name, Message: msg}
	})
}

// Dispatch implements [dispatch.Sender].
func (s *StubSender) Dispatch(ctx context.Context, name commands.Name, args commands.Args) (dispatch.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Name: name, Args: args})
	h := s.handlers[name]
	s.mu.Unlock()

	if h == nil {
		return dispatch.Empty(), nil
	}
	return h(ctx, args)
}

// Kind implements [dispatch.Sender].
func (s *StubSender) Kind() dispatch.TransportKind { return s.TransportKind }

// Calls returns a copy of every recorded call.
func (s *StubSender) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times name was dispatched.
func (s *StubSender) Count(name commands.Name) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
