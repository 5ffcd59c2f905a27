// Package bridge is a client for the native bridge exposed by the desktop shell.
//
// The shell listens on a local unix socket and speaks newline-delimited JSON. Each call is a request
// object with a unique id; the shell answers with a response carrying the same id and either a result or
// an error message. Lines without an id are events pushed by the shell, such as completion of a browser
// authorization.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/shared"
)

// Events pushed by the desktop shell.
const (
	EventOAuthURLGenerated     = "oauth-url-generated"
	EventOAuthCallbackReceived = "oauth-callback-received"
)

// ErrClosed is returned for calls made on, or pending when, the connection closes.
var ErrClosed = errors.New("bridge connection closed")

const maxLineSize = 4 << 20

type request struct {
	ID   string         `json:"id"`
	Cmd  string         `json:"cmd"`
	Args map[string]any `json:"args,omitempty"`
}

type message struct {
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *string         `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an asynchronous notification from the shell.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// RemoteError is a failure reported by the shell for one command.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

type response struct {
	result json.RawMessage
	err    error
}

// Client multiplexes calls and events over one bridge connection.
type Client struct {
	conn   net.Conn
	logger *log.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[string]chan response
	subs    map[string][]chan Event
	closed  bool
	done    chan struct{}
}

// Dial connects to the shell's socket.
func Dial(ctx context.Context, socket string, logger *log.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", shared.ErrBridge, socket, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection and starts reading from it.
func NewClient(conn net.Conn, logger *log.Logger) *Client {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	c := &Client{
		conn:    conn,
		logger:  shared.WithLogger(logger, "component", "bridge"),
		enc:     json.NewEncoder(conn),
		pending: make(map[string]chan response),
		subs:    make(map[string][]chan Event),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Invoke sends cmd with args and waits for the shell's answer or ctx cancellation.
func (c *Client) Invoke(ctx context.Context, cmd string, args map[string]any) (json.RawMessage, error) {
	id := shared.GenerateID()
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.enc.Encode(request{ID: id, Cmd: cmd, Args: args})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", cmd, err)
	}

	c.logger.Debug("bridge call", "cmd", cmd, "id", id)

	select {
	case resp := <-ch:
		var remote *RemoteError
		if errors.As(resp.err, &remote) {
			remote.Command = cmd
		}
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Subscribe returns a channel receiving events named name and a function that ends the subscription.
//
// Events are dropped for a subscriber whose buffer is full.
func (c *Client) Subscribe(name string) (<-chan Event, func()) {
	ch := make(chan Event, 8)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[name] = append(c.subs[name], ch)
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.subs[name]
			for i, s := range list {
				if s == ch {
					c.subs[name] = append(list[:i], list[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel
}

// Close shuts the connection. Pending calls fail with [ErrClosed].
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("dropping malformed bridge message", "error", err)
			continue
		}

		switch {
		case msg.Event != "":
			c.publish(Event{Name: msg.Event, Payload: msg.Payload})
		case msg.ID != "":
			c.deliver(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Debug("bridge read loop ended", "error", err)
	}
	c.shutdown()
}

func (c *Client) deliver(msg message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("response for unknown call", "id", msg.ID)
		return
	}

	resp := response{result: msg.Result}
	if msg.Error != nil {
		resp = response{err: &RemoteError{Message: *msg.Error}}
	}
	ch <- resp
}

func (c *Client) publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs[ev.Name] {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("event subscriber is full, dropping event", "event", ev.Name)
		}
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	for name, list := range c.subs {
		for _, ch := range list {
			close(ch)
		}
		delete(c.subs, name)
	}
}
