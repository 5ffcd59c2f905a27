package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/shared"
)

// TransportKind names the active transport.
type TransportKind string

const (
	TransportNetwork TransportKind = "network"
	TransportBridge  TransportKind = "bridge"
)

// Transport performs one command call.
type Transport interface {
	Kind() TransportKind
	Call(ctx context.Context, name commands.Name, args commands.Args) (Result, error)
}

// Sender is the call surface consumed by the session guard, the OAuth controller and the services.
type Sender interface {
	Dispatch(ctx context.Context, name commands.Name, args commands.Args) (Result, error)
	Kind() TransportKind
}

// Dispatcher routes every command through its single transport.
type Dispatcher struct {
	transport Transport
	logger    *log.Logger
}

// New creates a dispatcher over t.
func New(t Transport, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Dispatcher{transport: t, logger: shared.WithLogger(logger, "component", "dispatch")}
}

// Kind returns the active transport kind.
func (d *Dispatcher) Kind() TransportKind { return d.transport.Kind() }

// Transport returns the active transport.
func (d *Dispatcher) Transport() Transport { return d.transport }

// Dispatch sends name with args. Every failure is an [*Error].
func (d *Dispatcher) Dispatch(ctx context.Context, name commands.Name, args commands.Args) (Result, error) {
	start := time.Now()
	res, err := d.transport.Call(ctx, name, args)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			d.logger.Debug("command rejected locally", "cmd", name, "error", err)
			return Result{}, err
		}
		var de *Error
		if !errors.As(err, &de) {
			de = newError(KindTransport, name, err.Error(), err)
		}
		d.logger.Debug("command failed", "cmd", name, "kind", de.Kind, "elapsed", elapsed, "error", de.Message)
		return Result{}, de
	}

	d.logger.Debug("command ok", "cmd", name, "elapsed", elapsed, "empty", res.IsEmpty())
	return res, nil
}

// Call dispatches name and decodes the result into T. An empty result yields the zero value.
func Call[T any](ctx context.Context, s Sender, name commands.Name, args commands.Args) (T, error) {
	var out T
	res, err := s.Dispatch(ctx, name, args)
	if err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, newError(KindProtocol, name, err.Error(), err)
	}
	return out, nil
}
