package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/shared"
)

// Invoker is the native bridge call surface.
type Invoker interface {
	Invoke(ctx context.Context, cmd string, args map[string]any) (json.RawMessage, error)
}

// BridgeTransport forwards commands to the desktop shell unchanged.
type BridgeTransport struct {
	invoker Invoker
	logger  *log.Logger
}

// NewBridgeTransport wraps a bridge client.
func NewBridgeTransport(inv Invoker, logger *log.Logger) *BridgeTransport {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &BridgeTransport{invoker: inv, logger: shared.WithLogger(logger, "transport", TransportBridge)}
}

// Kind implements [Transport].
func (b *BridgeTransport) Kind() TransportKind { return TransportBridge }

// Call implements [Transport]. Any failure is re-raised as a bridge error carrying the bridge's message.
func (b *BridgeTransport) Call(ctx context.Context, name commands.Name, args commands.Args) (Result, error) {
	raw, err := b.invoker.Invoke(ctx, string(name), map[string]any(args))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, newError(KindTransport, name, err.Error(), err)
		}
		return Result{}, newError(KindBridge, name, err.Error(), err)
	}
	return NewResult(raw), nil
}
