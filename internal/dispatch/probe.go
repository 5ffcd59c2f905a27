package dispatch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/desertthunder/agx/internal/shared"
)

// Selection is the outcome of the environment probe.
type Selection struct {
	Kind   TransportKind
	Socket string
}

// Detect decides once which transport the process uses.
//
// An explicit mode wins. In auto mode the bridge is chosen only when a socket is configured (or set through
// AGX_BRIDGE_SOCKET) and exists.
func Detect(cfg shared.TransportConfig, getenv func(string) string) (Selection, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	socket := strings.TrimSpace(getenv(shared.EnvBridgeSocket))
	if socket == "" {
		socket = strings.TrimSpace(cfg.BridgeSocket)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "network":
		return Selection{Kind: TransportNetwork}, nil
	case "bridge":
		if socket == "" {
			return Selection{}, fmt.Errorf("%w: bridge mode requires a bridge socket", shared.ErrInvalidConfig)
		}
		return Selection{Kind: TransportBridge, Socket: socket}, nil
	case "", "auto":
		if socket != "" && socketExists(socket) {
			return Selection{Kind: TransportBridge, Socket: socket}, nil
		}
		return Selection{Kind: TransportNetwork}, nil
	default:
		return Selection{}, fmt.Errorf("%w: unknown transport mode %q", shared.ErrInvalidConfig, cfg.Mode)
	}
}

var socketExists = func(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
