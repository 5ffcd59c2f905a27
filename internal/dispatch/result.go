package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/agx/internal/shared"
)

// Result is the unwrapped payload of a successful command.
type Result struct {
	raw json.RawMessage
}

// NewResult wraps raw JSON.
func NewResult(raw []byte) Result {
	return Result{raw: json.RawMessage(bytes.TrimSpace(raw))}
}

// Empty is the explicit "no value" result.
func Empty() Result { return Result{} }

// IsEmpty reports whether the command returned no value (empty body or JSON null).
func (r Result) IsEmpty() bool {
	return len(r.raw) == 0 || bytes.Equal(r.raw, []byte("null"))
}

// Raw returns the payload as JSON.
func (r Result) Raw() json.RawMessage { return r.raw }

// Decode unmarshals the payload into v. An empty result leaves v untouched.
func (r Result) Decode(v any) error {
	if r.IsEmpty() {
		return nil
	}
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("%w: failed to decode result: %w", shared.ErrProtocol, err)
	}
	return nil
}

// String returns the payload as a string when it is a JSON string and the raw JSON otherwise.
func (r Result) String() string {
	var s string
	if json.Unmarshal(r.raw, &s) == nil {
		return s
	}
	return string(r.raw)
}
