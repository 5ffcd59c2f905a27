package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Dispatch errors, matched by [errors.Is] against a normalized dispatch error
	ErrTransport    = fmt.Errorf("transport failure")
	ErrBridge       = fmt.Errorf("native bridge failure")
	ErrProtocol     = fmt.Errorf("backend rejected request")
	ErrUnauthorized = fmt.Errorf("not authorized")
	ErrUnsupported  = fmt.Errorf("unsupported command")

	// Flow errors
	ErrInvalidState = fmt.Errorf("operation not valid in current state")
	ErrBusy         = fmt.Errorf("operation already in progress")
	ErrTimeout      = fmt.Errorf("operation timed out")

	// Input validation errors
	ErrValidation      = fmt.Errorf("validation failed")
	ErrInvalidFormat   = fmt.Errorf("invalid format")
	ErrNoCredentials   = fmt.Errorf("no valid refresh token found")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// Validationf returns an error wrapping [ErrValidation] with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
