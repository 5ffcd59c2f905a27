package oauth

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/desertthunder/agx/internal/shared"
)

var codeParam = regexp.MustCompile(`code=([^&\s]+)`)

// ExtractCode returns the authorization code from a bare code, a full redirect URL, or a query string.
func ExtractCode(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", shared.Validationf("authorization code is required")
	}

	if !strings.Contains(s, "?") && !strings.Contains(s, "code=") {
		return s, nil
	}

	raw := s
	if !strings.HasPrefix(raw, "http") {
		raw = "http://dummy?" + strings.TrimPrefix(raw, "?")
	}
	if u, err := url.Parse(raw); err == nil {
		if code := u.Query().Get("code"); code != "" {
			return code, nil
		}
	}

	if m := codeParam.FindStringSubmatch(s); m != nil {
		if code, err := url.QueryUnescape(m[1]); err == nil {
			return code, nil
		}
		return m[1], nil
	}
	return s, nil
}

// Classify turns a flow failure into the message shown in the dialog.
//
// Missing refresh token messages already tell the user what to do and are shown verbatim. Messages that
// point at the wrong runtime environment get an explanation. Everything else is prefixed with action.
func Classify(action string, err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, "Refresh Token") || strings.Contains(msg, "refresh_token"):
		return msg
	case environmentMismatch(msg):
		return fmt.Sprintf("%s is not available in this environment (%s). Run agx inside the desktop shell, or use the network transport and paste the authorization code.", action, msg)
	default:
		return fmt.Sprintf("%s failed: %s", action, msg)
	}
}

func environmentMismatch(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "Tauri") ||
		strings.Contains(lower, "environment") ||
		strings.Contains(lower, "native bridge") ||
		strings.Contains(msg, "环境")
}
