package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// envelopeStatus returns the envelope status field, or "" when the body is not an envelope.
func envelopeStatus(body []byte) string {
	status, err := jsonparser.GetString(body, "status")
	if err != nil {
		return ""
	}
	return status
}

// envelopeMessage returns the message field of an error envelope.
func envelopeMessage(body []byte) (string, bool) {
	msg, err := jsonparser.GetString(body, "message")
	if err != nil || msg == "" {
		return "", false
	}
	return msg, true
}

// envelopeData returns the raw data field and whether it is present.
//
// jsonparser strips quotes from string values, so strings are re-quoted to keep the result valid JSON.
func envelopeData(body []byte) (json.RawMessage, bool) {
	value, dataType, _, err := jsonparser.Get(body, "data")
	if err != nil || dataType == jsonparser.NotExist {
		return nil, false
	}
	if dataType == jsonparser.String {
		quoted := make([]byte, 0, len(value)+2)
		quoted = append(quoted, '"')
		quoted = append(quoted, value...)
		quoted = append(quoted, '"')
		return quoted, true
	}
	return value, true
}

// failureMessage picks the user facing message for a non-2xx response.
func failureMessage(body []byte, status string) string {
	if msg, ok := envelopeMessage(body); ok {
		return msg
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return status
}
