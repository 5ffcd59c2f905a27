package tasks

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/desertthunder/agx/internal/shared"
	"gopkg.in/yaml.v3"
)

// TokenPrefix starts every refresh token the backend accepts.
const TokenPrefix = "1//"

var (
	tokenPattern = regexp.MustCompile(`1//[a-zA-Z0-9_\-]+`)
	tokenShape   = regexp.MustCompile(`^1//[a-zA-Z0-9_\-]+$`)
)

// Candidate is one credential to submit.
type Candidate struct {
	Email        string `json:"email,omitempty" yaml:"email,omitempty"`
	RefreshToken string `json:"refresh_token" yaml:"refresh_token"`
}

// Masked returns the token shortened for display.
func (c Candidate) Masked() string {
	return shared.Truncate(c.RefreshToken, 16)
}

// Format is a structured import file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unsupported import file %q (want .json, .yaml or .yml)", shared.ErrInvalidFormat, filepath.Base(path))
	}
}

// ExtractTokens collects candidate tokens from pasted text.
//
// A trimmed input shaped like a JSON array is decoded first; elements may be token strings or objects with a
// refresh_token field starting with [TokenPrefix]. When that yields nothing the raw text is scanned for
// token-shaped substrings. The result is deduplicated in first-occurrence order.
func ExtractTokens(raw string) []Candidate {
	var found []Candidate

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var items []any
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
			for _, item := range items {
				if c, ok := candidateFrom(item); ok && strings.HasPrefix(c.RefreshToken, TokenPrefix) {
					found = append(found, c)
				}
			}
		}
	}

	if len(found) == 0 {
		for _, tok := range tokenPattern.FindAllString(raw, -1) {
			found = append(found, Candidate{RefreshToken: tok})
		}
	}
	return dedupe(found)
}

// ParseList decodes a structured account list. Non-array content is rejected with [shared.ErrInvalidFormat];
// elements whose token does not match the token shape are skipped.
func ParseList(data []byte, format Format) ([]Candidate, error) {
	var items []any

	switch format {
	case FormatJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidFormat, err)
		}
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected a JSON array of accounts", shared.ErrInvalidFormat)
		}
		items = arr
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidFormat, err)
		}
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected a YAML sequence of accounts", shared.ErrInvalidFormat)
		}
		items = arr
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFormat, format)
	}

	var found []Candidate
	for _, item := range items {
		if c, ok := candidateFrom(item); ok && tokenShape.MatchString(c.RefreshToken) {
			found = append(found, c)
		}
	}
	return dedupe(found), nil
}

func candidateFrom(item any) (Candidate, bool) {
	switch v := item.(type) {
	case string:
		return Candidate{RefreshToken: v}, true
	case map[string]any:
		tok, ok := v["refresh_token"].(string)
		if !ok {
			return Candidate{}, false
		}
		email, _ := v["email"].(string)
		return Candidate{Email: email, RefreshToken: tok}, true
	default:
		return Candidate{}, false
	}
}

func dedupe(in []Candidate) []Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if seen[c.RefreshToken] {
			continue
		}
		seen[c.RefreshToken] = true
		out = append(out, c)
	}
	return out
}
