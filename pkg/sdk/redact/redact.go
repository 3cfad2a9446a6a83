// Package redact scrubs sensitive substrings from captured payloads.
package redact

import (
	"encoding/json"
	"regexp"
)

const (
	// Placeholder replaces every pattern match
	Placeholder = "[REDACTED]"
	// Unparseable replaces a payload a replacement left invalid
	Unparseable = "[SANITIZED]"
)

// DefaultPatterns cover common credentials and personal data
var DefaultPatterns = []string{
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`, // email
	`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`,             // bearer token
	`\bsk-[A-Za-z0-9_-]{16,}`,                        // API secret key
	`\b\d(?:[ -]?\d){12,15}\b`,                       // card number
}

// Redactor applies a fixed set of patterns. The zero value and a nil
// *Redactor pass payloads through unchanged.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New creates a Redactor from compiled patterns
func New(patterns []*regexp.Regexp) *Redactor {
	return &Redactor{patterns: patterns}
}

// Compile builds a Redactor from pattern sources
func Compile(sources ...string) (*Redactor, error) {
	patterns := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return New(patterns), nil
}

// Apply serializes v to JSON, replaces every match with Placeholder and
// decodes the result. The returned value has JSON shape (maps, slices,
// strings, float64). When the replacement breaks the JSON, Unparseable
// is returned instead.
func (r *Redactor) Apply(v any) any {
	if r == nil || len(r.patterns) == 0 {
		return v
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return Unparseable
	}

	var out any
	if err := json.Unmarshal(r.ApplyJSON(raw), &out); err != nil {
		return Unparseable
	}
	return out
}

// ApplyJSON redacts an encoded payload. The result is always valid
// JSON: when a replacement breaks the document, Unparseable is returned
// as a JSON string.
func (r *Redactor) ApplyJSON(raw json.RawMessage) json.RawMessage {
	if r == nil || len(r.patterns) == 0 {
		return raw
	}

	out := []byte(raw)
	for _, re := range r.patterns {
		out = re.ReplaceAll(out, []byte(Placeholder))
	}
	if !json.Valid(out) {
		return json.RawMessage(`"` + Unparseable + `"`)
	}
	return out
}
