package service

import (
	"strings"

	"github.com/letter-verify-server/internal/domain"
)

// TelemetryScrubber redacts sensitive material from arbitrary error and
// telemetry payloads before they leave the trusted boundary. It is applied
// to whatever shape the logging layer hands it: strings, nested maps,
// slices, or anything else.
type TelemetryScrubber struct {
	obfuscator   *PHIObfuscator
	keyFragments []string
}

const redactedValue = "[REDACTED]"

// defaultSensitiveKeyFragments are matched case-insensitively against key
// names at any nesting depth. A hit redacts the full value, not a part.
var defaultSensitiveKeyFragments = []string{
	"name", "dob", "birth", "medicare", "gender", "address",
	"phone", "email", "patient", "password", "token", "secret", "apikey",
}

// NewTelemetryScrubber creates a scrubber; extraFragments extend the
// built-in sensitive-key list.
func NewTelemetryScrubber(obfuscator *PHIObfuscator, extraFragments ...string) *TelemetryScrubber {
	fragments := make([]string, 0, len(defaultSensitiveKeyFragments)+len(extraFragments))
	fragments = append(fragments, defaultSensitiveKeyFragments...)
	for _, f := range extraFragments {
		fragments = append(fragments, strings.ToLower(f))
	}
	return &TelemetryScrubber{obfuscator: obfuscator, keyFragments: fragments}
}

// isSensitiveKey reports whether a key name contains any sensitive fragment
func (s *TelemetryScrubber) isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range s.keyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// ScrubPayload walks an arbitrary payload and returns a copy with every
// value under a sensitive key fully redacted. Unknown types pass through
// untouched; the input is never mutated.
func (s *TelemetryScrubber) ScrubPayload(payload interface{}) interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if s.isSensitiveKey(key) {
				out[key] = redactedValue
			} else {
				out[key] = s.ScrubPayload(value)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, value := range v {
			if s.isSensitiveKey(key) {
				out[key] = redactedValue
			} else {
				out[key] = value
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.ScrubPayload(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return payload
	}
}

// ScrubText obfuscates known PHI values in a free-form string, for error
// messages that embed patient details directly rather than under keys.
func (s *TelemetryScrubber) ScrubText(text string, phi domain.PHI, sessionID string) string {
	if s.obfuscator == nil {
		return text
	}
	return s.obfuscator.Obfuscate(text, phi, sessionID).ObfuscatedText
}
