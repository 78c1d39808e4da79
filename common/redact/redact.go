// Package redact strips credentials from strings and structured values before
// they reach the logs.
//
// The OpenAI API key is the only secret this service handles, but the engine's
// error messages and the effective LLM profile configuration can both echo it,
// so every log call-site that prints either goes through this package first.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
//	safe := redact.String(err.Error(), apiKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Error is String applied to err.Error(). A nil error yields "".
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}

// Map returns a copy of m with string values replaced by [REDACTED] for every
// key whose name suggests a secret. Nested maps are redacted recursively.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = Map(tv)
			continue
		case string:
			if tv != "" && isSensitiveKey(k) {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
