package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder written in place of sensitive values.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are field names that must never carry their real value into
// a log line, regardless of which component emits them.
var sensitiveKeys = map[string]struct{}{
	"password":   {},
	"authdata":   {},
	"auth_data":  {},
	"privatekey": {},
	"mnemonic":   {},
	"seed":       {},
	"signature":  {},
	"token":      {},
}

// IsSensitive reports whether a log key names wallet secret material.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Field returns a slog.Attr whose value is masked when the key is sensitive
// and passed through otherwise.
func Field(key, value string) slog.Attr {
	if value != "" && IsSensitive(key) {
		return slog.String(key, RedactedValue)
	}
	return slog.String(key, value)
}

// Secret always masks. Use it when the key name alone does not make the
// sensitivity obvious.
func Secret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
