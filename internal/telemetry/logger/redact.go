package logger

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

const redactedValue = "***REDACTED***"

// Keys whose values are secrets and are replaced entirely.
var secretKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"credential",
}

// Keys whose values are personal data and are partially masked.
var personalKeys = map[string]struct{}{
	"email": {},
	"phone": {},
}

func redact(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redact(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindString:
		v := a.Value.String()
		if v == "" {
			return a
		}
		key := strings.ToLower(a.Key)
		if IsSecretKey(key) {
			return slog.String(a.Key, redactedValue)
		}
		if _, ok := personalKeys[key]; ok {
			return slog.String(a.Key, Mask(v))
		}
	}
	return a
}

// IsSecretKey reports whether an attribute key names a secret.
func IsSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, p := range secretKeyPatterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

// Mask keeps the first and last character of v and hides the rest. For
// email addresses the domain stays visible.
func Mask(v string) string {
	local, domain, isEmail := strings.Cut(v, "@")
	if !isEmail {
		return maskPart(v)
	}
	return maskPart(local) + "@" + domain
}

func maskPart(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= 2 {
		return strings.Repeat("*", n)
	}
	r := []rune(s)
	return string(r[0]) + strings.Repeat("*", n-2) + string(r[n-1])
}
