package logger

import (
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var sensitive = map[string]struct{}{
	"authorization": {},
	"x-api-key":     {},
	"cookie":        {},
}

func redactHeaderValue(k, v string) string {
	if v == "" {
		return ""
	}
	if _, ok := sensitive[strings.ToLower(k)]; ok {
		return "<redacted>"
	}
	return v
}

// SafeHeaders returns a compact, stable representation of headers suitable
// for logging with sensitive values redacted. Only the first value of each
// header is kept.
func SafeHeaders(h http.Header) string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		parts = append(parts, k+"="+redactHeaderValue(k, v[0]))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// LogRequest logs a concise, safe summary of an incoming request.
func LogRequest(method, path, remote string, h http.Header) {
	Log.Debug("incoming_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("remote", remote),
		zap.String("headers", SafeHeaders(h)),
	)
}

// RedactEnv masks the value of a KEY=VALUE pair whose key looks like a
// credential.
func RedactEnv(kv string) string {
	k, _, ok := strings.Cut(kv, "=")
	if !ok {
		return kv
	}
	lk := strings.ToLower(k)
	for _, s := range []string{"secret", "password", "token", "key"} {
		if strings.Contains(lk, s) {
			return k + "=<redacted>"
		}
	}
	return kv
}
