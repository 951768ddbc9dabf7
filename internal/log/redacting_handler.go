package log

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// Exact keys, plus any key ending in one of sensitiveSuffixes, never reach
// a sink. Matching ignores case and descends into groups.
var (
	sensitiveKeys = map[string]bool{
		"secret":        true,
		"token":         true,
		"password":      true,
		"passphrase":    true,
		"value":         true,
		"authorization": true,
	}
	sensitiveSuffixes = []string{"_key", "_token", "_passphrase"}
)

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	if sensitiveKeys[key] {
		return true
	}
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// RedactingHandler scrubs API keys and backup passphrases from records
// before the wrapped handler sees them.
type RedactingHandler struct {
	inner slog.Handler
}

func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(scrub(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = scrub(attr)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func scrub(attr slog.Attr) slog.Attr {
	if isSensitive(attr.Key) {
		return slog.String(attr.Key, redacted)
	}
	// LogValuers may expand into groups holding secrets.
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return slog.Attr{Key: attr.Key, Value: value}
	}
	group := value.Group()
	clean := make([]slog.Attr, len(group))
	for i, nested := range group {
		clean[i] = scrub(nested)
	}
	return slog.Attr{Key: attr.Key, Value: slog.GroupValue(clean...)}
}
