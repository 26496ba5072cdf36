package security

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Attribute keys with tool-gateway meaning.
const (
	// AttrArgs holds raw tool arguments; rendered through RedactArgs.
	AttrArgs = "args"

	// AttrSession holds a session key, which doubles as the client's
	// cookie credential. Logs keep a short prefix.
	AttrSession = "session"
)

// sessionPrefixLen is how much of a session key survives in logs.
const sessionPrefixLen = 8

// RedactingHandler wraps a slog.Handler so that no credential, file body or
// full session key reaches the log output, whatever package logged it.
type RedactingHandler struct {
	inner    slog.Handler
	redactor *Redactor
}

var _ slog.Handler = (*RedactingHandler)(nil)

// NewRedactingHandler wraps inner with redactor.
func NewRedactingHandler(inner slog.Handler, redactor *Redactor) *RedactingHandler {
	return &RedactingHandler{inner: inner, redactor: redactor}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactor.Redact(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

// WithAttrs redacts attrs once and folds them into the inner handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted), redactor: h.redactor}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch {
	case a.Key == AttrArgs:
		if raw, ok := rawArgs(a.Value); ok {
			a.Value = slog.StringValue(h.redactor.RedactArgs(raw))
			return a
		}
	case a.Key == AttrSession && a.Value.Kind() == slog.KindString:
		a.Value = slog.StringValue(MaskSessionKey(a.Value.String()))
		return a
	case isBodyField(a.Key) && a.Value.Kind() != slog.KindGroup:
		a.Value = slog.StringValue(BodySize(len(a.Value.String())))
		return a
	}

	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(h.redactor.Redact(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = h.redactAttr(ga)
		}
		a.Value = slog.GroupValue(redacted...)
	case slog.KindAny:
		// Errors and other values are redacted through their text form.
		s := a.Value.String()
		if r := h.redactor.Redact(s); r != s {
			a.Value = slog.StringValue(r)
		}
	}
	return a
}

// rawArgs extracts tool arguments logged as json.RawMessage, []byte or
// string.
func rawArgs(v slog.Value) (json.RawMessage, bool) {
	switch v.Kind() {
	case slog.KindString:
		return json.RawMessage(v.String()), true
	case slog.KindAny:
		switch x := v.Any().(type) {
		case json.RawMessage:
			return x, true
		case []byte:
			return x, true
		}
	}
	return nil, false
}

// MaskSessionKey keeps the first few characters of key so log lines can
// still be correlated.
func MaskSessionKey(key string) string {
	if len(key) <= sessionPrefixLen {
		return key
	}
	return key[:sessionPrefixLen] + "***"
}
