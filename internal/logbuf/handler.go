package logbuf

import (
	"context"
	"log/slog"
)

// Handler is an slog.Handler that captures every record into a Buffer and
// delegates to an inner handler.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	attrs  []slog.Attr
	groups []string
}

// NewHandler creates a handler that writes to both buf and inner.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

// Enabled always reports true: the buffer captures all levels and the inner
// handler applies its own filter in Handle.
func (h *Handler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[h.key(a.Key)] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = attrValue(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.buf.Write(Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) key(k string) string {
	for _, g := range h.groups {
		k = g + "." + k
	}
	return k
}

// attrValue converts slog values to JSON-safe types. Errors become strings
// so they don't marshal to {}.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner:  h.inner.WithAttrs(attrs),
		buf:    h.buf,
		attrs:  append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		groups: h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		inner:  h.inner.WithGroup(name),
		buf:    h.buf,
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}
