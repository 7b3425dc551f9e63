package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// PrettyOptions tunes PrettyHandler beyond slog.HandlerOptions.
type PrettyOptions struct {
	slog.HandlerOptions
	// NoColor disables ANSI escapes, for output that is piped or captured.
	NoColor bool
}

// PrettyHandler writes one colored line per record:
//
//	15:04:05.000 WARN  delegate unavailable error="..." path=/usr/lib/x.so
//
// Attributes named "error" are highlighted. Derived handlers share the writer
// lock so concurrent records never interleave.
type PrettyHandler struct {
	opts  PrettyOptions
	w     io.Writer
	mu    *sync.Mutex
	group string
	attrs []slog.Attr
}

// NewPrettyHandler creates a colored handler. opts may be nil.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	po := PrettyOptions{}
	if opts != nil {
		po.HandlerOptions = *opts
	}
	return NewPrettyHandlerWithOptions(w, po)
}

func NewPrettyHandlerWithOptions(w io.Writer, opts PrettyOptions) *PrettyHandler {
	return &PrettyHandler{opts: opts, w: w, mu: &sync.Mutex{}}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	floor := slog.LevelInfo
	if h.opts.Level != nil {
		floor = h.opts.Level.Level()
	}
	return level >= floor
}

func (h *PrettyHandler) color(buf []byte, code string) []byte {
	if h.opts.NoColor {
		return buf
	}
	return append(buf, code...)
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 512)

	if !r.Time.IsZero() {
		buf = h.color(buf, ansiGray)
		buf = r.Time.AppendFormat(buf, "15:04:05.000")
		buf = h.color(buf, ansiReset)
		buf = append(buf, ' ')
	}

	buf = h.color(buf, ansiBold+levelColor(r.Level))
	lvl := r.Level.String()
	buf = append(buf, lvl...)
	buf = h.color(buf, ansiReset)
	buf = append(buf, strings.Repeat(" ", max(0, 6-len(lvl)))...)

	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = h.appendAttr(buf, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a, h.group)
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		if src := r.Source(); src != nil {
			buf = append(buf, ' ')
			buf = h.color(buf, ansiGray)
			buf = append(buf, shortPath(src.File)...)
			buf = append(buf, ':')
			buf = strconv.AppendInt(buf, int64(src.Line), 10)
			buf = h.color(buf, ansiReset)
		}
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	// Attributes added after WithGroup belong to that group.
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	cp.group = name
	// Existing attrs already carry their own prefix.
	cp.attrs = h.attrs
	return &cp
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiBlue
	default:
		return ansiGray
	}
}

func (h *PrettyHandler) appendAttr(buf []byte, a slog.Attr, group string) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		prefix := a.Key
		if group != "" && prefix != "" {
			prefix = group + "." + prefix
		} else if prefix == "" {
			prefix = group
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, ga, prefix)
		}
		return buf
	}

	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	buf = append(buf, ' ')
	isErr := a.Key == "error" || a.Key == "err"
	if isErr {
		buf = h.color(buf, ansiRed)
	} else {
		buf = h.color(buf, ansiCyan)
	}
	buf = append(buf, key...)
	buf = append(buf, '=')
	buf = h.color(buf, ansiReset)

	switch a.Value.Kind() {
	case slog.KindString:
		buf = appendMaybeQuoted(buf, a.Value.String())
	case slog.KindDuration:
		buf = append(buf, a.Value.Duration().String()...)
	case slog.KindTime:
		buf = a.Value.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindBool:
		buf = h.color(buf, ansiGreen)
		buf = strconv.AppendBool(buf, a.Value.Bool())
		buf = h.color(buf, ansiReset)
	default:
		buf = appendMaybeQuoted(buf, fmt.Sprint(a.Value.Any()))
	}
	return buf
}

func appendMaybeQuoted(buf []byte, s string) []byte {
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuoting(s string) bool {
	return strings.ContainsAny(s, " \t\n\r\"=")
}

func shortPath(file string) string {
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			return file[j+1:]
		}
	}
	return file
}
