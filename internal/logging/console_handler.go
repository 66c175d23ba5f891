package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConsoleHandler writes one line per record:
//
//	2026-03-01T12:00:00Z vpcctl[4242]: [info] netns: bridge created bridge=br-demo
//
// A component attribute moves into the line header.
type ConsoleHandler struct {
	out       io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	component string
	group     string // key prefix from WithGroup
	preset    string // rendered WithAttrs fields, each with a leading space
}

// Process is the name printed before the pid.
var Process = "vpcctl"

// NewConsoleHandler returns a handler writing to out. Only Level is taken
// from opts.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{out: out, mu: new(sync.Mutex), level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	component := h.component
	var fields strings.Builder
	fields.WriteString(h.preset)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && h.group == "" {
			component = a.Value.String()
		} else {
			writeAttr(&fields, h.group, a)
		}
		return true
	})

	var b strings.Builder
	b.WriteString(t.Format(time.RFC3339))
	b.WriteString(" " + Process + "[" + strconv.Itoa(os.Getpid()) + "]: [")
	b.WriteString(levelLabel(r.Level))
	b.WriteString("] ")
	if component != "" {
		b.WriteString(strings.ToLower(component) + ": ")
	}
	b.WriteString(r.Message)
	b.WriteString(fields.String())
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	var b strings.Builder
	b.WriteString(h.preset)
	for _, a := range attrs {
		if a.Key == "component" && h.group == "" {
			c.component = a.Value.String()
			continue
		}
		writeAttr(&b, h.group, a)
	}
	c.preset = b.String()
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = h.group + name + "."
	return &c
}

func levelLabel(l slog.Level) string {
	if l == LevelAudit {
		return "audit"
	}
	return strings.ToLower(l.String())
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	if a.Equal(slog.Attr{}) {
		return
	}
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	b.WriteString(" " + prefix + a.Key + "=" + v)
}
