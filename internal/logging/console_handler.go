package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one human-oriented line per record:
//
//	2026-01-02T05:00:01Z INFO  pipeline: [run 3f2a9c1e topic 12 drafting] draft ready words=1840
//
// component, run_id, topic_id and stage move into the prefix; every other
// attribute trails as key=value, last value winning for repeated keys.
type consoleHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	source bool
	attrs  []field
	prefix string
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) slog.Handler {
	return &consoleHandler{mu: new(sync.Mutex), out: w, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]field(nil), h.attrs...), h.flatten(nil, attrs)...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]field(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = h.flatten(fields, []slog.Attr{a})
		return true
	})

	var subject subject
	var trailing []field
	for _, f := range fields {
		if !subject.take(f) {
			trailing = upsert(trailing, f)
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s ", ts.UTC().Format(time.RFC3339), levelLabel(r.Level))
	if subject.component != "" {
		b.WriteString(subject.component + ": ")
	}
	if tag := subject.tag(); tag != "" {
		b.WriteString(tag + " ")
	}
	if msg := strings.TrimSpace(r.Message); msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString("(no message)")
	}
	if h.source && r.PC != 0 {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range trailing {
		b.WriteString(" " + f.key + "=" + render(f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// flatten appends attrs to dst, expanding groups into dotted keys.
func (h *consoleHandler) flatten(dst []field, attrs []slog.Attr) []field {
	return flattenInto(dst, h.prefix, attrs)
}

func flattenInto(dst []field, prefix string, attrs []slog.Attr) []field {
	for _, a := range attrs {
		if a.Equal(slog.Attr{}) {
			continue
		}
		v := a.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			inner := prefix
			if a.Key != "" {
				inner += a.Key + "."
			}
			dst = flattenInto(dst, inner, v.Group())
			continue
		}
		if a.Key == "" {
			continue
		}
		dst = append(dst, field{key: prefix + a.Key, value: v})
	}
	return dst
}

func upsert(fields []field, f field) []field {
	for i := range fields {
		if fields[i].key == f.key {
			fields[i] = f
			return fields
		}
	}
	return append(fields, f)
}

type subject struct {
	component, run, topic, stage string
}

func (s *subject) take(f field) bool {
	switch f.key {
	case FieldComponent:
		s.component = plain(f.value)
	case FieldRunID:
		s.run = plain(f.value)
	case FieldTopicID:
		s.topic = plain(f.value)
	case FieldStage:
		s.stage = plain(f.value)
	default:
		return false
	}
	return true
}

func (s subject) tag() string {
	var parts []string
	if s.run != "" {
		run := s.run
		if len(run) > 8 {
			run = run[:8]
		}
		parts = append(parts, "run "+run)
	}
	if s.topic != "" {
		parts = append(parts, "topic "+s.topic)
	}
	if s.stage != "" {
		parts = append(parts, s.stage)
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// plain formats v without quoting.
func plain(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// render formats v for the key=value tail, quoting strings that would
// otherwise be ambiguous.
func render(v slog.Value) string {
	s := plain(v)
	if v.Kind() != slog.KindString && v.Kind() != slog.KindAny {
		return s
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
