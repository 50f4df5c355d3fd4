package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kode4food/cascade/internal/queue"
	"github.com/kode4food/cascade/pkg/api"
)

// logHandler turns the records a task logs into LogEntries of its task run
type logHandler struct {
	logs    *queue.Queue[*api.LogEntry]
	taskRun *api.TaskRun
	level   slog.Level
	attrs   []slog.Attr
	group   string
}

var _ slog.Handler = (*logHandler)(nil)

func newTaskLogger(
	logs *queue.Queue[*api.LogEntry], tr *api.TaskRun, lvl slog.Level,
) *slog.Logger {
	return slog.New(&logHandler{
		logs:    logs,
		taskRun: tr,
		level:   lvl,
	})
}

func (h *logHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level
}

func (h *logHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)
	write := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&sb, " %s=%v", key, a.Value.Any())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})

	entry := api.NewTaskRunLogEntry(h.taskRun, levelOf(r.Level), sb.String())
	if !r.Time.IsZero() {
		entry.Timestamp = r.Time
	}
	h.logs.Emit(entry)
	return nil
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	res := *h
	res.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &res
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	res := *h
	if res.group != "" {
		name = res.group + "." + name
	}
	res.group = name
	return &res
}

func levelOf(lvl slog.Level) api.LogLevel {
	switch {
	case lvl >= slog.LevelError:
		return api.LevelError
	case lvl >= slog.LevelWarn:
		return api.LevelWarn
	case lvl >= slog.LevelInfo:
		return api.LevelInfo
	default:
		return api.LevelDebug
	}
}
