package log

import "log/slog"

func ExecutionID[T ~string](id T) slog.Attr {
	return slog.String("execution_id", string(id))
}

func TaskRunID[T ~string](id T) slog.Attr {
	return slog.String("task_run_id", string(id))
}

func TaskID[T ~string](id T) slog.Attr {
	return slog.String("task_id", string(id))
}

func FlowID[T ~string](id T) slog.Attr {
	return slog.String("flow_id", string(id))
}

func Namespace[T ~string](ns T) slog.Attr {
	return slog.String("namespace", string(ns))
}

func State[T ~string](state T) slog.Attr {
	return slog.String("state", string(state))
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}

func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}
