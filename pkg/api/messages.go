package api

import "time"

type (
	// WorkerTask dispatches a runnable TaskRun to the worker pool
	WorkerTask struct {
		TaskRun   *TaskRun       `json:"taskRun"`
		Task      Task           `json:"-"`
		Variables map[string]any `json:"variables,omitempty"`
	}

	// WorkerTaskResult reports the state of a TaskRun back to the executor
	WorkerTaskResult struct {
		TaskRun *TaskRun `json:"taskRun"`
	}

	// ExecutionKilled requests that an Execution be killed
	ExecutionKilled struct {
		ExecutionID string `json:"executionId"`
	}

	// LogLevel is the severity of a LogEntry
	LogLevel string

	// LogEntry is a log line attached to an Execution or one of its runs
	LogEntry struct {
		Namespace     string    `json:"namespace"`
		FlowID        string    `json:"flowId"`
		ExecutionID   string    `json:"executionId"`
		TaskRunID     string    `json:"taskRunId,omitempty"`
		TaskID        string    `json:"taskId,omitempty"`
		AttemptNumber int       `json:"attemptNumber,omitempty"`
		Level         LogLevel  `json:"level"`
		Message       string    `json:"message"`
		Timestamp     time.Time `json:"timestamp"`
	}
)

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// NewWorkerTaskResult wraps a TaskRun in a WorkerTaskResult
func NewWorkerTaskResult(tr *TaskRun) *WorkerTaskResult {
	return &WorkerTaskResult{TaskRun: tr}
}

// LogEntryOfExecution creates a LogEntry for an Execution-level message
func LogEntryOfExecution(e *Execution, lvl LogLevel, err error) *LogEntry {
	return &LogEntry{
		Namespace:   e.Namespace,
		FlowID:      e.FlowID,
		ExecutionID: e.ID,
		Level:       lvl,
		Message:     errorMessage(err),
		Timestamp:   time.Now(),
	}
}

// LogEntryOfTaskRun creates a LogEntry for a TaskRun-level message
func LogEntryOfTaskRun(tr *TaskRun, lvl LogLevel, err error) *LogEntry {
	return NewTaskRunLogEntry(tr, lvl, errorMessage(err))
}

// NewTaskRunLogEntry creates a LogEntry for a TaskRun with a plain message
func NewTaskRunLogEntry(tr *TaskRun, lvl LogLevel, msg string) *LogEntry {
	return &LogEntry{
		Namespace:     tr.Namespace,
		FlowID:        tr.FlowID,
		ExecutionID:   tr.ExecutionID,
		TaskRunID:     tr.ID,
		TaskID:        tr.TaskID,
		AttemptNumber: tr.AttemptNumber(),
		Level:         lvl,
		Message:       msg,
		Timestamp:     time.Now(),
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
