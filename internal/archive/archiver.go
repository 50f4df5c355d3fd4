package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Archiver writes a Record for every terminated execution snapshot it
	// is handed. Later snapshots of the same execution overwrite earlier
	// ones, so listener task runs end up in the archive too
	Archiver struct {
		archive *BlobArchive
		logs    LogFinder
		timeout time.Duration
	}

	// LogFinder returns the log entries of an execution
	LogFinder interface {
		FindByExecution(
			ctx context.Context, id string,
		) ([]*api.LogEntry, error)
	}
)

const DefaultWriteTimeout = 10 * time.Second

// NewArchiver creates an Archiver. A nil LogFinder archives no logs
func NewArchiver(a *BlobArchive, logs LogFinder) *Archiver {
	return &Archiver{
		archive: a,
		logs:    logs,
		timeout: DefaultWriteTimeout,
	}
}

// Handle archives the execution if it is terminated. It has the shape of a
// queue handler, so a failed write is retried by the queue
func (a *Archiver) Handle(e *api.Execution) error {
	if !e.State.IsTerminated() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	rec := &Record{
		Execution:  e,
		ArchivedAt: time.Now(),
	}
	if a.logs != nil {
		logs, err := a.logs.FindByExecution(ctx, e.ID)
		if err != nil {
			slog.Warn("Failed to read execution logs",
				log.ExecutionID(e.ID),
				log.Error(err))
			return err
		}
		rec.Logs = logs
	}

	if err := a.archive.Put(ctx, rec); err != nil {
		slog.Warn("Failed to archive execution",
			log.ExecutionID(e.ID),
			log.Error(err))
		return err
	}
	slog.Debug("Execution archived",
		log.ExecutionID(e.ID),
		log.State(e.State.Current))
	return nil
}
