package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kode4food/cascade/internal/parser"
	"github.com/kode4food/cascade/internal/repository"
	"github.com/kode4food/cascade/internal/server"
	"github.com/kode4food/cascade/internal/standalone"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

func (a *app) newServerCmd() *cobra.Command {
	var flowsPath string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the executor, the worker and the monitoring server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flowsPath != "" {
				a.cfg.FlowsPath = flowsPath
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&flowsPath, "flows", "",
		"directory of flow definitions",
	)
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	var flows []*api.Flow
	if a.cfg.FlowsPath != "" {
		var err error
		if flows, err = parser.ParseDir(a.cfg.FlowsPath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := standalone.New(ctx, a.cfg, flows...)
	if err != nil {
		return err
	}
	r.Start(ctx)

	slog.Info("Cascade starting",
		slog.Int("flows", len(flows)),
		slog.String("condition_store", a.cfg.ConditionStore),
		slog.String("index_store", a.cfg.IndexStore),
		slog.String("archive_url", a.cfg.ArchiveURL),
		slog.Int("worker_threads", a.cfg.WorkerThreads),
		slog.String("log_level", a.cfg.LogLevel))

	apiServer := server.NewServer(server.Dependencies{
		Queues:     r.Queues,
		Executor:   r.Executor,
		Flows:      r.Flows,
		Executions: r.Executions,
		Logs:       r.Logs,
		History:    historyFinder(r.History),
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.APIHost, a.cfg.APIPort),
		Handler: apiServer.SetupRoutes(),
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", httpServer.Addr))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
		slog.Error("HTTP server error", log.Error(err))
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), a.cfg.ShutdownTimeout,
	)
	defer cancel()

	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		slog.Error("Shutdown failed", log.Error(serr))
	}
	apiServer.CloseWebSockets()
	r.Stop()

	slog.Info("Server exited")
	return err
}

func historyFinder(h *repository.History) server.HistoryFinder {
	if h == nil {
		return nil
	}
	return h
}
