package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/kode4food/cascade/internal/queue"
	"github.com/kode4food/cascade/internal/repository"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/util"
)

type (
	// Server implements the monitoring HTTP API of a cascade process
	Server struct {
		deps    Dependencies
		sockets util.Set[*Client]
		mu      sync.Mutex
	}

	// Dependencies are the components the Server reads from
	Dependencies struct {
		Queues     *queue.Queues
		Executor   Executor
		Flows      *repository.Flows
		Executions repository.ExecutionStore
		Logs       repository.LogStore
		History    HistoryFinder
	}

	// HistoryFinder returns every recorded snapshot of an execution
	HistoryFinder interface {
		Versions(ctx context.Context, id string) ([]*api.Execution, error)
	}

	// Executor is the part of the executor the Server drives
	Executor interface {
		Kill(ctx context.Context, id string) error
		Active() int
	}
)

// NewServer creates a new monitoring HTTP server
func NewServer(deps Dependencies) *Server {
	return &Server{
		deps:    deps,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods",
			"GET, POST, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)

	router.GET("/flows", s.listFlows)
	router.GET("/flows/:namespace/:flowID", s.getFlow)

	ex := router.Group("/executions")
	{
		ex.GET("", s.listExecutions)
		ex.GET("/:id", s.getExecution)
		ex.GET("/:id/logs", s.getExecutionLogs)
		ex.GET("/:id/history", s.getExecutionHistory)
		ex.POST("/:id/kill", s.killExecution)
	}

	router.GET("/ws", s.handleWebSocket)

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func errorResponse(c *gin.Context, status int, msg string) {
	c.JSON(status, api.ErrorResponse{
		Error:  msg,
		Status: status,
	})
}
