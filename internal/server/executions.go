package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/cascade/internal/repository"
	"github.com/kode4food/cascade/pkg/api"
)

var (
	ErrKillExecution   = errors.New("failed to kill execution")
	ErrAlreadyFinished = errors.New("execution already terminated")
	ErrNoHistory       = errors.New("execution history not recorded")
)

func (s *Server) listExecutions(c *gin.Context) {
	ns := c.Query("namespace")
	flowID := c.Query("flowId")

	ctx := c.Request.Context()
	var res []*api.Execution
	var err error
	if ns != "" || flowID != "" {
		res, err = s.deps.Executions.FindByFlow(ctx, ns, flowID)
	} else {
		res, err = s.deps.Executions.FindAll(ctx)
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, api.ExecutionsListResponse{
		Executions: res,
		Count:      len(res),
	})
}

func (s *Server) getExecution(c *gin.Context) {
	e, ok := s.findExecution(c)
	if ok {
		c.JSON(http.StatusOK, e)
	}
}

func (s *Server) getExecutionLogs(c *gin.Context) {
	e, ok := s.findExecution(c)
	if !ok {
		return
	}

	logs, err := s.deps.Logs.FindByExecution(c.Request.Context(), e.ID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []*api.LogEntry{}
	}
	c.JSON(http.StatusOK, api.LogsResponse{
		ExecutionID: e.ID,
		Logs:        logs,
	})
}

func (s *Server) getExecutionHistory(c *gin.Context) {
	if s.deps.History == nil {
		errorResponse(c, http.StatusNotImplemented, ErrNoHistory.Error())
		return
	}

	id := c.Param("id")
	versions, err := s.deps.History.Versions(c.Request.Context(), id)
	if err != nil {
		s.findError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ExecutionHistoryResponse{
		ExecutionID: id,
		Versions:    versions,
		Count:       len(versions),
	})
}

func (s *Server) killExecution(c *gin.Context) {
	e, ok := s.findExecution(c)
	if !ok {
		return
	}

	if e.State.IsTerminated() {
		errorResponse(c, http.StatusConflict,
			fmt.Sprintf("%s: %s", ErrAlreadyFinished, e.ID),
		)
		return
	}

	if err := s.deps.Executor.Kill(c.Request.Context(), e.ID); err != nil {
		errorResponse(c, http.StatusInternalServerError,
			fmt.Sprintf("%s: %v", ErrKillExecution, err),
		)
		return
	}

	c.JSON(http.StatusAccepted, api.KillResponse{
		ExecutionID: e.ID,
		Message:     "Kill requested",
	})
}

func (s *Server) findExecution(c *gin.Context) (*api.Execution, bool) {
	id := c.Param("id")
	e, err := s.deps.Executions.FindByID(c.Request.Context(), id)
	if err == nil {
		return e, true
	}
	s.findError(c, err)
	return nil, false
}

func (s *Server) findError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrExecutionNotFound) {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	errorResponse(c, http.StatusInternalServerError, err.Error())
}
