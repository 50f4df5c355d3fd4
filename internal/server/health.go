package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/cascade"
	"github.com/kode4food/cascade/pkg/api"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:     api.HealthStatusHealthy,
		Service:    cascade.Name,
		Version:    cascade.Version,
		Executions: s.deps.Executor.Active(),
	})
}
