package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/cascade/pkg/api"
)

var ErrGetFlow = errors.New("failed to get flow")

func (s *Server) listFlows(c *gin.Context) {
	flows := s.deps.Flows.FindAll()
	res := make([]*api.FlowSummary, 0, len(flows))
	for _, f := range flows {
		res = append(res, api.SummarizeFlow(f))
	}

	c.JSON(http.StatusOK, api.FlowsListResponse{
		Flows: res,
		Count: len(res),
	})
}

func (s *Server) getFlow(c *gin.Context) {
	ns := c.Param("namespace")
	id := c.Param("flowID")

	f, err := s.deps.Flows.FindByID(ns, id, nil)
	if err == nil {
		c.JSON(http.StatusOK, api.SummarizeFlow(f))
		return
	}

	if errors.Is(err, api.ErrFlowNotFound) {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	errorResponse(c, http.StatusInternalServerError,
		fmt.Sprintf("%s: %v", ErrGetFlow, err),
	)
}
