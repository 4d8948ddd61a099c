package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	rundomain "github.com/smallbiznis/agentmarket/internal/run/domain"
)

const defaultRunListLimit = 20

type runRequest struct {
	AgentID string `json:"agentId"`
	Input   string `json:"input"`
}

type runResponse struct {
	Output string `json:"output"`
	RunID  string `json:"runId"`
}

func (s *Server) RunAgent(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set(contextAgentIDKey, strings.TrimSpace(req.AgentID))

	result, err := s.runSvc.Run(c.Request.Context(), rundomain.Request{
		OrgID:   principal.OrgID,
		UserID:  principal.UserID,
		AgentID: req.AgentID,
		Input:   req.Input,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, runResponse{
		Output: result.Output,
		RunID:  result.RunID,
	})
}

func (s *Server) ListRuns(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, err := parseLimit(c.Query("limit"), defaultRunListLimit, 100)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	runs, err := s.runSvc.ListRecent(c.Request.Context(), principal.OrgID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}
