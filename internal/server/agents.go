package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
)

const defaultAgentListLimit = 50

func (s *Server) ListAgents(c *gin.Context) {
	featured, err := parseOptionalBool(c.Query("featured"))
	if err != nil {
		AbortWithError(c, newValidationError("featured", "invalid_featured", "invalid featured"))
		return
	}
	limit, err := parseLimit(c.Query("limit"), defaultAgentListLimit, 100)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	agents, err := s.agentSvc.ListPublished(c.Request.Context(), agentdomain.ListRequest{
		Category: strings.TrimSpace(c.Query("category")),
		Query:    strings.TrimSpace(c.Query("q")),
		Featured: featured,
		Limit:    limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agents})
}

func (s *Server) ListOwnedAgents(c *gin.Context) {
	agents, err := s.agentSvc.ListOwned(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agents})
}

func (s *Server) CreateAgent(c *gin.Context) {
	var req agentdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	agent, err := s.agentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, agent)
}

func (s *Server) UpdateAgent(c *gin.Context) {
	var req agentdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	agent, err := s.agentSvc.Update(c.Request.Context(), strings.TrimSpace(c.Param("id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, agent)
}

func (s *Server) PublishAgent(c *gin.Context) {
	s.setAgentPublished(c, true)
}

func (s *Server) UnpublishAgent(c *gin.Context) {
	s.setAgentPublished(c, false)
}

func (s *Server) setAgentPublished(c *gin.Context, published bool) {
	if err := s.agentSvc.SetPublished(c.Request.Context(), strings.TrimSpace(c.Param("id")), published); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "isPublished": published})
}

func (s *Server) DeleteAgent(c *gin.Context) {
	if err := s.agentSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
