package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultUsageHistoryMonths = 6
	maxUsageHistoryMonths     = 24
)

// GetUsageSummary is a pure read; it never materializes a usage period.
func (s *Server) GetUsageSummary(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	summary, err := s.usageSvc.Summary(c.Request.Context(), principal.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) ListUsageHistory(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	months, err := parseLimit(c.Query("months"), defaultUsageHistoryMonths, maxUsageHistoryMonths)
	if err != nil {
		AbortWithError(c, newValidationError("months", "invalid_months", "invalid months"))
		return
	}

	periods, err := s.usageSvc.History(c.Request.Context(), principal.OrgID, months)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": periods})
}

func (s *Server) ReconcileUsage(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.usageSvc.Reconcile(c.Request.Context(), principal.OrgID, strings.TrimSpace(c.Query("month")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
