package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	"go.uber.org/zap"
)

type checkoutRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) StartCheckout(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	org, err := s.organizationSvc.Get(ctx, principal.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentSvc.StartCheckout(ctx, paymentdomain.CheckoutRequest{
		OrgID:   principal.OrgID,
		OrgName: org.Name,
		Email:   principal.Email,
		Plan:    req.Plan,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) BillingPortal(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	url, err := s.paymentSvc.PortalURL(c.Request.Context(), principal.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// HandlePaymentWebhook acknowledges replays and unrecognized event kinds with
// 200 so the provider stops retrying them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
			c.JSON(http.StatusOK, gin.H{"received": true, "status": "duplicate"})
			return
		case errors.Is(err, paymentdomain.ErrEventIgnored):
			c.JSON(http.StatusOK, gin.H{"received": true, "status": "ignored"})
			return
		}
		logger.FromContext(c.Request.Context()).Warn("payment webhook rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "status": "ok"})
}
