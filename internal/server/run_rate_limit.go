package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	"github.com/smallbiznis/agentmarket/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonOrgRate          = "org-rate"
	rateLimitReasonAgentConcurrency = "agent-concurrency"
)

type runRateLimitKey struct {
	AgentID string `json:"agentId"`
}

// RunRateLimit guards run requests with a per-org token bucket and a per-agent
// lock held for the duration of the handler. Limiter failures close the gate.
func (s *Server) RunRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.runLimiter.Enabled() {
			c.Next()
			return
		}

		principal, ok := principalFrom(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		orgID := principal.OrgID
		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		result, err := s.runLimiter.AllowOrg(ctx, orgID)
		if err != nil {
			logger.FromContext(ctx).Warn("run org rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyRunRateLimit(c, endpoint, orgID, rateLimitReasonOrgRate, result, s.obsMetrics)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		agentID, err := readRunAgentID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("run rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		var lockToken string
		if agentID != "" {
			lockToken, ok, err = s.runLimiter.TryLockAgent(ctx, orgID, agentID)
			if err != nil {
				logger.FromContext(ctx).Warn("run concurrency lock failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !ok {
				denyRunRateLimit(c, endpoint, orgID, rateLimitReasonAgentConcurrency, nil, s.obsMetrics)
				return
			}
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, orgID, endpoint)
		c.Next()

		if lockToken != "" {
			releaseCtx := context.WithoutCancel(ctx)
			if err := s.runLimiter.ReleaseAgent(releaseCtx, orgID, agentID, lockToken); err != nil {
				logger.FromContext(ctx).Warn("run concurrency lock release failed", zap.Error(err))
			}
		}
	}
}

func denyRunRateLimit(c *gin.Context, endpoint, orgID, reason string, result *ratelimit.Result, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("run rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	metrics.RecordRateLimitDenied(ctx, orgID, endpoint, reason)

	retryAfter := 1
	if result != nil && result.RetryAfter > 0 {
		retryAfter = int(math.Ceil(result.RetryAfter.Seconds()))
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

// readRunAgentID peeks at the run body and restores it for the handler.
func readRunAgentID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload runRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.AgentID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
