package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/agentmarket/internal/observability/context"
	"github.com/smallbiznis/agentmarket/internal/observability/logger"
	"github.com/smallbiznis/agentmarket/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	contextOrgIDKey    = "org_id"
	contextUserIDKey   = "user_id"
	contextAPIKeyIDKey = "api_key_id"
	contextAgentIDKey  = "agent_id"
)

// APIKeyRequired resolves the bearer API key to a principal and its organization.
// The organization is never taken from the request itself.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		principal, err := s.apiKeySvc.Authenticate(ctx, raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if principal == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx = orgcontext.WithPrincipal(ctx, *principal)
		ctx = obscontext.WithActor(ctx, obscontext.ActorAPIKey, principal.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextOrgIDKey, principal.OrgID)
		c.Set(contextUserIDKey, principal.UserID)
		c.Set(contextAPIKeyIDKey, principal.KeyID)
		c.Next()
	}
}

// authorize checks the caller's membership role against object and action.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := orgcontext.PrincipalFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal.Role, object, action); err != nil {
			logger.FromContext(c.Request.Context()).Info("request denied by role",
				zap.String("role", principal.Role),
				zap.String("object", object),
				zap.String("action", action),
			)
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) (orgcontext.Principal, bool) {
	return orgcontext.PrincipalFromContext(c.Request.Context())
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
