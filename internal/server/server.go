package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/agentmarket/internal/agent"
	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	"github.com/smallbiznis/agentmarket/internal/apikey"
	apikeydomain "github.com/smallbiznis/agentmarket/internal/apikey/domain"
	"github.com/smallbiznis/agentmarket/internal/authorization"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/entitlement"
	"github.com/smallbiznis/agentmarket/internal/observability"
	obslogger "github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	obstracing "github.com/smallbiznis/agentmarket/internal/observability/tracing"
	"github.com/smallbiznis/agentmarket/internal/organization"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	"github.com/smallbiznis/agentmarket/internal/payment"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	"github.com/smallbiznis/agentmarket/internal/plan"
	"github.com/smallbiznis/agentmarket/internal/ratelimit"
	"github.com/smallbiznis/agentmarket/internal/run"
	rundomain "github.com/smallbiznis/agentmarket/internal/run/domain"
	"github.com/smallbiznis/agentmarket/internal/subscription"
	"github.com/smallbiznis/agentmarket/internal/usage"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	apikey.Module,
	organization.Module,
	subscription.Module,
	usage.Module,
	plan.Module,
	entitlement.Module,
	agent.Module,
	run.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(runHTTP),
)

type EngineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
	Registry    *prometheus.Registry    `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(p.HTTPMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if p.Registry != nil {
		gatherer = prometheus.Gatherers{p.Registry, prometheus.DefaultGatherer}
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

func runHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	apiKeySvc       apikeydomain.Service
	authzSvc        authorization.Service
	organizationSvc orgdomain.Service
	usageSvc        usagedomain.Service
	runSvc          rundomain.Service
	agentSvc        agentdomain.Service
	paymentSvc      paymentdomain.Service
	runLimiter      *ratelimit.RunLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	APIKeySvc       apikeydomain.Service
	AuthzSvc        authorization.Service
	OrganizationSvc orgdomain.Service
	UsageSvc        usagedomain.Service
	RunSvc          rundomain.Service
	AgentSvc        agentdomain.Service
	PaymentSvc      paymentdomain.Service
	RunLimiter      *ratelimit.RunLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		apiKeySvc:       p.APIKeySvc,
		authzSvc:        p.AuthzSvc,
		organizationSvc: p.OrganizationSvc,
		usageSvc:        p.UsageSvc,
		runSvc:          p.RunSvc,
		agentSvc:        p.AgentSvc,
		paymentSvc:      p.PaymentSvc,
		runLimiter:      p.RunLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	// -------- Runs --------
	api.POST("/runs", s.authorize(authorization.ObjectRun, authorization.ActionExecute), s.RunRateLimit(), s.RunAgent)
	api.GET("/runs", s.authorize(authorization.ObjectRun, authorization.ActionView), s.ListRuns)

	// -------- Usage --------
	api.GET("/usage", s.authorize(authorization.ObjectUsage, authorization.ActionView), s.GetUsageSummary)
	api.GET("/usage/history", s.authorize(authorization.ObjectUsage, authorization.ActionView), s.ListUsageHistory)
	api.GET("/usage/reconcile", s.authorize(authorization.ObjectBilling, authorization.ActionManage), s.ReconcileUsage)

	// -------- Billing --------
	api.POST("/billing/checkout", s.authorize(authorization.ObjectBilling, authorization.ActionManage), s.StartCheckout)
	api.GET("/billing/portal", s.authorize(authorization.ObjectBilling, authorization.ActionManage), s.BillingPortal)

	// -------- Organization --------
	api.GET("/org", s.authorize(authorization.ObjectOrganization, authorization.ActionView), s.GetOrganization)
	api.PATCH("/org", s.authorize(authorization.ObjectOrganization, authorization.ActionManage), s.UpdateOrganization)
	api.GET("/org/members", s.authorize(authorization.ObjectMember, authorization.ActionView), s.ListMembers)
	api.PATCH("/org/members/:id", s.authorize(authorization.ObjectMember, authorization.ActionManage), s.UpdateMemberRole)
	api.DELETE("/org/members/:id", s.authorize(authorization.ObjectMember, authorization.ActionManage), s.RemoveMember)
	api.POST("/org/invites", s.authorize(authorization.ObjectInvite, authorization.ActionCreate), s.CreateInvite)
	api.POST("/invites/:token/accept", s.AcceptInvite)

	// -------- Agents --------
	api.GET("/agents", s.authorize(authorization.ObjectAgent, authorization.ActionView), s.ListAgents)
	api.GET("/agents/mine", s.authorize(authorization.ObjectAgent, authorization.ActionManage), s.ListOwnedAgents)
	api.POST("/agents", s.authorize(authorization.ObjectAgent, authorization.ActionManage), s.CreateAgent)
	api.PATCH("/agents/:id", s.authorize(authorization.ObjectAgent, authorization.ActionManage), s.UpdateAgent)
	api.POST("/agents/:id/publish", s.authorize(authorization.ObjectAgent, authorization.ActionManage), s.PublishAgent)
	api.POST("/agents/:id/unpublish", s.authorize(authorization.ObjectAgent, authorization.ActionManage), s.UnpublishAgent)
	api.DELETE("/agents/:id", s.authorize(authorization.ObjectAgent, authorization.ActionManage), s.DeleteAgent)

	// -------- API keys --------
	api.GET("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionManage), s.ListAPIKeys)
	api.POST("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionManage), s.CreateAPIKey)
	api.POST("/api-keys/:key_id/rotate", s.authorize(authorization.ObjectAPIKey, authorization.ActionManage), s.RotateAPIKey)
	api.DELETE("/api-keys/:key_id", s.authorize(authorization.ObjectAPIKey, authorization.ActionManage), s.RevokeAPIKey)
}
