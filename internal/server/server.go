package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/sitebill/internal/audit"
	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
	"github.com/smallbiznis/sitebill/internal/authorization"
	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/smallbiznis/sitebill/internal/observability"
	obsmiddleware "github.com/smallbiznis/sitebill/internal/observability/logger"
	obstracing "github.com/smallbiznis/sitebill/internal/observability/tracing"
	"github.com/smallbiznis/sitebill/internal/payment"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/plan"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	"github.com/smallbiznis/sitebill/internal/providers"
	"github.com/smallbiznis/sitebill/internal/providers/pdf"
	"github.com/smallbiznis/sitebill/internal/ratelimit"
	"github.com/smallbiznis/sitebill/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	"github.com/smallbiznis/sitebill/internal/usage"
	usagedomain "github.com/smallbiznis/sitebill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires every domain the HTTP surface needs. Infrastructure (config,
// observability, db, clock, ids) is composed by the binary.
var Module = fx.Module("http.server",
	authorization.Module,
	audit.Module,
	plan.Module,
	payment.Module,
	subscription.Module,
	usage.Module,
	ratelimit.Module,
	providers.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config) (*gin.Engine, error) {
	if err := registerValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

// registerValidators installs the binding rules request structs rely on.
func registerValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	return v.RegisterValidation("plan_code", func(fl validator.FieldLevel) bool {
		return plandomain.CodePattern.MatchString(fl.Field().String())
	})
}

func RunHTTP(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
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
			log.Info("http server listening", zap.String("addr", addr))
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
	log             *zap.Logger
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	planSvc         plandomain.Service
	paymentSvc      paymentdomain.Service
	reconciler      paymentdomain.Reconciler
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	aiCallLimiter   *ratelimit.AICallLimiter
	pdfProvider     pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	PlanSvc         plandomain.Service
	PaymentSvc      paymentdomain.Service
	Reconciler      paymentdomain.Reconciler
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	AICallLimiter   *ratelimit.AICallLimiter `optional:"true"`
	PDFProvider     pdf.Provider             `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		planSvc:         p.PlanSvc,
		paymentSvc:      p.PaymentSvc,
		reconciler:      p.Reconciler,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		aiCallLimiter:   p.AICallLimiter,
		pdfProvider:     p.PDFProvider,
	}
	if svc.pdfProvider == nil {
		svc.pdfProvider = &pdf.NoOpProvider{}
	}
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.registerAPIRoutes()
	s.registerAdminRoutes()
	s.registerWebhookRoutes()
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.InternalAuthRequired(), s.AccountContext())

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)

	// -------- Accounts --------
	api.POST("/accounts/provision", s.ProvisionAccount)

	// -------- Subscriptions --------
	api.POST("/subscriptions/intents", s.CreateChargeIntent)
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/current", s.GetCurrentSubscription)
	api.GET("/subscriptions/history", s.ListSubscriptionHistory)
	api.POST("/subscriptions/cancel", s.CancelSubscription)
	api.PUT("/subscriptions/auto-renew", s.SetAutoRenew)

	// -------- Limits & usage --------
	api.GET("/limits/sites", s.CheckSiteLimit)
	api.GET("/limits/ai-calls", s.CheckAICallLimit)
	api.POST("/usage/ai-calls", s.RecordAICall)

	// -------- Audit & transactions --------
	api.GET("/audit-logs", s.ListAccountAuditLogs)
	api.GET("/transactions", s.ListTransactions)
	api.GET("/transactions/:id/receipt", s.GetTransactionReceipt)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.InternalAuthRequired(), s.ActorRequired())

	admin.POST("/subscriptions/assign", s.authorizeAction(authorization.ObjectSubscription, authorization.ActionSubscriptionAssign), s.AssignPlan)
	admin.GET("/plans", s.authorizeAction(authorization.ObjectPlan, authorization.ActionPlanManage), s.ListAllPlans)
	admin.POST("/plans", s.authorizeAction(authorization.ObjectPlan, authorization.ActionPlanManage), s.CreatePlan)
	admin.POST("/plans/:id/deactivate", s.authorizeAction(authorization.ObjectPlan, authorization.ActionPlanManage), s.DeactivatePlan)
	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")

	webhooks.POST("/:provider", s.HandlePaymentWebhook)
}
