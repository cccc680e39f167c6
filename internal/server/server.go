// Package server exposes the billing engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inferbill/inferbill/internal/config"
	"github.com/inferbill/inferbill/internal/estimate"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	obsmetrics "github.com/inferbill/inferbill/internal/observability/metrics"
	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
	prorationdomain "github.com/inferbill/inferbill/internal/proration/domain"
	"github.com/inferbill/inferbill/internal/ratelimit"
	webhookdomain "github.com/inferbill/inferbill/internal/webhook/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log, metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil && metrics.Registry() != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	}

	return r
}

type engineParams struct {
	fx.In

	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func registerGin(p engineParams) *gin.Engine {
	return NewEngine(p.Log, p.Metrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	genID        *snowflake.Node
	estimateSvc  *estimate.Service
	ledgerSvc    ledgerdomain.Service
	catalogSvc   pricingdomain.Catalog
	prorationSvc prorationdomain.Service
	dispatcher   webhookdomain.Dispatcher
	limiter      *ratelimit.BillingLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	GenID        *snowflake.Node
	EstimateSvc  *estimate.Service
	LedgerSvc    ledgerdomain.Service
	CatalogSvc   pricingdomain.Catalog
	ProrationSvc prorationdomain.Service
	Dispatcher   webhookdomain.Dispatcher
	Limiter      *ratelimit.BillingLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		estimateSvc:  p.EstimateSvc,
		ledgerSvc:    p.LedgerSvc,
		catalogSvc:   p.CatalogSvc,
		prorationSvc: p.ProrationSvc,
		dispatcher:   p.Dispatcher,
		limiter:      p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.UserRequired())

	// -------- Usage / Credits --------
	api.POST("/usage/estimate", s.EstimateRateLimit(), s.EstimateUsage)
	api.POST("/usage/charge", s.DeductRateLimit(), s.ChargeUsage)
	api.GET("/usage", s.ListUsage)

	api.GET("/credits/balance", s.GetBalance)
	api.GET("/credits/affordability", s.CheckAffordability)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// -------- Credit accounts --------
	admin.POST("/credits/allocate", s.AllocateCredits)
	admin.POST("/credits/topup", s.TopUpCredits)

	// -------- Pricing catalog --------
	admin.POST("/pricing/entries", s.CreatePricingEntry)
	admin.PUT("/pricing/margins", s.UpsertTierMargin)
	admin.PUT("/pricing/model-metadata", s.UpsertModelMeta)

	// -------- Proration --------
	admin.POST("/proration/preview", s.PreviewProration)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")

	// Outbox endpoints for the external delivery worker.
	internal.POST("/webhooks/claim", s.ClaimWebhookEvents)
	internal.POST("/webhooks/:event_id/delivered", s.MarkWebhookDelivered)
	internal.POST("/webhooks/:event_id/failed", s.MarkWebhookFailed)
}
