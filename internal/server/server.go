package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/purchaseledger/internal/catalog"
	"github.com/smallbiznis/purchaseledger/internal/config"
	"github.com/smallbiznis/purchaseledger/internal/observability"
	obscontext "github.com/smallbiznis/purchaseledger/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/purchaseledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/purchaseledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/purchaseledger/internal/observability/tracing"
	"github.com/smallbiznis/purchaseledger/internal/projection"
	"github.com/smallbiznis/purchaseledger/internal/reconcile"
	"github.com/smallbiznis/purchaseledger/internal/storefront"
	storedomain "github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(
		func(e *reconcile.Engine) Ledger { return e },
		func(s *storefront.Service) NotificationIngester { return s },
	),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// Ledger is the reconciliation surface the API serves.
type Ledger interface {
	Snapshot() *projection.Snapshot
	Subscribe(fn func(*projection.Snapshot)) (cancel func())
	LastError() error
	Catalog() *catalog.Catalog

	Grant(ctx context.Context, id catalog.ProductID) error
	Revoke(ctx context.Context, id catalog.ProductID) error
	Credit(ctx context.Context, id catalog.ProductID, quantity int64) error
	Consume(ctx context.Context, id catalog.ProductID, quantity int64) error
	RefreshSubscriptionStatus(ctx context.Context) error
	Sync(ctx context.Context) error
}

// NotificationIngester records storefront notifications.
type NotificationIngester interface {
	Ingest(ctx context.Context, n storedomain.Notification) (storedomain.IngestResult, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(classifyErrorForLog))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	ledger        Ledger
	notifications NotificationIngester
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Ledger        Ledger
	Notifications NotificationIngester
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		ledger:        p.Ledger,
		notifications: p.Notifications,
	}

	svc.registerLedgerRoutes()
	svc.registerStorefrontRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerLedgerRoutes() {
	v1 := s.engine.Group("/v1", tagSource(obscontext.SourceAPI))

	v1.GET("/snapshot", s.GetSnapshot)
	v1.GET("/snapshot/stream", s.StreamSnapshots)

	v1.GET("/entitlements/:product", s.GetEntitlement)
	v1.PUT("/entitlements/:product", s.GrantEntitlement)
	v1.DELETE("/entitlements/:product", s.RevokeEntitlement)

	v1.GET("/balances/:product", s.GetBalance)
	v1.POST("/balances/:product/credit", s.CreditBalance)
	v1.POST("/balances/:product/consume", s.ConsumeBalance)

	v1.GET("/renewals/:product", s.GetRenewal)
	v1.POST("/renewals/refresh", s.RefreshRenewals)

	v1.POST("/sync", s.Sync)
}

func (s *Server) registerStorefrontRoutes() {
	s.engine.POST("/v1/notifications", tagSource(obscontext.SourceNotification), s.HandleNotification)
}

// tagSource records where a ledger request came from for request logs and spans.
func tagSource(source string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(obscontext.KeySource, source)
		c.Next()
	}
}
