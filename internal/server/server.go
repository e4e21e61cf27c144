package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	authdomain "github.com/smallbiznis/newsletter/internal/auth/domain"
	"github.com/smallbiznis/newsletter/internal/authorization"
	"github.com/smallbiznis/newsletter/internal/config"
	newsletterdomain "github.com/smallbiznis/newsletter/internal/newsletter/domain"
	"github.com/smallbiznis/newsletter/internal/observability"
	obslogger "github.com/smallbiznis/newsletter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/newsletter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/newsletter/internal/observability/tracing"
	subscriptiondomain "github.com/smallbiznis/newsletter/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterOpsRoutes()
		s.RegisterPublicRoutes()
		s.RegisterAdminRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		LogProbes:       obsCfg.LogProbeRequests,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{RecordActor: obsCfg.TraceActors}))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())
	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if obsCfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
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
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	authsvc         authdomain.Service
	authzSvc        authorization.Service
	newsletterSvc   newsletterdomain.Service
	subscriptionSvc subscriptiondomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Authsvc         authdomain.Service         `optional:"true"`
	AuthzSvc        authorization.Service      `optional:"true"`
	NewsletterSvc   newsletterdomain.Service   `optional:"true"`
	SubscriptionSvc subscriptiondomain.Service `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		authsvc:         p.Authsvc,
		authzSvc:        p.AuthzSvc,
		newsletterSvc:   p.NewsletterSvc,
		subscriptionSvc: p.SubscriptionSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterOpsRoutes() {
	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) RegisterPublicRoutes() {
	subscriptions := s.engine.Group("/subscriptions")

	subscriptions.POST("", s.Subscribe)
	subscriptions.GET("/confirm", s.ConfirmSubscription)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.BasicAuthRequired())

	// -------- Newsletters --------
	admin.GET("/newsletters", s.authorizeAction(authorization.ObjectNewsletter, authorization.ActionView), s.ListNewsletters)
	admin.POST("/newsletters", s.authorizeAction(authorization.ObjectNewsletter, authorization.ActionPublish), s.PublishNewsletter)
	admin.GET("/newsletters/:issue_id", s.authorizeAction(authorization.ObjectNewsletter, authorization.ActionView), s.GetNewsletter)
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		obslogger.FromContext(c.Request.Context()).Warn("health check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
