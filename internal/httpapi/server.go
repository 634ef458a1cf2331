// Package httpapi exposes diagnostics, previews and event intake over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/logger"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/notifier"
	"github.com/example/notification-pipeline/internal/observability"
	"github.com/example/notification-pipeline/internal/providers/manager"
	"github.com/example/notification-pipeline/internal/templating"
)

const shutdownTimeout = 10 * time.Second

// Notifications is the facade surface served over HTTP.
type Notifications interface {
	HealthCheck(ctx context.Context) notifier.Health
	EmailStats(ctx context.Context) (models.LogStats, error)
	EmailLogsForOrder(ctx context.Context, orderID string) ([]*models.LogEntry, error)
	PreviewTemplate(ctx context.Context, req notifier.PreviewRequest) (notifier.PreviewResult, error)
	SampleData(emailType string) map[string]any
	ValidateTemplate(subject, body string) templating.ValidationResult
	SendMarketingCampaign(ctx context.Context, c notifier.Campaign) (notifier.CampaignResult, error)
}

// ProviderStats reports provider manager state.
type ProviderStats interface {
	Stats() manager.Stats
}

// Dependencies collects what the server exposes. Notifier is required.
type Dependencies struct {
	Notifier  Notifications
	Metrics   *observability.Metrics
	Audit     *observability.AuditLog
	Providers ProviderStats
	Bus       events.Bus
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
}

// Server is the diagnostics HTTP server.
type Server struct {
	notifier  Notifications
	metrics   *observability.Metrics
	audit     *observability.AuditLog
	providers ProviderStats
	bus       events.Bus
	logger    zerolog.Logger
	router    *gin.Engine
}

// New builds the router.
func New(deps Dependencies) (*Server, error) {
	if deps.Notifier == nil {
		return nil, errors.New("httpapi: notifier dependency is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		audit:     deps.Audit,
		providers: deps.Providers,
		bus:       deps.Bus,
		logger:    logger.Component(deps.Logger, "httpapi"),
		router:    gin.New(),
	}

	s.router.Use(gin.Recovery(), s.requestLogger())
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/orders/:id/logs", s.handleOrderLogs)
		api.POST("/preview", s.handlePreview)
		api.GET("/templates/sample/:type", s.handleSample)
		api.POST("/templates/validate", s.handleValidate)
		api.GET("/audit", s.handleAudit)
		api.GET("/audit/export", s.handleAuditExport)
		api.POST("/events", s.handlePublish)
		api.POST("/campaigns", s.handleCampaign)
	}
	return s, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
