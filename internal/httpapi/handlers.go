package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/notifier"
	"github.com/example/notification-pipeline/internal/observability"
	"github.com/example/notification-pipeline/internal/repository"
	"github.com/example/notification-pipeline/internal/util"
)

const maxAuditLimit = 1000

func (s *Server) handleHealth(c *gin.Context) {
	h := s.notifier.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) handleStats(c *gin.Context) {
	out := gin.H{}
	stats, err := s.notifier.EmailStats(c.Request.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("log stats unavailable")
		out["logs_error"] = err.Error()
	} else {
		out["logs"] = stats
	}
	if s.metrics != nil {
		out["metrics"] = s.metrics.Snapshot()
	}
	if s.providers != nil {
		out["providers"] = s.providers.Stats()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleOrderLogs(c *gin.Context) {
	logs, err := s.notifier.EmailLogsForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "count": len(logs), "logs": logs})
}

func (s *Server) handlePreview(c *gin.Context) {
	var req notifier.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.notifier.PreviewTemplate(c.Request.Context(), req)
	switch {
	case errors.Is(err, notifier.ErrPreviewInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleSample(c *gin.Context) {
	emailType := c.Param("type")
	if !models.IsKnownEmailType(emailType) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown email type " + strconv.Quote(emailType)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": emailType, "data": s.notifier.SampleData(emailType)})
}

type validateRequest struct {
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.notifier.ValidateTemplate(req.Subject, req.HTMLContent))
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}
	filter, err := auditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries := s.audit.Query(filter)
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}

func (s *Server) handleAuditExport(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}
	filter, err := auditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := s.audit.Export(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="audit.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

type publishRequest struct {
	ID      string         `json:"id"`
	Name    string         `json:"name" binding:"required"`
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handlePublish(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not configured"})
		return
	}
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evt := events.New(req.Name, req.Payload)
	if req.ID != "" {
		evt.ID = req.ID
	}
	evt.Source = req.Source
	if evt.Source == "" {
		evt.Source = "http"
	}
	if err := s.bus.Publish(c.Request.Context(), evt); err != nil {
		s.logger.Warn().Err(err).Str("event", evt.Name).Msg("publish failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "id": evt.ID})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": evt.ID, "name": evt.Name})
}

func (s *Server) handleCampaign(c *gin.Context) {
	var req notifier.Campaign
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.notifier.SendMarketingCampaign(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func auditFilter(c *gin.Context) (observability.AuditFilter, error) {
	f := observability.AuditFilter{
		PipelineID: c.Query("pipeline_id"),
		Stage:      c.Query("stage"),
		Status:     observability.AuditStatus(strings.ToLower(c.Query("status"))),
		Limit:      100,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, maxAuditLimit)
	}
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		ts, err := util.ParseRFC3339(v)
		if err != nil {
			return f, errors.New(key + " must be an RFC3339 timestamp")
		}
		*dst = ts
	}
	return f, nil
}
