package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/integrity"
	"github.com/jmerrifield20/DocumentChain/internal/monitor"
)

// integrityMonitor is satisfied by *monitor.Monitor.
type integrityMonitor interface {
	CheckNow(ctx context.Context) monitor.Outcome
	Status(ctx context.Context) (integrity.Status, error)
}

var _ integrityMonitor = (*monitor.Monitor)(nil)

// IntegrityHandler triggers on-demand checks and reports the last-known status.
type IntegrityHandler struct {
	monitor integrityMonitor
	logger  *zap.Logger
}

// NewIntegrityHandler creates an IntegrityHandler.
func NewIntegrityHandler(m integrityMonitor, logger *zap.Logger) *IntegrityHandler {
	return &IntegrityHandler{monitor: m, logger: logger}
}

// Register mounts the integrity routes on rg.
func (h *IntegrityHandler) Register(rg *gin.RouterGroup) {
	i := rg.Group("/integrity")
	{
		i.GET("/check", h.Check)
		i.POST("/check", h.Check)
		i.GET("/status", h.Status)
	}
}

// Check handles /integrity/check. It runs one monitor cycle, so an invalid
// result alerts the registered recipients exactly like a scheduled tick.
func (h *IntegrityHandler) Check(c *gin.Context) {
	o := h.monitor.CheckNow(c.Request.Context())

	switch o.Status {
	case integrity.StatusValid:
		c.JSON(http.StatusOK, gin.H{"status": "VALID", "alertSent": false, "details": o.Details})
	case integrity.StatusInvalid:
		c.JSON(http.StatusOK, gin.H{
			"status":         "COMPROMISED",
			"alertSent":      o.AlertSent,
			"recipientCount": o.Recipients,
			"details":        o.Details,
		})
	default:
		msg := "integrity check could not reach a verdict"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "ERROR", "alertSent": false, "message": msg})
	}
}

// Status handles GET /integrity/status.
func (h *IntegrityHandler) Status(c *gin.Context) {
	s, err := h.monitor.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("load integrity status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load integrity status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s})
}
