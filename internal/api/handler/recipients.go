package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/alert"
	"github.com/jmerrifield20/DocumentChain/internal/recipients"
)

// recipientRegistry is satisfied by *recipients.Registry.
type recipientRegistry interface {
	Add(addr string) (bool, error)
	Remove(addr string) bool
	List() []string
}

// testMailer is satisfied by *alert.Dispatcher.
type testMailer interface {
	SendTest(ctx context.Context, addr string) error
}

var (
	_ recipientRegistry = (*recipients.Registry)(nil)
	_ testMailer        = (*alert.Dispatcher)(nil)
)

// RecipientsHandler manages the alert recipient list.
type RecipientsHandler struct {
	registry recipientRegistry
	mailer   testMailer
	guard    gin.HandlerFunc
	logger   *zap.Logger
}

// NewRecipientsHandler creates a RecipientsHandler. guard protects the
// mutating routes and may be nil.
func NewRecipientsHandler(registry recipientRegistry, mailer testMailer, guard gin.HandlerFunc, logger *zap.Logger) *RecipientsHandler {
	if guard == nil {
		guard = RequireToken(nil)
	}
	return &RecipientsHandler{registry: registry, mailer: mailer, guard: guard, logger: logger}
}

// Register mounts the recipient routes on rg.
func (h *RecipientsHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/recipients")
	{
		r.GET("", h.List)
		r.POST("", h.guard, h.Add)
		r.POST("/test", h.guard, h.Test)
		r.DELETE("/:email", h.guard, h.Remove)
	}
}

type recipientRequest struct {
	Email string `json:"email" binding:"required"`
}

// List handles GET /recipients.
func (h *RecipientsHandler) List(c *gin.Context) {
	list := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"recipients": list, "count": len(list)})
}

// Add handles POST /recipients.
func (h *RecipientsHandler) Add(c *gin.Context) {
	var req recipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "email is required"})
		return
	}

	added, err := h.registry.Add(req.Email)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	msg := "recipient already registered"
	if added {
		msg = "recipient added"
		h.logger.Info("alert recipient added", zap.String("email", req.Email))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "recipients": h.registry.List()})
}

// Remove handles DELETE /recipients/:email.
func (h *RecipientsHandler) Remove(c *gin.Context) {
	addr := c.Param("email")
	if !h.registry.Remove(addr) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "recipient not found", "recipients": h.registry.List()})
		return
	}
	h.logger.Info("alert recipient removed", zap.String("email", addr))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "recipient removed", "recipients": h.registry.List()})
}

// Test handles POST /recipients/test by mailing a test message to the
// given address. The address does not need to be registered.
func (h *RecipientsHandler) Test(c *gin.Context) {
	var req recipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "email is required"})
		return
	}

	if err := h.mailer.SendTest(c.Request.Context(), req.Email); err != nil {
		if errors.Is(err, recipients.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
		h.logger.Error("send test email", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "failed to send test email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "test email sent to " + req.Email})
}
