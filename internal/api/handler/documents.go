package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
	"github.com/jmerrifield20/DocumentChain/internal/integrity"
)

// documentGate is satisfied by *integrity.Gate.
type documentGate interface {
	List(ctx context.Context) ([]*chain.Record, error)
	Get(ctx context.Context, id string) (*chain.Record, error)
	ByAttribute(ctx context.Context, attr chain.Attribute, value string) ([]*chain.Record, error)
	Latest(ctx context.Context) (*chain.Record, error)
	Append(ctx context.Context, payload chain.Payload) (*chain.Record, error)
}

var _ documentGate = (*integrity.Gate)(nil)

// DocumentsHandler serves the integrity-gated document routes.
type DocumentsHandler struct {
	gate   documentGate
	guard  gin.HandlerFunc
	logger *zap.Logger
}

// NewDocumentsHandler creates a DocumentsHandler. guard protects the write
// route and may be nil.
func NewDocumentsHandler(gate documentGate, guard gin.HandlerFunc, logger *zap.Logger) *DocumentsHandler {
	if guard == nil {
		guard = RequireToken(nil)
	}
	return &DocumentsHandler{gate: gate, guard: guard, logger: logger}
}

// Register mounts the document routes on rg.
func (h *DocumentsHandler) Register(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	{
		docs.GET("", h.List)
		docs.GET("/latest", h.Latest)
		docs.GET("/type/:dataType", h.ByDataType)
		docs.GET("/identifier/:identifier", h.ByIdentifier)
		docs.GET("/:id", h.Get)
		docs.POST("", h.guard, h.Append)
	}
}

type appendRequest struct {
	Data json.RawMessage `json:"data"`
}

// List handles GET /documents.
func (h *DocumentsHandler) List(c *gin.Context) {
	records, err := h.gate.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "list documents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": records, "count": len(records)})
}

// Get handles GET /documents/:id.
func (h *DocumentsHandler) Get(c *gin.Context) {
	r, err := h.gate.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "get document", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ByDataType handles GET /documents/type/:dataType.
func (h *DocumentsHandler) ByDataType(c *gin.Context) {
	h.byAttribute(c, chain.AttrDataType, c.Param("dataType"))
}

// ByIdentifier handles GET /documents/identifier/:identifier.
func (h *DocumentsHandler) ByIdentifier(c *gin.Context) {
	h.byAttribute(c, chain.AttrIdentifier, c.Param("identifier"))
}

func (h *DocumentsHandler) byAttribute(c *gin.Context, attr chain.Attribute, value string) {
	records, err := h.gate.ByAttribute(c.Request.Context(), attr, value)
	if err != nil {
		writeError(c, h.logger, "find documents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": records, "count": len(records)})
}

// Latest handles GET /documents/latest.
func (h *DocumentsHandler) Latest(c *gin.Context) {
	r, err := h.gate.Latest(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "latest document", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Append handles POST /documents.
func (h *DocumentsHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data is required"})
		return
	}

	payload, err := chain.ParsePayload(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.gate.Append(c.Request.Context(), payload)
	if err != nil {
		writeError(c, h.logger, "append document", err)
		return
	}
	RecordAppend()
	fields := []zap.Field{
		zap.String("id", r.ID),
		zap.Int64("sequence", r.Sequence),
		zap.String("kind", string(r.Payload.Kind())),
	}
	if claims := ClaimsFromCtx(c); claims != nil {
		fields = append(fields, zap.String("subject", claims.Subject))
	}
	h.logger.Info("document appended", fields...)
	c.JSON(http.StatusCreated, r)
}
