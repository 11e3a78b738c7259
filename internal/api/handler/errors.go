package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
	"github.com/jmerrifield20/DocumentChain/internal/integrity"
)

// writeError maps chain and integrity errors onto HTTP responses.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	var ve *integrity.ViolationError
	switch {
	case errors.As(err, &ve):
		body := gin.H{"error": "integrity_violation", "message": ve.Error()}
		if ve.Tamper != nil {
			body["sequence"] = ve.Tamper.Sequence
			body["reason"] = ve.Tamper.Reason
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, integrity.ErrIndeterminate):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "integrity_indeterminate", "message": err.Error()})
	case errors.Is(err, chain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, chain.ErrDuplicatePayload):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate payload"})
	case errors.Is(err, chain.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}
