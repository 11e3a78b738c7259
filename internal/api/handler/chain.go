package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
	"github.com/jmerrifield20/DocumentChain/internal/integrity"
)

// chainVerifier is satisfied by *integrity.LocalProbe.
type chainVerifier interface {
	Verify(ctx context.Context) (*chain.Tamper, int, error)
}

// ChainHandler exposes the ungated chain overview and the local verdict.
// These routes stay reachable while the chain is compromised.
type ChainHandler struct {
	store    chain.Store
	verifier chainVerifier
	logger   *zap.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(store chain.Store, verifier chainVerifier, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{store: store, verifier: verifier, logger: logger}
}

// Register mounts the chain routes on rg.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	c := rg.Group("/chain")
	{
		c.GET("", h.Overview)
		c.GET("/verify", h.Verify)
	}
}

// Overview handles GET /chain, returning the record count and head hash.
func (h *ChainHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := h.store.Len(ctx)
	if err != nil {
		h.logger.Error("chain length", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}

	head := chain.GenesisHash
	latest, err := h.store.Latest(ctx)
	switch {
	case err == nil:
		head = latest.Hash
	case errors.Is(err, chain.ErrNotFound):
	default:
		h.logger.Error("chain head", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": n, "head": head})
}

// Verify handles GET /chain/verify and the root /check_chain_integrity
// route. The body is readable by integrity.OracleClient, so one instance can
// serve as the oracle of another.
func (h *ChainHandler) Verify(c *gin.Context) {
	tamper, n, err := h.verifier.Verify(c.Request.Context())
	if err != nil {
		h.logger.Error("verify chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chain verification failed"})
		return
	}
	if tamper != nil {
		h.logger.Warn("chain verification found tampering", zap.Stringer("tamper", tamper))
	}
	c.JSON(http.StatusOK, integrity.NewLocalBody(tamper, n))
}
