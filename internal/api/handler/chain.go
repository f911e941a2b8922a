package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/uavledger/internal/anchor"
	"go.uber.org/zap"
)

// ChainHandler reports the ledger connection.
type ChainHandler struct {
	anchors *anchor.Client
	logger  *zap.Logger
}

// NewChainHandler creates a new ChainHandler.
func NewChainHandler(anchors *anchor.Client, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{anchors: anchors, logger: logger}
}

// Register mounts the chain route on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/chain", h.Info)
}

// Info handles GET /chain.
func (h *ChainHandler) Info(c *gin.Context) {
	info, err := h.anchors.Info(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to query ledger", err)
		return
	}
	c.JSON(http.StatusOK, info)
}
