package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/uavledger/internal/anchor"
	"go.uber.org/zap"
)

// MissionHandler exposes direct reads and writes of ledger slots.
type MissionHandler struct {
	anchors *anchor.Client
	logger  *zap.Logger
}

// NewMissionHandler creates a new MissionHandler.
func NewMissionHandler(anchors *anchor.Client, logger *zap.Logger) *MissionHandler {
	return &MissionHandler{anchors: anchors, logger: logger}
}

// Register mounts the mission routes on the given router group.
func (h *MissionHandler) Register(rg *gin.RouterGroup) {
	m := rg.Group("/missions")
	{
		m.GET("/:mission_id", h.Get)
		m.POST("/:mission_id/log", h.Log)
	}
}

type logMissionRequest struct {
	S3Key string `json:"s3_key" binding:"required"`
}

// Log handles POST /missions/:mission_id/log: anchors a storage key for the
// mission as-is.
func (h *MissionHandler) Log(c *gin.Context) {
	var req logMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "s3_key is required"})
		return
	}

	missionID := c.Param("mission_id")
	key, err := h.anchors.MissionKey(missionID)
	if err != nil {
		respondError(c, h.logger, "invalid mission id", err)
		return
	}
	loc, err := anchor.ParseLocator(req.S3Key)
	if err != nil {
		respondError(c, h.logger, "invalid s3_key", err)
		return
	}

	receipt, err := h.anchors.Put(c.Request.Context(), key, anchor.Submission{Locator: loc})
	if err != nil {
		respondError(c, h.logger, "failed to log mission", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"mission_id":  missionID,
		"mission_key": key.Hex(),
		"s3_key":      req.S3Key,
		"receipt":     receipt,
	})
}

// Get handles GET /missions/:mission_id: an unwritten slot is reported with
// exists=false, not as an error.
func (h *MissionHandler) Get(c *gin.Context) {
	missionID := c.Param("mission_id")
	key, err := h.anchors.MissionKey(missionID)
	if err != nil {
		respondError(c, h.logger, "invalid mission id", err)
		return
	}

	rec, found, err := h.anchors.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, h.logger, "failed to query ledger", err)
		return
	}

	resp := gin.H{
		"mission_id":  missionID,
		"mission_key": key.Hex(),
		"key_kind":    key.Kind().String(),
		"exists":      found,
		"s3_key":      "",
	}
	if found {
		resp["s3_key"] = rec.StorageRef
		resp["storage_key"] = rec.StorageKey()
		resp["timestamp"] = rec.Timestamp
		resp["uploader"] = rec.Uploader
		if rec.Locator.SeqNo > 0 {
			resp["seq_no"] = rec.Locator.SeqNo
		}
		if !rec.Locator.Tip.IsZero() {
			resp["tip_hash"] = rec.Locator.Tip.Hex()
		}
	}
	c.JSON(http.StatusOK, resp)
}
