package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"genboard/engine/internal/engine"
	"genboard/engine/internal/middleware"
)

type visibleRequest struct {
	Visible []string `json:"visible"`
	Hidden  []string `json:"hidden"`
}

type importRequest struct {
	AssetIDs []string `json:"assetIds" binding:"required"`
}

func (h HandlerSet) Snapshot(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	tiles, err := h.engine.SnapshotTiles(c.Request.Context(), ownerID)
	if err != nil {
		h.log.Error().Err(err).Str("owner_id", ownerID).Msg("snapshot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tiles": tiles})
}

func (h HandlerSet) ReportVisible(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req visibleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	h.engine.ReportVisible(c.Request.Context(), ownerID, req.Visible, req.Hidden)
	c.Status(http.StatusAccepted)
}

func (h HandlerSet) Import(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if err := h.engine.Import(c.Request.Context(), ownerID, req.AssetIDs); err != nil {
		h.log.Error().Err(err).Str("owner_id", ownerID).Msg("import failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) RemoveAsset(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	assetID := c.Param("id")
	if err := h.engine.Remove(c.Request.Context(), ownerID, assetID); err != nil {
		if errors.Is(err, engine.ErrDeleteFailed) {
			c.JSON(http.StatusConflict, gin.H{"error": "delete_failed"})
			return
		}
		h.log.Error().Err(err).Str("owner_id", ownerID).Str("asset_id", assetID).Msg("remove failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Clear(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	h.engine.ClearWorkspace(c.Request.Context(), ownerID)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Notifications(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": h.engine.Notifications(ownerID)})
}
