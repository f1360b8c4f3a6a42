package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
	"github.com/langchou/motonav/internal/service"
)

// PlanRoutes 获取路线
// POST /api/navigation/routes
func (h *Handler) PlanRoutes(c *gin.Context) {
	var req service.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := req.Origin.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid origin: " + err.Error()})
		return
	}
	if err := req.Destination.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid destination: " + err.Error()})
		return
	}

	set, err := h.navService.PlanRoutes(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "Failed to plan routes", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": set})
}

// SelectRoute 选择路线
// POST /api/navigation/select
func (h *Handler) SelectRoute(c *gin.Context) {
	var req struct {
		RouteID string `json:"routeId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.navService.SelectRoute(req.RouteID); err != nil {
		h.respondError(c, "Failed to select route", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.navService.Snapshot()})
}

// StartNavigation 开始导航，可附带当前位置
// POST /api/navigation/start
func (h *Handler) StartNavigation(c *gin.Context) {
	var req struct {
		Position *models.Position `json:"position"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	if err := h.navService.StartNavigation(req.Position); err != nil {
		h.respondError(c, "Failed to start navigation", err)
		return
	}

	h.logger.Info("Navigation started via API")
	c.JSON(http.StatusOK, gin.H{"data": h.navService.Snapshot()})
}

// PushPosition 手动注入定位
// POST /api/navigation/position
func (h *Handler) PushPosition(c *gin.Context) {
	var p models.Position
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.navService.PushPosition(c.Request.Context(), p); err != nil {
		h.respondError(c, "Failed to push position", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// StopNavigation 结束导航
// POST /api/navigation/stop
func (h *Handler) StopNavigation(c *gin.Context) {
	if err := h.navService.StopNavigation(); err != nil {
		h.respondError(c, "Failed to stop navigation", err)
		return
	}

	snap := h.navService.Snapshot()
	h.logger.Info("Navigation stopped via API", zap.String("session_id", snap.SessionID))
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// GetState 当前会话快照
// GET /api/navigation/state
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.navService.Snapshot()})
}
