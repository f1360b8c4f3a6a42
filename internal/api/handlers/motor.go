package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/langchou/motonav/internal/models"
)

// RecordMaintenance 记录保养动作
// POST /api/maintenance
func (h *Handler) RecordMaintenance(c *gin.Context) {
	var req struct {
		models.MaintenanceAction
		MotorID string `json:"motorId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := req.MaintenanceAction.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.navService.RecordMaintenance(c.Request.Context(), req.MotorID, req.MaintenanceAction)
	if err != nil {
		h.respondError(c, "Failed to record maintenance", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": entry})
}

// ListMotors 车辆登记
// GET /api/motors
func (h *Handler) ListMotors(c *gin.Context) {
	motors, err := h.navService.ListMotors(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list motors", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": motors})
}

// CalibrateEfficiency 根据加油记录拟合油耗
// POST /api/motors/calibrate
func (h *Handler) CalibrateEfficiency(c *gin.Context) {
	var req struct {
		MotorID string `json:"motorId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	kmPerLiter, samples, err := h.navService.CalibrateEfficiency(c.Request.Context(), req.MotorID)
	if err != nil {
		h.respondError(c, "Failed to calibrate efficiency", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"motorId":        req.MotorID,
			"fuelEfficiency": kmPerLiter,
			"samples":        samples,
		},
	})
}
