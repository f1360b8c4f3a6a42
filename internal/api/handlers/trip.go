package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// journalEnabled 未配置数据库时返回 501
func (h *Handler) journalEnabled(c *gin.Context) bool {
	if h.journal == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Trip journal is not configured"})
		return false
	}
	return true
}

// ListTrips 获取行程列表
// GET /api/trips?motor_id=&page=&per_page=
func (h *Handler) ListTrips(c *gin.Context) {
	if !h.journalEnabled(c) {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage
	motorID := c.Query("motor_id")

	trips, err := h.journal.Trips.List(c.Request.Context(), motorID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trips"})
		return
	}

	total, _ := h.journal.Trips.Count(c.Request.Context(), motorID)

	c.JSON(http.StatusOK, gin.H{
		"data": trips,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTrip 获取行程详情
func (h *Handler) GetTrip(c *gin.Context) {
	if !h.journalEnabled(c) {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trip ID"})
		return
	}

	trip, err := h.journal.Trips.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
			return
		}
		h.logger.Error("Failed to get trip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get trip"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": trip})
}

// GetTripPositions 获取行程轨迹，planned=true 时返回计划路线
func (h *Handler) GetTripPositions(c *gin.Context) {
	if !h.journalEnabled(c) {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trip ID"})
		return
	}
	planned, _ := strconv.ParseBool(c.DefaultQuery("planned", "false"))

	positions, err := h.journal.Positions.ListByTripID(c.Request.Context(), id, planned)
	if err != nil {
		h.logger.Error("Failed to list positions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions})
}
