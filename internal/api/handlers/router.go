package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/api/backend"
	"github.com/langchou/motonav/internal/api/directions"
	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/location"
	"github.com/langchou/motonav/internal/navigation"
	"github.com/langchou/motonav/internal/repository"
	"github.com/langchou/motonav/internal/service"
	"github.com/langchou/motonav/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	navService *service.NavigationService
	journal    *repository.Journal // 未配置数据库时为 nil
	wsHub      *ws.Hub
	metrics    http.Handler
	upgrader   websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	navService *service.NavigationService,
	journal *repository.Journal,
	wsHub *ws.Hub,
	metrics http.Handler,
) *Handler {
	return &Handler{
		logger:     logger,
		navService: navService,
		journal:    journal,
		wsHub:      wsHub,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 导航
		api.POST("/navigation/routes", h.PlanRoutes)
		api.POST("/navigation/select", h.SelectRoute)
		api.POST("/navigation/start", h.StartNavigation)
		api.POST("/navigation/position", h.PushPosition)
		api.POST("/navigation/stop", h.StopNavigation)
		api.GET("/navigation/state", h.GetState)

		// 保养与车辆
		api.POST("/maintenance", h.RecordMaintenance)
		api.GET("/motors", h.ListMotors)
		api.POST("/motors/calibrate", h.CalibrateEfficiency)

		// 行程日志
		api.GET("/trips", h.ListTrips)
		api.GET("/trips/:id", h.GetTrip)
		api.GET("/trips/:id/positions", h.GetTripPositions)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.wsHub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push channel disabled"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	clients := 0
	if h.wsHub != nil {
		clients = h.wsHub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"navigation": h.navService.Snapshot().Status,
		"ws_clients": clients,
		"journal":    h.journal != nil,
	})
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNoSession),
		errors.Is(err, directions.ErrNoRoutesFound):
		return http.StatusNotFound
	case errors.Is(err, navigation.ErrInvalidTransition),
		errors.Is(err, navigation.ErrSessionFinished),
		errors.Is(err, navigation.ErrNoRouteSelected),
		errors.Is(err, navigation.ErrNoPosition),
		errors.Is(err, service.ErrNavigationActive):
		return http.StatusConflict
	case errors.Is(err, navigation.ErrUnknownRoute),
		errors.Is(err, service.ErrMotorRequired),
		errors.Is(err, fuel.ErrInvalidMotorProfile),
		errors.Is(err, fuel.ErrNotEnoughSamples),
		errors.Is(err, backend.ErrMotorNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, location.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, directions.ErrNoConnectivity),
		errors.Is(err, location.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, directions.ErrProviderError),
		errors.Is(err, backend.ErrMotorFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrBackendDisabled),
		errors.Is(err, service.ErrJournalDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondError 输出错误，5xx 记录日志。retryable 表示客户端可以稍后重试
func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"retryable": directions.IsRetryable(err),
	})
}
