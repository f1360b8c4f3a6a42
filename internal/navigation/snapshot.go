package navigation

import (
	"time"

	"github.com/langchou/motonav/internal/models"
)

// Snapshot 会话的只读快照，界面和分析监控只读取快照
type Snapshot struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	Since           time.Time           `json:"since"`
	Motor           models.MotorProfile `json:"motor"`
	RouteSet        *models.RouteSet    `json:"route_set,omitempty"`
	ActiveRoute     *models.Route       `json:"active_route,omitempty"`
	PathHistory     []models.Coordinate `json:"path_history"`
	Current         *models.Position    `json:"current,omitempty"`
	StartedAt       time.Time           `json:"started_at,omitempty"`
	EndedAt         time.Time           `json:"ended_at,omitempty"`
	LastMovedAt     time.Time           `json:"last_moved_at,omitempty"`
	RerouteCount    int                 `json:"reroute_count"`
	RerouteAttempts int                 `json:"reroute_attempts"` // 本次偏航已失败次数
	RerouteInFlight bool                `json:"reroute_in_flight"`
	RerouteGaveUp   bool                `json:"reroute_gave_up"`
	TraveledKm      float64             `json:"traveled_km"`
	RemainingKm     float64             `json:"remaining_km"`
	ETASeconds      float64             `json:"eta_seconds"`
	SpeedKmh        float64             `json:"speed_kmh"`
	Summary         *models.TripSummary `json:"summary,omitempty"`
}
