package navigation

import (
	"fmt"
	"math"
	"time"

	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/geo"
	"github.com/langchou/motonav/internal/models"
)

const (
	// MinTripMinutes 行程时长下限
	MinTripMinutes = 1.0

	// degenerateOffset 单点行程补出的四边形边长 (度)
	degenerateOffset = 0.00001
)

// TripRecorder 行程结束时汇总计划与实际数据
type TripRecorder struct {
	userID string
	now    func() time.Time
}

// NewTripRecorder 创建行程记录器
func NewTripRecorder(userID string) *TripRecorder {
	return &TripRecorder{userID: userID, now: time.Now}
}

// Finalize 根据会话快照生成 TripSummary。
// 轨迹少于两个点时，在该点周围补一个闭合的小四边形计算距离。
func (r *TripRecorder) Finalize(snap Snapshot, arrived bool) (models.TripSummary, error) {
	if snap.ActiveRoute == nil {
		return models.TripSummary{}, ErrNoRouteSelected
	}

	ended := snap.EndedAt
	if ended.IsZero() {
		ended = r.now()
	}

	measured := snap.PathHistory
	if len(measured) < 2 {
		measured = degeneratePath(snap)
	}
	actualKm := geo.PathLengthKm(measured)
	if math.IsNaN(actualKm) || math.IsInf(actualKm, 0) {
		actualKm = 0
	}
	plannedKm := snap.ActiveRoute.DistanceKm()

	eff := snap.Motor.FuelEfficiencyKmPerLiter
	planned, err := fuel.EstimateRange(plannedKm, eff)
	if err != nil {
		return models.TripSummary{}, fmt.Errorf("estimate planned fuel: %w", err)
	}
	actual, err := fuel.EstimateRange(actualKm, eff)
	if err != nil {
		return models.TripSummary{}, fmt.Errorf("estimate actual fuel: %w", err)
	}

	minutes := ended.Sub(snap.StartedAt).Minutes()
	if snap.StartedAt.IsZero() || math.IsNaN(minutes) || minutes < MinTripMinutes {
		minutes = MinTripMinutes
	}

	summary := models.TripSummary{
		SessionID:         snap.SessionID,
		UserID:            r.userID,
		MotorID:           snap.Motor.ID,
		PlannedDistanceKm: plannedKm,
		ActualDistanceKm:  actualKm,
		PlannedFuelRange:  planned,
		ActualFuelRange:   actual,
		WasRerouted:       snap.RerouteCount > 0,
		RerouteCount:      snap.RerouteCount,
		DurationMinutes:   minutes,
		Arrived:           arrived,
		StartedAt:         snap.StartedAt,
		EndedAt:           ended,
		Path:              append([]models.Coordinate(nil), snap.PathHistory...),
		PlannedPath:       append([]models.Coordinate(nil), snap.ActiveRoute.Coordinates...),
	}
	if snap.RouteSet != nil {
		summary.StartAddress = addressOf(snap.RouteSet.Origin)
		summary.DestinationAddress = addressOf(snap.RouteSet.Destination)
	}
	return summary, nil
}

func addressOf(c models.Coordinate) string {
	if c.Address != "" {
		return c.Address
	}
	return c.String()
}

// degeneratePath 单点（或空）轨迹的兜底：以该点为一角的闭合四边形
func degeneratePath(snap Snapshot) []models.Coordinate {
	var p models.Coordinate
	switch {
	case len(snap.PathHistory) > 0:
		p = snap.PathHistory[0]
	case snap.Current != nil:
		p = snap.Current.Coordinate
	case len(snap.ActiveRoute.Coordinates) > 0:
		p = snap.ActiveRoute.Coordinates[0]
	}

	d := degenerateOffset
	return []models.Coordinate{
		p,
		models.NewCoordinate(p.Latitude+d, p.Longitude),
		models.NewCoordinate(p.Latitude+d, p.Longitude+d),
		models.NewCoordinate(p.Latitude, p.Longitude+d),
		p,
	}
}
