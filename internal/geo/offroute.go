package geo

import (
	"math"

	"github.com/langchou/motonav/internal/models"
)

// ArrivalThresholdMeters 默认到达半径
const ArrivalThresholdMeters = 50.0

// NearestVertex 返回离 position 最近的折线顶点下标及距离 (米)。
// 这是顶点邻近判断而不是点到线段的投影。空折线返回 -1。
func NearestVertex(position models.Coordinate, route []models.Coordinate) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, v := range route {
		d := Distance(position, v)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// IsOffRoute 当 position 到所有顶点的距离都超过 thresholdMeters 时返回 true。
// 空折线视为偏航。
func IsOffRoute(position models.Coordinate, route []models.Coordinate, thresholdMeters float64) bool {
	idx, dist := NearestVertex(position, route)
	if idx < 0 {
		return true
	}
	return dist > thresholdMeters
}

// HasArrived 距路线终点小于 thresholdMeters 即视为到达
func HasArrived(position models.Coordinate, route []models.Coordinate, thresholdMeters float64) bool {
	if len(route) == 0 {
		return false
	}
	return Distance(position, route[len(route)-1]) < thresholdMeters
}

// RemainingKm 从最近顶点沿折线到终点的剩余距离 (km)，包含当前位置到该顶点的一段
func RemainingKm(position models.Coordinate, route []models.Coordinate) float64 {
	idx, _ := NearestVertex(position, route)
	if idx < 0 {
		return 0
	}
	return HaversineKm(position, route[idx]) + PathLengthKm(route[idx:])
}
