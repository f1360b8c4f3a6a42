package models

import "time"

// Route 一条候选路线。由路线适配器生成后不再修改，重新获取会产生新的实例
type Route struct {
	ID                 string       `json:"id"`
	Summary            string       `json:"summary,omitempty"`
	DistanceMeters     float64      `json:"distance_meters"`
	DurationSeconds    float64      `json:"duration_seconds"`
	FuelEstimateLiters float64      `json:"fuel_estimate_liters"`
	TrafficRate        int          `json:"traffic_rate"` // 1..5
	Coordinates        []Coordinate `json:"coordinates"`
	Instructions       []string     `json:"instructions,omitempty"`
	Synthetic          bool         `json:"synthetic"` // 补齐用的合成路线，非服务商数据
}

// Destination 路线终点
func (r Route) Destination() Coordinate {
	if len(r.Coordinates) == 0 {
		return Coordinate{}
	}
	return r.Coordinates[len(r.Coordinates)-1]
}

// DistanceKm 路线距离 (km)
func (r Route) DistanceKm() float64 {
	return r.DistanceMeters / 1000
}

// Clone 深拷贝，避免共享底层切片
func (r Route) Clone() Route {
	c := r
	c.Coordinates = append([]Coordinate(nil), r.Coordinates...)
	if r.Instructions != nil {
		c.Instructions = append([]string(nil), r.Instructions...)
	}
	return c
}

// RouteSet 同一起终点的一组路线：最佳路线加有序备选
type RouteSet struct {
	Origin       Coordinate `json:"origin"`
	Destination  Coordinate `json:"destination"`
	BestRoute    Route      `json:"best_route"`
	Alternatives []Route    `json:"alternatives"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// Find 按 ID 查找路线
func (rs *RouteSet) Find(id string) (Route, bool) {
	if rs == nil {
		return Route{}, false
	}
	if rs.BestRoute.ID == id {
		return rs.BestRoute, true
	}
	for _, r := range rs.Alternatives {
		if r.ID == id {
			return r, true
		}
	}
	return Route{}, false
}

// SyntheticCount 合成路线数量
func (rs *RouteSet) SyntheticCount() int {
	n := 0
	for _, r := range rs.Alternatives {
		if r.Synthetic {
			n++
		}
	}
	return n
}
