// Package geo 提供导航引擎使用的距离、方位与预计到达时间计算。
//
// 偏航与到达判断统一使用等距矩形近似（经纬度差 × 111139 米），
// 行程距离统计使用 Haversine 公式。
package geo

import (
	"math"
	"time"

	"github.com/langchou/motonav/internal/models"
)

const (
	// MetersPerDegree 每度经纬度约合米数（等距矩形近似）
	MetersPerDegree = 111139.0

	// EarthRadiusKm 地球平均半径
	EarthRadiusKm = 6371.0
)

// Distance 两点间的平面近似距离 (米)，偏航和到达判断使用同一函数
func Distance(a, b models.Coordinate) float64 {
	dLat := (a.Latitude - b.Latitude) * MetersPerDegree
	dLon := (a.Longitude - b.Longitude) * MetersPerDegree
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// HaversineKm 两点间大圆距离 (km)
func HaversineKm(a, b models.Coordinate) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat + math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// PathLengthKm 折线总长度 (km)，少于两个点时为 0
func PathLengthKm(path []models.Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += HaversineKm(path[i-1], path[i])
	}
	return total
}

// Bearing 从 a 到 b 的初始方位角，0-360 度，正北为 0
func Bearing(a, b models.Coordinate) float64 {
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := toDeg(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// ETA 按速度估算剩余时间；速度无效时返回 0
func ETA(distanceKm, speedKmh float64) time.Duration {
	if speedKmh <= 0 || distanceKm <= 0 || math.IsNaN(speedKmh) {
		return 0
	}
	return time.Duration(distanceKm / speedKmh * float64(time.Hour))
}

// MpsToKmh m/s 转 km/h
func MpsToKmh(mps float64) float64 {
	return mps * 3.6
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
