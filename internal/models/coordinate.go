package models

import (
	"fmt"
	"math"
	"time"
)

// Coordinate 经纬度坐标，地址可通过逆地理编码附加
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// NewCoordinate 创建坐标
func NewCoordinate(lat, lng float64) Coordinate {
	return Coordinate{Latitude: lat, Longitude: lng}
}

// SamePoint 经纬度完全相等（忽略地址）
func (c Coordinate) SamePoint(o Coordinate) bool {
	return c.Latitude == o.Latitude && c.Longitude == o.Longitude
}

// WithAddress 返回附加了地址的副本
func (c Coordinate) WithAddress(address string) Coordinate {
	c.Address = address
	return c
}

// Validate 校验经纬度范围
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return fmt.Errorf("coordinate is NaN")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", c.Longitude)
	}
	return nil
}

// String 返回 "lat,lng" 格式，供路线服务请求使用
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Position 设备上报的一次定位
type Position struct {
	Coordinate
	SpeedMps   float64   `json:"speed"` // m/s，设备未提供时为 0
	RecordedAt time.Time `json:"recorded_at"`
}
