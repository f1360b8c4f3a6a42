package models

import "time"

// MotorProfile 摩托车档案（来自后端车辆登记，引擎只读）
type MotorProfile struct {
	ID                       string     `json:"id"`
	UserID                   string     `json:"userId,omitempty"`
	Nickname                 string     `json:"nickname,omitempty"`
	Year                     int        `json:"year,omitempty"` // 出厂年份，用于保养里程阈值
	FuelEfficiencyKmPerLiter float64    `json:"fuelEfficiency"`
	FuelType                 string     `json:"fuelType,omitempty"`
	OilType                  string     `json:"oilType,omitempty"` // mineral, semi-synthetic, synthetic
	CurrentFuelLevel         float64    `json:"currentFuelLevel"`  // 百分比 0-100
	TotalDistance            float64    `json:"totalDistance"`     // km
	LastMaintenanceOdometer  float64    `json:"lastMaintenanceOdometer,omitempty"`
	LastMaintenanceDate      *time.Time `json:"lastMaintenanceDate,omitempty"`
	LastOilChangeDate        *time.Time `json:"lastOilChangeDate,omitempty"`
}

// FuelRange 油耗估算区间 (升)
type FuelRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}
