package models

import (
	"fmt"
	"time"
)

// MaintenanceType 保养类型
type MaintenanceType string

const (
	MaintenanceRefuel    MaintenanceType = "refuel"
	MaintenanceOilChange MaintenanceType = "oil_change"
	MaintenanceTuneUp    MaintenanceType = "tune_up"
)

// Valid 是否为已知类型
func (t MaintenanceType) Valid() bool {
	switch t {
	case MaintenanceRefuel, MaintenanceOilChange, MaintenanceTuneUp:
		return true
	}
	return false
}

// MaintenanceAction 行程中临时记录的保养动作，与行程生命周期无关
type MaintenanceAction struct {
	Type      MaintenanceType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Location  Coordinate      `json:"location"`
	Cost      float64         `json:"cost"`
	Quantity  *float64        `json:"quantity,omitempty"` // 加油量 (升)
	Notes     string          `json:"notes,omitempty"`
}

// Validate 校验保养动作
func (m MaintenanceAction) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("unknown maintenance type %q", m.Type)
	}
	if m.Cost < 0 {
		return fmt.Errorf("cost must not be negative")
	}
	if m.Quantity != nil && *m.Quantity < 0 {
		return fmt.Errorf("quantity must not be negative")
	}
	return nil
}

// MaintenanceEntry 本地日志中的保养记录
type MaintenanceEntry struct {
	ID        int64  `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	MotorID   string `json:"motor_id" db:"motor_id"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`
	MaintenanceAction
	Synced bool `json:"synced" db:"synced"`
}
