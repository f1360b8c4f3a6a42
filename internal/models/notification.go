package models

import "time"

// 通知类型
const (
	NotifyLowFuel         = "low_fuel"
	NotifyMaintenanceDue  = "maintenance_due"
	NotifyOilChangeDue    = "oil_change_due"
	NotifyIdleTooLong     = "idle_too_long"
	NotifyMilestone       = "milestone"
	NotifyUnableToReroute = "unable_to_reroute"
	NotifyRerouted        = "rerouted"
	NotifyArrived         = "arrived"
	NotifyTripSaveFailed  = "trip_save_failed"
)

// Notification 发给界面层的通知，由订阅方决定如何呈现
type Notification struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}
