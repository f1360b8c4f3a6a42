// Package analytics 导航期间的周期性检查：油量、保养、换机油、怠速和里程成就。
// 检查只读取会话快照并发出通知，不修改会话状态。
package analytics

import (
	"math"
	"strings"
	"time"

	"github.com/langchou/motonav/internal/models"
)

const (
	// LowFuelPercent 低油量阈值 (%)
	LowFuelPercent = 20.0

	// MilestoneMeters 里程成就步长
	MilestoneMeters = 100.0

	// MaintenanceIntervalMonths 只知道上次保养日期时的保养间隔 (月)
	MaintenanceIntervalMonths = 6

	// DefaultIdleThreshold 超过该时长无位移视为怠速过久
	DefaultIdleThreshold = 30 * time.Second
)

// IsLowFuel 油量不高于 20%
func IsLowFuel(m models.MotorProfile) bool {
	return m.CurrentFuelLevel <= LowFuelPercent
}

// MaintenanceThresholdKm 按车龄确定的保养间隔里程，车龄未知时按新车处理
func MaintenanceThresholdKm(year int, now time.Time) float64 {
	if year <= 0 {
		return 5000
	}
	age := now.Year() - year
	switch {
	case age <= 3:
		return 5000
	case age <= 7:
		return 4000
	default:
		return 3000
	}
}

// KmSinceService 上次保养以来的里程，包含本次行程。没有保养时的里程表读数时 ok 为 false
func KmSinceService(m models.MotorProfile, tripKm float64) (km float64, ok bool) {
	if m.LastMaintenanceOdometer <= 0 {
		return 0, false
	}
	d := m.TotalDistance - m.LastMaintenanceOdometer + tripKm
	if d < 0 || math.IsNaN(d) {
		return tripKm, true
	}
	return d, true
}

// IsMaintenanceDue 优先按保养以来里程判断；没有里程读数时按上次保养日期，两者都没有时不提示
func IsMaintenanceDue(m models.MotorProfile, tripKm float64, now time.Time) bool {
	if km, ok := KmSinceService(m, tripKm); ok {
		return km >= MaintenanceThresholdKm(m.Year, now)
	}
	if m.LastMaintenanceDate == nil {
		return false
	}
	return MonthsBetween(*m.LastMaintenanceDate, now) >= MaintenanceIntervalMonths
}

// OilChangeIntervalMonths 按机油类型确定的更换间隔 (月)
func OilChangeIntervalMonths(oilType string) int {
	switch strings.ToLower(strings.ReplaceAll(oilType, "_", "-")) {
	case "synthetic", "fully-synthetic":
		return 6
	case "semi-synthetic":
		return 4
	default:
		return 3
	}
}

// IsOilChangeDue 距上次换油的月数达到间隔；没有换油记录时不提示
func IsOilChangeDue(m models.MotorProfile, now time.Time) bool {
	if m.LastOilChangeDate == nil {
		return false
	}
	return MonthsBetween(*m.LastOilChangeDate, now) >= OilChangeIntervalMonths(m.OilType)
}

// MonthsBetween 两个时间之间的完整月数
func MonthsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()-from.Month())
	if to.Day() < from.Day() {
		months--
	}
	return max(months, 0)
}

// IsIdle 超过 threshold 没有位移
func IsIdle(lastMovedAt, now time.Time, threshold time.Duration) bool {
	if lastMovedAt.IsZero() {
		return false
	}
	return now.Sub(lastMovedAt) > threshold
}

// MilestoneStep 已完成的 100 m 步数
func MilestoneStep(traveledKm float64) int {
	if traveledKm <= 0 || math.IsNaN(traveledKm) {
		return 0
	}
	return int(math.Floor(traveledKm * 1000 / MilestoneMeters))
}
