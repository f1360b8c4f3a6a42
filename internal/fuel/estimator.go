// Package fuel 根据距离和车辆油耗档案估算油耗区间
package fuel

import (
	"errors"
	"fmt"
	"math"

	"github.com/langchou/motonav/internal/models"
)

var (
	// ErrInvalidMotorProfile 车辆油耗效率无效 (必须 > 0)
	ErrInvalidMotorProfile = errors.New("invalid motor profile")

	// ErrInvalidDistance 距离为负或非数值
	ErrInvalidDistance = errors.New("invalid distance")
)

const (
	// RangeLowFactor 区间下限系数
	RangeLowFactor = 0.9
	// RangeHighFactor 区间上限系数
	RangeHighFactor = 1.1
)

// EstimateRange 估算油耗区间: avg = distance/efficiency, min = avg*0.9, max = avg*1.1
func EstimateRange(distanceKm, efficiencyKmPerLiter float64) (models.FuelRange, error) {
	if err := ValidateEfficiency(efficiencyKmPerLiter); err != nil {
		return models.FuelRange{}, err
	}
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return models.FuelRange{}, fmt.Errorf("%w: %v km", ErrInvalidDistance, distanceKm)
	}

	avg := distanceKm / efficiencyKmPerLiter
	return models.FuelRange{
		Min: avg * RangeLowFactor,
		Avg: avg,
		Max: avg * RangeHighFactor,
	}, nil
}

// Liters 单点油耗估算
func Liters(distanceKm, efficiencyKmPerLiter float64) (float64, error) {
	r, err := EstimateRange(distanceKm, efficiencyKmPerLiter)
	if err != nil {
		return 0, err
	}
	return r.Avg, nil
}

// ValidateEfficiency 校验油耗效率
func ValidateEfficiency(efficiencyKmPerLiter float64) error {
	if !(efficiencyKmPerLiter > 0) || math.IsInf(efficiencyKmPerLiter, 0) {
		return fmt.Errorf("%w: fuel efficiency %v km/L", ErrInvalidMotorProfile, efficiencyKmPerLiter)
	}
	return nil
}

// ValidateMotor 校验车辆档案
func ValidateMotor(motor models.MotorProfile) error {
	if motor.ID == "" {
		return fmt.Errorf("%w: missing motor id", ErrInvalidMotorProfile)
	}
	return ValidateEfficiency(motor.FuelEfficiencyKmPerLiter)
}
