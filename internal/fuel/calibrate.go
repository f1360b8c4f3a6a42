package fuel

import (
	"errors"
	"fmt"

	"github.com/sajari/regression"
)

// MinCalibrationSamples 拟合所需的最少加油记录数
const MinCalibrationSamples = 3

// ErrNotEnoughSamples 加油记录不足
var ErrNotEnoughSamples = errors.New("not enough refuel samples")

// RefuelSample 两次加油之间的行驶距离与加油量
type RefuelSample struct {
	DistanceKm float64 `json:"distance_km"`
	Liters     float64 `json:"liters"`
}

// CalibrateEfficiency 用加油历史拟合 km/L。
// 对 distance = a + b*liters 做线性回归，b 即每升行驶公里数。
func CalibrateEfficiency(samples []RefuelSample) (float64, error) {
	valid := make([]RefuelSample, 0, len(samples))
	for _, s := range samples {
		if s.DistanceKm > 0 && s.Liters > 0 {
			valid = append(valid, s)
		}
	}
	if len(valid) < MinCalibrationSamples {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughSamples, len(valid), MinCalibrationSamples)
	}

	r := new(regression.Regression)
	r.SetObserved("distance_km")
	r.SetVar(0, "liters")
	for _, s := range valid {
		r.Train(regression.DataPoint(s.DistanceKm, []float64{s.Liters}))
	}
	if err := r.Run(); err != nil {
		return 0, fmt.Errorf("run regression: %w", err)
	}

	slope := r.Coeff(1)
	if err := ValidateEfficiency(slope); err != nil {
		return 0, err
	}
	return slope, nil
}
