package fuel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/motonav/internal/models"
)

func TestEstimateRange(t *testing.T) {
	r, err := EstimateRange(2, 40)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, r.Avg, 1e-12)
	assert.InDelta(t, 0.045, r.Min, 1e-12)
	assert.InDelta(t, 0.055, r.Max, 1e-12)
}

func TestEstimateRangeOrdering(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		dist := rnd.Float64() * 1000
		eff := 0.1 + rnd.Float64()*80
		r, err := EstimateRange(dist, eff)
		require.NoError(t, err)
		assert.LessOrEqual(t, r.Min, r.Avg)
		assert.LessOrEqual(t, r.Avg, r.Max)
	}
}

func TestEstimateRangeInvalidEfficiency(t *testing.T) {
	for _, eff := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := EstimateRange(10, eff)
		assert.ErrorIs(t, err, ErrInvalidMotorProfile, "efficiency %v", eff)
	}
}

func TestEstimateRangeInvalidDistance(t *testing.T) {
	_, err := EstimateRange(-1, 30)
	assert.ErrorIs(t, err, ErrInvalidDistance)
	_, err = EstimateRange(math.NaN(), 30)
	assert.ErrorIs(t, err, ErrInvalidDistance)
}

func TestValidateMotor(t *testing.T) {
	assert.NoError(t, ValidateMotor(models.MotorProfile{ID: "m1", FuelEfficiencyKmPerLiter: 35}))
	assert.ErrorIs(t, ValidateMotor(models.MotorProfile{FuelEfficiencyKmPerLiter: 35}), ErrInvalidMotorProfile)
	assert.ErrorIs(t, ValidateMotor(models.MotorProfile{ID: "m1"}), ErrInvalidMotorProfile)
}

func TestCalibrateEfficiency(t *testing.T) {
	samples := []RefuelSample{
		{DistanceKm: 150, Liters: 5},
		{DistanceKm: 300, Liters: 10},
		{DistanceKm: 240, Liters: 8},
		{DistanceKm: 90, Liters: 3},
	}
	eff, err := CalibrateEfficiency(samples)
	require.NoError(t, err)
	assert.InDelta(t, 30, eff, 1e-6)
}

func TestCalibrateEfficiencyNotEnoughSamples(t *testing.T) {
	_, err := CalibrateEfficiency([]RefuelSample{{DistanceKm: 100, Liters: 3}, {DistanceKm: 0, Liters: 2}})
	assert.ErrorIs(t, err, ErrNotEnoughSamples)
}
