package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.ServerPort)
	assert.Equal(t, 3, cfg.MinAlternatives)
	assert.Equal(t, 50.0, cfg.OffRouteThresholdMeters)
	assert.Equal(t, 3, cfg.RerouteMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RerouteBackoffInitial)
	assert.Equal(t, 30*time.Second, cfg.RerouteBackoffMax)
	assert.Equal(t, "outbox.db", cfg.OutboxPath)
	assert.Empty(t, cfg.RouteAvoid)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DEBUG", "true")
	t.Setenv("ROUTE_AVOID", "tolls, ferries,")
	t.Setenv("OFF_ROUTE_THRESHOLD_M", "75.5")
	t.Setenv("REROUTE_MAX_RETRIES", "5")
	t.Setenv("IDLE_THRESHOLD", "45s")
	t.Setenv("MIN_ALTERNATIVES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"tolls", "ferries"}, cfg.RouteAvoid)
	assert.Equal(t, 75.5, cfg.OffRouteThresholdMeters)
	assert.Equal(t, 5, cfg.RerouteMaxRetries)
	assert.Equal(t, 45*time.Second, cfg.IdleThreshold)
	assert.Equal(t, 3, cfg.MinAlternatives)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("REROUTE_BACKOFF_FACTOR", "0.5")

	_, err := Load()
	assert.Error(t, err)
}
