package directions

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/models"
)

const oneRouteResponse = `{
  "status": "OK",
  "geocoded_waypoints": [],
  "routes": [{
    "summary": "Rizal Ave",
    "overview_polyline": {"points": "_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@"},
    "legs": [{
      "distance": {"text": "2.0 km", "value": 2000},
      "duration": {"text": "5 mins", "value": 300},
      "duration_in_traffic": {"text": "6 mins", "value": 360},
      "steps": [
        {"html_instructions": "Head <b>north</b> on <b>Rizal Ave</b>", "distance": {"value": 1200}, "duration": {"value": 180}},
        {"html_instructions": "Turn left<div style=\"font-size:0.9em\">Destination will be on the right</div>", "distance": {"value": 800}, "duration": {"value": 120}}
      ]
    }]
  }]
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewAdapter(Config{APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return a
}

func testMotor() models.MotorProfile {
	return models.MotorProfile{ID: "motor-1", FuelEfficiencyKmPerLiter: 40}
}

var (
	testOrigin      = models.NewCoordinate(14.7006, 120.9836)
	testDestination = models.NewCoordinate(14.7186, 120.9836)
)

func TestFetchRoutesPadsSingleProviderRoute(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/directions/json", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("alternatives"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, oneRouteResponse)
	})

	set, err := a.FetchRoutes(context.Background(), testOrigin, testDestination, testMotor())
	require.NoError(t, err)

	assert.Equal(t, 2000.0, set.BestRoute.DistanceMeters)
	assert.Equal(t, 300.0, set.BestRoute.DurationSeconds)
	assert.InDelta(t, 2.0/40.0, set.BestRoute.FuelEstimateLiters, 1e-9)
	assert.Equal(t, 2, set.BestRoute.TrafficRate)
	assert.False(t, set.BestRoute.Synthetic)
	assert.Len(t, set.BestRoute.Coordinates, 3)
	assert.InDelta(t, 38.5, set.BestRoute.Coordinates[0].Latitude, 1e-6)
	assert.Equal(t, []string{
		"Head north on Rizal Ave",
		"Turn left Destination will be on the right",
	}, set.BestRoute.Instructions)

	require.Len(t, set.Alternatives, 3)
	assert.Equal(t, 2, set.SyntheticCount())
	assert.Equal(t, set.BestRoute.ID, set.Alternatives[0].ID)
	assert.InDelta(t, 2200.0, set.Alternatives[1].DistanceMeters, 1e-9)
	assert.InDelta(t, 2400.0, set.Alternatives[2].DistanceMeters, 1e-9)
	assert.True(t, set.Alternatives[1].Synthetic)
	assert.True(t, set.Alternatives[2].Synthetic)
	assert.Equal(t, set.BestRoute.ID+"-synthetic-1", set.Alternatives[1].ID)
}

func TestFetchRoutesZeroResults(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ZERO_RESULTS","routes":[]}`)
	})

	_, err := a.FetchRoutes(context.Background(), testOrigin, testDestination, testMotor())
	assert.ErrorIs(t, err, ErrNoRoutesFound)
	assert.False(t, IsRetryable(err))
}

func TestFetchRoutesEmptyRouteList(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"OK","routes":[]}`)
	})

	_, err := a.FetchRoutes(context.Background(), testOrigin, testDestination, testMotor())
	assert.ErrorIs(t, err, ErrNoRoutesFound)
}

func TestFetchRoutesProviderError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"REQUEST_DENIED","error_message":"bad key","routes":[]}`)
	})

	_, err := a.FetchRoutes(context.Background(), testOrigin, testDestination, testMotor())
	assert.ErrorIs(t, err, ErrProviderError)
	assert.True(t, IsRetryable(err))
}

func TestFetchRoutesNoConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := NewAdapter(Config{APIKey: "test-key", BaseURL: url}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.FetchRoutes(context.Background(), testOrigin, testDestination, testMotor())
	assert.ErrorIs(t, err, ErrNoConnectivity)
}

func TestFetchRoutesRejectsInvalidMotor(t *testing.T) {
	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	motor := testMotor()
	motor.FuelEfficiencyKmPerLiter = 0
	_, err := a.FetchRoutes(context.Background(), testOrigin, testDestination, motor)
	assert.ErrorIs(t, err, fuel.ErrInvalidMotorProfile)
	assert.Zero(t, calls.Load())
}

func TestTrafficRate(t *testing.T) {
	assert.Equal(t, PlaceholderTrafficRate, TrafficRate(300, 0))
	assert.Equal(t, 1, TrafficRate(300, 300))
	assert.Equal(t, 2, TrafficRate(300, 360))
	assert.Equal(t, 3, TrafficRate(300, 420))
	assert.Equal(t, 4, TrafficRate(300, 500))
	assert.Equal(t, 5, TrafficRate(300, 900))
}

func TestPadAlternativesKeepsRealRoutes(t *testing.T) {
	routes := []models.Route{{ID: "a", DistanceMeters: 100}, {ID: "b", DistanceMeters: 200}, {ID: "c", DistanceMeters: 300}, {ID: "d"}}
	out := PadAlternatives(routes, 3)
	require.Len(t, out, 4)
	for _, r := range out {
		assert.False(t, r.Synthetic)
	}

	out = PadAlternatives(routes[:2], 3)
	require.Len(t, out, 3)
	assert.Equal(t, "b-synthetic-2", out[2].ID)
	assert.InDelta(t, 240.0, out[2].DistanceMeters, 1e-9)

	assert.Empty(t, PadAlternatives(nil, 3))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Keep right at the fork", StripTags("Keep <b>right</b> at the fork"))
	assert.Equal(t, "plain text", StripTags("  plain   text "))
	assert.Equal(t, "A & B", StripTags("A &amp; B"))
}
