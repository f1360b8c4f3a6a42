package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/api/directions"
	"github.com/langchou/motonav/internal/models"
	"github.com/langchou/motonav/internal/state"
)

const stepDeg = 0.0009 // 约 100 m

var (
	origin      = models.NewCoordinate(14.7006, 120.9836)
	destination = models.NewCoordinate(14.7006+20*stepDeg, 120.9836)
	motor       = models.MotorProfile{ID: "motor-1", FuelEfficiencyKmPerLiter: 40, CurrentFuelLevel: 80}
)

// northRoute 从 from 向北每 100 m 一个顶点的直线路线
func northRoute(id string, from models.Coordinate, vertices int) models.Route {
	coords := make([]models.Coordinate, vertices)
	for i := range coords {
		coords[i] = models.NewCoordinate(from.Latitude+float64(i)*stepDeg, from.Longitude)
	}
	meters := float64(vertices-1) * 100
	return models.Route{
		ID:                 id,
		DistanceMeters:     meters,
		DurationSeconds:    meters / 10,
		FuelEstimateLiters: meters / 1000 / motor.FuelEfficiencyKmPerLiter,
		TrafficRate:        directions.PlaceholderTrafficRate,
		Coordinates:        coords,
	}
}

func routeSet(best models.Route) *models.RouteSet {
	return &models.RouteSet{
		Origin:       best.Coordinates[0],
		Destination:  destination,
		BestRoute:    best,
		Alternatives: directions.PadAlternatives([]models.Route{best}, directions.DefaultMinAlternatives),
	}
}

// fakeProvider 可控的路线服务：按调用序号返回结果，gate 非空时阻塞到放行
type fakeProvider struct {
	calls   atomic.Int32
	gate    chan struct{}
	respond func(call int, origin models.Coordinate) (*models.RouteSet, error)
}

func (f *fakeProvider) FetchRoutes(ctx context.Context, o, d models.Coordinate, m models.MotorProfile) (*models.RouteSet, error) {
	call := int(f.calls.Add(1))
	if f.gate != nil && call > 1 {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.respond(call, o)
}

func okProvider() *fakeProvider {
	return &fakeProvider{respond: func(call int, o models.Coordinate) (*models.RouteSet, error) {
		return routeSet(northRoute(fmt.Sprintf("route-%d", call), o, 21)), nil
	}}
}

type noteRecorder struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (r *noteRecorder) Notify(n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *noteRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.UserID = "user-1"
	cfg.RerouteBackoffInitial = time.Millisecond
	cfg.RerouteBackoffMax = 5 * time.Millisecond
	return cfg
}

func at(c models.Coordinate) models.Position {
	return models.Position{Coordinate: c, SpeedMps: 8}
}

// startedSession 请求路线、上报起点并开始导航
func startedSession(t *testing.T, p *fakeProvider, opts ...Option) *Session {
	t.Helper()
	s := NewSession(testConfig(), p, zap.NewNop(), opts...)
	_, err := s.RequestRoutes(context.Background(), origin, destination, motor)
	require.NoError(t, err)
	require.NoError(t, s.UpdatePosition(at(origin)))
	require.NoError(t, s.Start())
	require.Equal(t, state.StateNavigating, s.Status())
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return s
}

func TestRequestRoutesEntersSelecting(t *testing.T) {
	s := NewSession(testConfig(), okProvider(), zap.NewNop())

	set, err := s.RequestRoutes(context.Background(), origin, destination, motor)
	require.NoError(t, err)
	assert.Equal(t, state.StateSelecting, s.Status())
	assert.True(t, s.Active())
	assert.Len(t, set.Alternatives, 3)

	snap := s.Snapshot()
	require.NotNil(t, snap.ActiveRoute)
	assert.Equal(t, set.BestRoute.ID, snap.ActiveRoute.ID)
}

func TestRequestRoutesFailureStaysIdle(t *testing.T) {
	p := &fakeProvider{respond: func(int, models.Coordinate) (*models.RouteSet, error) {
		return nil, fmt.Errorf("%w: offline", directions.ErrNoConnectivity)
	}}
	s := NewSession(testConfig(), p, zap.NewNop())

	_, err := s.RequestRoutes(context.Background(), origin, destination, motor)
	assert.ErrorIs(t, err, directions.ErrNoConnectivity)
	assert.Equal(t, state.StateIdle, s.Status())
}

func TestRequestRoutesRejectsInvalidMotor(t *testing.T) {
	p := okProvider()
	s := NewSession(testConfig(), p, zap.NewNop())

	_, err := s.RequestRoutes(context.Background(), origin, destination, models.MotorProfile{ID: "m"})
	assert.Error(t, err)
	assert.Zero(t, p.calls.Load())
}

func TestStartWithoutRouteFails(t *testing.T) {
	s := NewSession(testConfig(), okProvider(), zap.NewNop())
	require.NoError(t, s.UpdatePosition(at(origin)))

	err := s.Start()
	assert.ErrorIs(t, err, ErrNoRouteSelected)
	assert.Equal(t, state.StateIdle, s.Status())
}

func TestStartWithoutPositionFails(t *testing.T) {
	s := NewSession(testConfig(), okProvider(), zap.NewNop())
	_, err := s.RequestRoutes(context.Background(), origin, destination, motor)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(), ErrNoPosition)
	assert.Equal(t, state.StateSelecting, s.Status())
}

func TestSelectRoute(t *testing.T) {
	s := NewSession(testConfig(), okProvider(), zap.NewNop())
	set, err := s.RequestRoutes(context.Background(), origin, destination, motor)
	require.NoError(t, err)

	alt := set.Alternatives[2]
	require.NoError(t, s.SelectRoute(alt.ID))
	assert.Equal(t, alt.ID, s.Snapshot().ActiveRoute.ID)
	assert.True(t, s.Snapshot().ActiveRoute.Synthetic)

	assert.ErrorIs(t, s.SelectRoute("nope"), ErrUnknownRoute)
}

func TestStartSeedsPathHistory(t *testing.T) {
	s := startedSession(t, okProvider())

	snap := s.Snapshot()
	assert.Equal(t, []models.Coordinate{origin}, snap.PathHistory)
	assert.False(t, snap.StartedAt.IsZero())
	assert.Zero(t, snap.RerouteCount)
}

func TestDuplicatePositionAppendsOnce(t *testing.T) {
	s := startedSession(t, okProvider())

	next := models.NewCoordinate(origin.Latitude+stepDeg, origin.Longitude)
	require.NoError(t, s.UpdatePosition(at(next)))
	require.NoError(t, s.UpdatePosition(at(next)))

	assert.Len(t, s.Snapshot().PathHistory, 2)
}

func TestDriftTriggersSingleReroute(t *testing.T) {
	p := okProvider()
	p.gate = make(chan struct{})
	s := startedSession(t, p)

	// 距第二个顶点 80 m
	drift := models.NewCoordinate(origin.Latitude+stepDeg, origin.Longitude+80/111139.0)
	require.NoError(t, s.UpdatePosition(at(drift)))
	assert.Equal(t, state.StateRerouting, s.Status())
	assert.Equal(t, 1, s.Snapshot().RerouteCount)

	further := models.NewCoordinate(drift.Latitude+0.0001, drift.Longitude)
	require.NoError(t, s.UpdatePosition(at(further)))

	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Snapshot().RerouteInFlight)
	assert.Equal(t, 1, s.Snapshot().RerouteCount)

	close(p.gate)
	require.Eventually(t, func() bool { return s.Status() == state.StateNavigating }, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, "route-2", snap.ActiveRoute.ID)
	assert.Equal(t, 1, snap.RerouteCount)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestRejoinDiscardsInFlightReroute(t *testing.T) {
	p := okProvider()
	p.gate = make(chan struct{})
	s := startedSession(t, p)

	drift := models.NewCoordinate(origin.Latitude+stepDeg, origin.Longitude+80/111139.0)
	require.NoError(t, s.UpdatePosition(at(drift)))
	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// 请求在途时回到路线上，无需等待新路线
	back := models.NewCoordinate(origin.Latitude+2*stepDeg, origin.Longitude)
	require.NoError(t, s.UpdatePosition(at(back)))
	assert.Equal(t, state.StateNavigating, s.Status())
	assert.Equal(t, 1, s.Snapshot().RerouteCount)

	close(p.gate)
	require.Eventually(t, func() bool { return !s.Snapshot().RerouteInFlight }, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, state.StateNavigating, snap.Status)
	assert.Equal(t, "route-1", snap.ActiveRoute.ID)
	assert.Equal(t, 1, snap.RerouteCount)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestNewDeviationReissuesStaleReroute(t *testing.T) {
	p := okProvider()
	p.gate = make(chan struct{})
	s := startedSession(t, p)

	first := models.NewCoordinate(origin.Latitude+stepDeg, origin.Longitude+80/111139.0)
	require.NoError(t, s.UpdatePosition(at(first)))
	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	back := models.NewCoordinate(origin.Latitude+2*stepDeg, origin.Longitude)
	require.NoError(t, s.UpdatePosition(at(back)))
	require.Equal(t, state.StateNavigating, s.Status())

	// 第一次请求仍未返回时再次偏航，不发起并发请求
	second := models.NewCoordinate(origin.Latitude+3*stepDeg, origin.Longitude+80/111139.0)
	require.NoError(t, s.UpdatePosition(at(second)))
	assert.Equal(t, state.StateRerouting, s.Status())
	assert.Equal(t, 2, s.Snapshot().RerouteCount)
	assert.EqualValues(t, 2, p.calls.Load())

	// 旧响应作废，从第二次偏航的位置补发
	close(p.gate)
	require.Eventually(t, func() bool { return s.Status() == state.StateNavigating }, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, "route-3", snap.ActiveRoute.ID)
	assert.True(t, snap.ActiveRoute.Coordinates[0].SamePoint(second))
	assert.Equal(t, 2, snap.RerouteCount)
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestRerouteRetriesThenGivesUp(t *testing.T) {
	p := &fakeProvider{respond: func(call int, o models.Coordinate) (*models.RouteSet, error) {
		if call == 1 {
			return routeSet(northRoute("route-1", o, 21)), nil
		}
		return nil, errors.New("provider down")
	}}
	notes := &noteRecorder{}
	s := startedSession(t, p, WithNotifier(notes))

	drift := models.NewCoordinate(origin.Latitude+stepDeg, origin.Longitude+80/111139.0)
	require.NoError(t, s.UpdatePosition(at(drift)))

	require.Eventually(t, func() bool { return s.Snapshot().RerouteGaveUp }, 2*time.Second, 5*time.Millisecond)
	// 首次请求 + 3 次重试
	assert.EqualValues(t, 1+1+testConfig().MaxRerouteRetries, p.calls.Load())
	assert.Equal(t, state.StateRerouting, s.Status())
	assert.Contains(t, notes.kinds(), models.NotifyUnableToReroute)

	// 放弃后仍然记录轨迹，回到路线上即恢复导航
	back := models.NewCoordinate(origin.Latitude+2*stepDeg, origin.Longitude)
	require.NoError(t, s.UpdatePosition(at(back)))
	assert.Equal(t, state.StateNavigating, s.Status())
	assert.Len(t, s.Snapshot().PathHistory, 3)
}

func TestStopDiscardsInFlightReroute(t *testing.T) {
	p := okProvider()
	p.gate = make(chan struct{})
	s := startedSession(t, p)

	drift := models.NewCoordinate(origin.Latitude+stepDeg, origin.Longitude+80/111139.0)
	require.NoError(t, s.UpdatePosition(at(drift)))
	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	close(p.gate)
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, state.StateCancelled, snap.Status)
	assert.Equal(t, "route-1", snap.ActiveRoute.ID)
	require.NotNil(t, snap.Summary)
	assert.False(t, snap.Summary.Arrived)
	assert.True(t, snap.Summary.WasRerouted)
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}

func TestArrival(t *testing.T) {
	notes := &noteRecorder{}
	var finished []models.TripSummary
	s := startedSession(t, okProvider(), WithNotifier(notes), WithFinishHook(func(sum models.TripSummary) {
		finished = append(finished, sum)
	}))
	sub := s.Subscribe()

	near := models.NewCoordinate(destination.Latitude-0.0002, destination.Longitude) // 约 22 m
	require.NoError(t, s.UpdatePosition(at(near)))

	assert.Equal(t, state.StateArrived, s.Status())
	require.Len(t, finished, 1)
	assert.True(t, finished[0].Arrived)
	assert.Equal(t, "user-1", finished[0].UserID)
	assert.Equal(t, "motor-1", finished[0].MotorID)
	assert.Contains(t, notes.kinds(), models.NotifyArrived)

	var last Snapshot
	for snap := range sub {
		last = snap
	}
	assert.Equal(t, state.StateArrived, last.Status)

	assert.ErrorIs(t, s.UpdatePosition(at(near)), ErrSessionFinished)
	_, err := s.RequestRoutes(context.Background(), origin, destination, motor)
	assert.ErrorIs(t, err, ErrSessionFinished)
	assert.ErrorIs(t, s.Stop(), ErrSessionFinished)
}

func TestStopFromIdleIsInvalid(t *testing.T) {
	s := NewSession(testConfig(), okProvider(), zap.NewNop())
	assert.False(t, s.Active())
	assert.ErrorIs(t, s.Stop(), ErrInvalidTransition)
	assert.Equal(t, state.StateIdle, s.Status())
}

func TestSnapshotLiveMetrics(t *testing.T) {
	s := startedSession(t, okProvider())

	mid := models.NewCoordinate(origin.Latitude+10*stepDeg, origin.Longitude)
	require.NoError(t, s.UpdatePosition(models.Position{Coordinate: mid, SpeedMps: 10}))

	snap := s.Snapshot()
	assert.InDelta(t, 1.0, snap.TraveledKm, 0.01)
	assert.InDelta(t, 1.0, snap.RemainingKm, 0.01)
	assert.InDelta(t, 36.0, snap.SpeedKmh, 1e-9)
	assert.InDelta(t, 100.0, snap.ETASeconds, 1.5)
}
