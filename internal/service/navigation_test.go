package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/api/backend"
	"github.com/langchou/motonav/internal/api/directions"
	"github.com/langchou/motonav/internal/config"
	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/metrics"
	"github.com/langchou/motonav/internal/models"
	"github.com/langchou/motonav/internal/navigation"
	"github.com/langchou/motonav/internal/notify"
	"github.com/langchou/motonav/internal/outbox"
	"github.com/langchou/motonav/internal/state"
)

var (
	origin = models.NewCoordinate(14.6000, 121.0000)
	motor  = models.MotorProfile{ID: "m1", FuelEfficiencyKmPerLiter: 40, CurrentFuelLevel: 80}
)

// straightRoute 向北 1 km，每 100 m 一个顶点
func straightRoute() models.Route {
	coords := make([]models.Coordinate, 11)
	for i := range coords {
		coords[i] = models.NewCoordinate(origin.Latitude+float64(i)*0.0009, origin.Longitude)
	}
	return models.Route{
		ID:                 "route-1",
		DistanceMeters:     1000,
		DurationSeconds:    100,
		FuelEstimateLiters: 0.025,
		TrafficRate:        directions.PlaceholderTrafficRate,
		Coordinates:        coords,
	}
}

type stubProvider struct{}

func (stubProvider) FetchRoutes(_ context.Context, o, d models.Coordinate, _ models.MotorProfile) (*models.RouteSet, error) {
	best := straightRoute()
	return &models.RouteSet{
		Origin:       o,
		Destination:  d,
		BestRoute:    best,
		Alternatives: directions.PadAlternatives([]models.Route{best}, directions.DefaultMinAlternatives),
	}, nil
}

type fakeBackend struct {
	mu          sync.Mutex
	failSaves   bool
	trips       []models.TripSummary
	maintenance []backend.MaintenanceRecord
}

func (b *fakeBackend) SaveTrip(_ context.Context, trip models.TripSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSaves {
		return backend.ErrTripSaveFailed
	}
	b.trips = append(b.trips, trip)
	return nil
}

func (b *fakeBackend) SaveMaintenance(_ context.Context, r backend.MaintenanceRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSaves {
		return backend.ErrMaintenanceSaveFailed
	}
	b.maintenance = append(b.maintenance, r)
	return nil
}

func (b *fakeBackend) ListMotors(context.Context, string) ([]models.MotorProfile, error) {
	return []models.MotorProfile{motor}, nil
}

func (b *fakeBackend) FindMotor(_ context.Context, _ string, id string) (models.MotorProfile, error) {
	if id != motor.ID {
		return models.MotorProfile{}, errors.New("not found")
	}
	return motor, nil
}

func (b *fakeBackend) tripCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trips)
}

type fakeJournal struct {
	mu          sync.Mutex
	trips       []models.TripRecord
	maintenance []*models.MaintenanceEntry
	samples     []fuel.RefuelSample
}

func (j *fakeJournal) RecordTrip(_ context.Context, trip models.TripSummary, synced bool) (*models.TripRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := models.TripRecord{ID: int64(len(j.trips) + 1), TripSummary: trip, Synced: synced}
	j.trips = append(j.trips, rec)
	return &rec, nil
}

func (j *fakeJournal) RecordMaintenance(_ context.Context, e *models.MaintenanceEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.maintenance = append(j.maintenance, e)
	return nil
}

func (j *fakeJournal) RefuelSamples(context.Context, string) ([]fuel.RefuelSample, error) {
	return j.samples, nil
}

func (j *fakeJournal) recorded() []models.TripRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.TripRecord(nil), j.trips...)
}

type noteSink struct {
	mu    sync.Mutex
	kinds []string
}

func (n *noteSink) Notify(note models.Notification) {
	n.mu.Lock()
	n.kinds = append(n.kinds, note.Kind)
	n.mu.Unlock()
}

func (n *noteSink) has(kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	svc     *NavigationService
	backend *fakeBackend
	journal *fakeJournal
	outbox  *outbox.Store
	notes   *noteSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		UserID:                  "u1",
		OffRouteThresholdMeters: 50,
		ArrivalThresholdMeters:  50,
		RerouteMaxRetries:       1,
		RerouteBackoffInitial:   time.Millisecond,
		RerouteBackoffFactor:    2,
		RerouteBackoffMax:       5 * time.Millisecond,
		AnalyticsInterval:       time.Hour,
		IdleThreshold:           time.Minute,
		OutboxFlushInterval:     time.Hour,
	}

	store, err := outbox.Open(filepath.Join(t.TempDir(), "outbox.db"), zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		backend: &fakeBackend{},
		journal: &fakeJournal{},
		outbox:  store,
		notes:   &noteSink{},
	}
	h.svc = NewNavigationService(cfg, zap.NewNop(), Deps{
		Provider: stubProvider{},
		Backend:  h.backend,
		Outbox:   store,
		Journal:  h.journal,
		Notifier: notify.NewDispatcher(zap.NewNop(), h.notes),
		Metrics:  metrics.New(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		store.Close()
	})
	return h
}

func startNavigation(t *testing.T, h *harness) {
	t.Helper()
	set, err := h.svc.PlanRoutes(context.Background(), RouteRequest{
		Origin:      origin,
		Destination: straightRoute().Destination(),
		MotorID:     motor.ID,
	})
	require.NoError(t, err)
	assert.Len(t, set.Alternatives, 3)

	require.NoError(t, h.svc.StartNavigation(&models.Position{Coordinate: origin, SpeedMps: 10}))
	assert.Equal(t, state.StateNavigating, h.svc.Snapshot().Status)
}

func TestNoSession(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, state.StateIdle, h.svc.Snapshot().Status)
	assert.ErrorIs(t, h.svc.SelectRoute("route-1"), ErrNoSession)
	assert.ErrorIs(t, h.svc.StartNavigation(nil), ErrNoSession)
	assert.ErrorIs(t, h.svc.StopNavigation(), ErrNoSession)
	assert.ErrorIs(t, h.svc.PushPosition(context.Background(), models.Position{Coordinate: origin}), ErrNoSession)
}

func TestPlanRoutesRequiresMotor(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.PlanRoutes(context.Background(), RouteRequest{Origin: origin, Destination: origin})
	assert.ErrorIs(t, err, ErrMotorRequired)

	_, err = h.svc.PlanRoutes(context.Background(), RouteRequest{Origin: origin, Destination: origin, MotorID: "unknown"})
	assert.Error(t, err)
	assert.Equal(t, state.StateIdle, h.svc.Snapshot().Status)
}

func TestArrivalPersistsTrip(t *testing.T) {
	h := newHarness(t)
	startNavigation(t, h)

	_, err := h.svc.PlanRoutes(context.Background(), RouteRequest{Origin: origin, Destination: origin, MotorID: motor.ID})
	assert.ErrorIs(t, err, ErrNavigationActive)

	dest := straightRoute().Destination()
	require.NoError(t, h.svc.PushPosition(context.Background(), models.Position{Coordinate: dest, SpeedMps: 10}))

	require.Eventually(t, func() bool {
		return h.svc.Snapshot().Status == state.StateArrived
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.backend.tripCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.journal.recorded()) == 1 }, 2*time.Second, 5*time.Millisecond)

	trip := h.journal.recorded()[0]
	assert.True(t, trip.Synced)
	assert.True(t, trip.Arrived)
	assert.Equal(t, "m1", trip.MotorID)
	assert.Equal(t, "u1", trip.UserID)
	assert.True(t, h.notes.has(models.NotifyArrived))

	n, err := h.outbox.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, h.svc.PushPosition(context.Background(), models.Position{Coordinate: dest}), navigation.ErrSessionFinished)
}

func TestFailedSaveGoesToOutbox(t *testing.T) {
	h := newHarness(t)
	h.backend.failSaves = true
	startNavigation(t, h)

	require.NoError(t, h.svc.StopNavigation())
	assert.Equal(t, state.StateCancelled, h.svc.Snapshot().Status)

	require.Eventually(t, func() bool { return len(h.journal.recorded()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.journal.recorded()[0].Synced)
	assert.False(t, h.journal.recorded()[0].Arrived)
	assert.True(t, h.notes.has(models.NotifyTripSaveFailed))

	entries, err := h.outbox.Pending()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, outbox.KindTrip, entries[0].Kind)

	// 上一会话结束后可以开始新的会话
	first := h.svc.Snapshot().SessionID
	_, err = h.svc.PlanRoutes(context.Background(), RouteRequest{Origin: origin, Destination: origin, MotorID: motor.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first, h.svc.Snapshot().SessionID)
	assert.Equal(t, state.StateSelecting, h.svc.Snapshot().Status)
}

func TestRecordMaintenanceDuringNavigation(t *testing.T) {
	h := newHarness(t)
	startNavigation(t, h)

	liters := 3.5
	entry, err := h.svc.RecordMaintenance(context.Background(), "", models.MaintenanceAction{
		Type:     models.MaintenanceRefuel,
		Cost:     220,
		Quantity: &liters,
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", entry.MotorID)
	assert.Equal(t, h.svc.Snapshot().SessionID, entry.SessionID)
	assert.True(t, entry.Location.SamePoint(origin))
	assert.False(t, entry.Timestamp.IsZero())
	assert.True(t, entry.Synced)
	require.Len(t, h.backend.maintenance, 1)
	assert.Equal(t, "refuel", h.backend.maintenance[0].Type)

	_, err = h.svc.RecordMaintenance(context.Background(), "", models.MaintenanceAction{Type: "wash"})
	assert.Error(t, err)
}

func TestRecordMaintenanceWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.backend.failSaves = true

	_, err := h.svc.RecordMaintenance(context.Background(), "", models.MaintenanceAction{Type: models.MaintenanceOilChange})
	assert.ErrorIs(t, err, ErrMotorRequired)

	entry, err := h.svc.RecordMaintenance(context.Background(), "m2", models.MaintenanceAction{Type: models.MaintenanceOilChange, Cost: 450})
	require.NoError(t, err)
	assert.False(t, entry.Synced)
	assert.Empty(t, entry.SessionID)

	entries, err := h.outbox.Pending()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, outbox.KindMaintenance, entries[0].Kind)
}

func TestCalibrateEfficiency(t *testing.T) {
	h := newHarness(t)
	h.journal.samples = []fuel.RefuelSample{
		{DistanceKm: 100, Liters: 2.5},
		{DistanceKm: 200, Liters: 5},
		{DistanceKm: 160, Liters: 4},
	}

	kmPerLiter, n, err := h.svc.CalibrateEfficiency(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.InDelta(t, 40, kmPerLiter, 0.001)

	_, _, err = h.svc.CalibrateEfficiency(context.Background(), "")
	assert.ErrorIs(t, err, ErrMotorRequired)
}

func TestDisabledDependencies(t *testing.T) {
	svc := NewNavigationService(&config.Config{AnalyticsInterval: time.Hour}, zap.NewNop(), Deps{Provider: stubProvider{}})

	_, err := svc.ListMotors(context.Background())
	assert.ErrorIs(t, err, ErrBackendDisabled)
	_, _, err = svc.CalibrateEfficiency(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrJournalDisabled)
	_, err = svc.PlanRoutes(context.Background(), RouteRequest{Origin: origin, Destination: origin, MotorID: "m1"})
	assert.ErrorIs(t, err, ErrBackendDisabled)

	set, err := svc.PlanRoutes(context.Background(), RouteRequest{Origin: origin, Destination: origin, Motor: &motor})
	require.NoError(t, err)
	assert.Equal(t, "route-1", set.BestRoute.ID)
}
