// Package service 组装导航会话、定位、分析监控和持久化
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/analytics"
	"github.com/langchou/motonav/internal/api/backend"
	"github.com/langchou/motonav/internal/api/directions"
	"github.com/langchou/motonav/internal/config"
	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/location"
	"github.com/langchou/motonav/internal/metrics"
	"github.com/langchou/motonav/internal/models"
	"github.com/langchou/motonav/internal/navigation"
	"github.com/langchou/motonav/internal/notify"
	"github.com/langchou/motonav/internal/outbox"
	"github.com/langchou/motonav/internal/state"
)

// 服务错误
var (
	ErrNoSession        = errors.New("no navigation session")
	ErrNavigationActive = errors.New("navigation already in progress")
	ErrMotorRequired    = errors.New("motor id is required")
	ErrBackendDisabled  = errors.New("backend is not configured")
	ErrJournalDisabled  = errors.New("trip journal is not configured")
)

const persistTimeout = 30 * time.Second

// Backend 后端同步
type Backend interface {
	outbox.Sender
	ListMotors(ctx context.Context, userID string) ([]models.MotorProfile, error)
	FindMotor(ctx context.Context, userID, motorID string) (models.MotorProfile, error)
}

// TripJournal 本地行程日志
type TripJournal interface {
	RecordTrip(ctx context.Context, trip models.TripSummary, synced bool) (*models.TripRecord, error)
	RecordMaintenance(ctx context.Context, entry *models.MaintenanceEntry) error
	RefuelSamples(ctx context.Context, motorID string) ([]fuel.RefuelSample, error)
}

// Geocoder 为坐标补全地址
type Geocoder interface {
	Resolve(ctx context.Context, coord models.Coordinate) models.Coordinate
}

// SnapshotBroadcaster 推送会话快照
type SnapshotBroadcaster interface {
	BroadcastSnapshot(snapshot interface{})
}

// Deps 服务依赖，除 Provider 外均可为空
type Deps struct {
	Provider    directions.Provider
	Backend     Backend
	Outbox      *outbox.Store
	Journal     TripJournal
	Geocoder    Geocoder
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	Broadcaster SnapshotBroadcaster

	// Source 自动定位来源，为空时使用 Manual
	Source location.Source
	Manual *location.ManualSource
}

// RouteRequest 路线请求
type RouteRequest struct {
	Origin      models.Coordinate    `json:"origin"`
	Destination models.Coordinate    `json:"destination"`
	MotorID     string               `json:"motorId"`
	Motor       *models.MotorProfile `json:"motor,omitempty"` // 直接提供档案时不查询后端
}

// NavigationService 导航服务，同一时间只有一个会话
type NavigationService struct {
	cfg     *config.Config
	logger  *zap.Logger
	deps    Deps
	monitor *analytics.Monitor

	ctx    context.Context // 服务生命周期，Run 退出时取消
	cancel context.CancelFunc

	mu      sync.Mutex
	session *navigation.Session
	wg      sync.WaitGroup
}

// NewNavigationService 创建导航服务
func NewNavigationService(cfg *config.Config, logger *zap.Logger, deps Deps) *NavigationService {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop
	}
	if deps.Manual == nil {
		deps.Manual = location.NewManualSource(16)
	}
	if deps.Metrics != nil {
		deps.Provider = deps.Metrics.InstrumentProvider(deps.Provider)
	}

	svc := &NavigationService{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
	}
	svc.ctx, svc.cancel = context.WithCancel(context.Background())
	svc.monitor = analytics.NewMonitor(analytics.Config{
		Interval:      cfg.AnalyticsInterval,
		IdleThreshold: cfg.IdleThreshold,
	}, deps.Notifier, logger)
	return svc
}

// Run 运行分析监控和 outbox 重发，ctx 结束时停止当前会话并等待持久化完成
func (s *NavigationService) Run(ctx context.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(ctx, s)
	}()

	if s.deps.Outbox != nil && s.deps.Backend != nil {
		s.updateOutboxGauge()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deps.Outbox.Run(ctx, s.deps.Backend, s.cfg.OutboxFlushInterval, func(pending int) {
				if s.deps.Metrics != nil {
					s.deps.Metrics.SetOutboxPending(pending)
				}
			})
		}()
	}

	<-ctx.Done()

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess != nil && sess.Active() {
		if err := sess.Stop(); err != nil {
			s.logger.Warn("Failed to stop session on shutdown", zap.Error(err))
		}
	}
	s.cancel()

	s.wg.Wait()
	s.logger.Info("Navigation service stopped")
	return nil
}

func (s *NavigationService) updateOutboxGauge() {
	if s.deps.Outbox == nil || s.deps.Metrics == nil {
		return
	}
	n, err := s.deps.Outbox.Len()
	if err != nil {
		s.logger.Warn("Failed to read outbox size", zap.Error(err))
		return
	}
	s.deps.Metrics.SetOutboxPending(n)
}

// Snapshot 当前会话快照，没有会话时为 idle
func (s *NavigationService) Snapshot() navigation.Snapshot {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return navigation.Snapshot{Status: state.StateIdle}
	}
	return sess.Snapshot()
}

// current 返回当前会话
func (s *NavigationService) current() (*navigation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	return s.session, nil
}

// PlanRoutes 获取路线。没有会话或上一会话已结束时新建会话并开始定位
func (s *NavigationService) PlanRoutes(ctx context.Context, req RouteRequest) (*models.RouteSet, error) {
	motor, err := s.resolveMotor(ctx, req)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessionForPlanning()
	if err != nil {
		return nil, err
	}

	origin, destination := req.Origin, req.Destination
	if s.deps.Geocoder != nil {
		origin = s.deps.Geocoder.Resolve(ctx, origin)
		destination = s.deps.Geocoder.Resolve(ctx, destination)
	}

	return sess.RequestRoutes(ctx, origin, destination, motor)
}

func (s *NavigationService) resolveMotor(ctx context.Context, req RouteRequest) (models.MotorProfile, error) {
	if req.Motor != nil {
		return *req.Motor, nil
	}
	if req.MotorID == "" {
		return models.MotorProfile{}, ErrMotorRequired
	}
	if s.deps.Backend == nil {
		return models.MotorProfile{}, ErrBackendDisabled
	}
	motor, err := s.deps.Backend.FindMotor(ctx, s.cfg.UserID, req.MotorID)
	if err != nil {
		return models.MotorProfile{}, fmt.Errorf("find motor: %w", err)
	}
	return motor, nil
}

// sessionForPlanning 复用 idle/selecting 会话，否则新建
func (s *NavigationService) sessionForPlanning() (*navigation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		switch s.session.Status() {
		case state.StateIdle, state.StateSelecting:
			return s.session, nil
		case state.StateNavigating, state.StateRerouting:
			return nil, ErrNavigationActive
		}
	}

	sess := s.newSessionLocked()
	if err := s.startTrackingLocked(sess); err != nil {
		return nil, err
	}
	s.broadcastLocked(sess)
	s.session = sess
	return sess, nil
}

func (s *NavigationService) newSessionLocked() *navigation.Session {
	cfg := navigation.Config{
		UserID:                  s.cfg.UserID,
		OffRouteThresholdMeters: s.cfg.OffRouteThresholdMeters,
		ArrivalThresholdMeters:  s.cfg.ArrivalThresholdMeters,
		MaxRerouteRetries:       s.cfg.RerouteMaxRetries,
		RerouteBackoffInitial:   s.cfg.RerouteBackoffInitial,
		RerouteBackoffFactor:    s.cfg.RerouteBackoffFactor,
		RerouteBackoffMax:       s.cfg.RerouteBackoffMax,
	}
	opts := []navigation.Option{
		navigation.WithNotifier(s.deps.Notifier),
		navigation.WithFinishHook(s.onTripFinished),
	}
	if s.deps.Metrics != nil {
		opts = append(opts, navigation.WithTransitionHook(s.deps.Metrics.ObserveTransition))
	}

	sess := navigation.NewSession(cfg, s.deps.Provider, s.logger, opts...)
	s.logger.Info("Navigation session created", zap.String("session_id", sess.ID()))
	return sess
}

// broadcastLocked 推送会话快照直到会话结束或服务退出
func (s *NavigationService) broadcastLocked(sess *navigation.Session) {
	if s.deps.Broadcaster == nil {
		return
	}
	snaps := sess.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				s.deps.Broadcaster.BroadcastSnapshot(snap)
			}
		}
	}()
}

// startTrackingLocked 在会话存续期间把定位转发给会话
func (s *NavigationService) startTrackingLocked(sess *navigation.Session) error {
	src := s.deps.Source
	if src == nil {
		src = s.deps.Manual
	}
	tracker := location.NewTracker(src, location.Options{}, s.logger)

	// 会话结束或服务退出时定位随之取消
	trackCtx, cancel := context.WithCancel(sess.Context())
	stop := context.AfterFunc(s.ctx, cancel)

	sub, err := tracker.Start(trackCtx)
	if err != nil {
		stop()
		cancel()
		return fmt.Errorf("start location tracking: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		defer cancel()
		for p := range sub.C {
			if s.deps.Metrics != nil {
				s.deps.Metrics.ObservePosition()
			}
			if err := sess.UpdatePosition(p); err != nil {
				if errors.Is(err, navigation.ErrSessionFinished) {
					return
				}
				s.logger.Warn("Position rejected", zap.String("session_id", sess.ID()), zap.Error(err))
			}
		}
	}()
	return nil
}

// SelectRoute 选择路线
func (s *NavigationService) SelectRoute(routeID string) error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	return sess.SelectRoute(routeID)
}

// StartNavigation 开始导航，pos 不为空时先作为当前位置
func (s *NavigationService) StartNavigation(pos *models.Position) error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	if pos != nil {
		if err := sess.UpdatePosition(*pos); err != nil {
			return err
		}
	}
	return sess.Start()
}

// PushPosition 手动注入定位。使用手动来源时经过 Tracker，否则直接交给会话
func (s *NavigationService) PushPosition(ctx context.Context, p models.Position) error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	if state.IsTerminal(sess.Status()) {
		return navigation.ErrSessionFinished
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if s.deps.Source == nil {
		return s.deps.Manual.Push(ctx, p)
	}
	return sess.UpdatePosition(p)
}

// StopNavigation 结束当前会话
func (s *NavigationService) StopNavigation() error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	return sess.Stop()
}

// onTripFinished 会话结束回调，在后台写入后端和本地日志
func (s *NavigationService) onTripFinished(trip models.TripSummary) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveTrip(trip)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		s.persistTrip(ctx, trip)
	}()
}

// persistTrip 写入后端，失败时进入 outbox，会话结果不回滚
func (s *NavigationService) persistTrip(ctx context.Context, trip models.TripSummary) {
	synced := false
	if s.deps.Backend != nil {
		err := s.deps.Backend.SaveTrip(ctx, trip)
		synced = err == nil
		if err != nil {
			s.logger.Error("Failed to save trip to backend",
				zap.String("session_id", trip.SessionID),
				zap.Error(err))
			s.deps.Notifier.Notify(models.Notification{
				Kind:      models.NotifyTripSaveFailed,
				SessionID: trip.SessionID,
				Message:   "Trip could not be saved, it will be retried",
				At:        time.Now(),
			})
			if s.deps.Outbox != nil {
				if _, qerr := s.deps.Outbox.EnqueueTrip(trip, err); qerr != nil {
					s.logger.Error("Failed to enqueue trip", zap.Error(qerr))
				}
				s.updateOutboxGauge()
			}
		}
	}

	if s.deps.Journal != nil {
		if _, err := s.deps.Journal.RecordTrip(ctx, trip, synced); err != nil {
			s.logger.Error("Failed to record trip in journal",
				zap.String("session_id", trip.SessionID),
				zap.Error(err))
		}
	}
}

// RecordMaintenance 记录保养动作，与行程生命周期无关。motorID 为空时使用当前会话的车辆
func (s *NavigationService) RecordMaintenance(ctx context.Context, motorID string, action models.MaintenanceAction) (*models.MaintenanceEntry, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	var sessionID string
	snap := s.Snapshot()
	if snap.SessionID != "" && !state.IsTerminal(snap.Status) {
		sessionID = snap.SessionID
		if motorID == "" {
			motorID = snap.Motor.ID
		}
		if action.Location == (models.Coordinate{}) && snap.Current != nil {
			action.Location = snap.Current.Coordinate
		}
	}
	if motorID == "" {
		return nil, ErrMotorRequired
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}

	entry := &models.MaintenanceEntry{
		UserID:            s.cfg.UserID,
		MotorID:           motorID,
		SessionID:         sessionID,
		MaintenanceAction: action,
	}

	if s.deps.Backend != nil {
		record := backend.NewMaintenanceRecord(s.cfg.UserID, motorID, action)
		err := s.deps.Backend.SaveMaintenance(ctx, record)
		entry.Synced = err == nil
		if err != nil {
			s.logger.Error("Failed to save maintenance record",
				zap.String("motor_id", motorID),
				zap.String("type", string(action.Type)),
				zap.Error(err))
			if s.deps.Outbox != nil {
				if _, qerr := s.deps.Outbox.EnqueueMaintenance(record, err); qerr != nil {
					s.logger.Error("Failed to enqueue maintenance record", zap.Error(qerr))
				}
				s.updateOutboxGauge()
			}
		}
	}

	if s.deps.Journal != nil {
		if err := s.deps.Journal.RecordMaintenance(ctx, entry); err != nil {
			s.logger.Error("Failed to record maintenance in journal", zap.Error(err))
		}
	}
	return entry, nil
}

// ListMotors 当前用户的车辆
func (s *NavigationService) ListMotors(ctx context.Context) ([]models.MotorProfile, error) {
	if s.deps.Backend == nil {
		return nil, ErrBackendDisabled
	}
	return s.deps.Backend.ListMotors(ctx, s.cfg.UserID)
}

// CalibrateEfficiency 用加油记录拟合车辆油耗
func (s *NavigationService) CalibrateEfficiency(ctx context.Context, motorID string) (float64, int, error) {
	if s.deps.Journal == nil {
		return 0, 0, ErrJournalDisabled
	}
	if motorID == "" {
		return 0, 0, ErrMotorRequired
	}
	samples, err := s.deps.Journal.RefuelSamples(ctx, motorID)
	if err != nil {
		return 0, 0, err
	}
	kmPerLiter, err := fuel.CalibrateEfficiency(samples)
	if err != nil {
		return 0, len(samples), err
	}

	s.logger.Info("Fuel efficiency calibrated",
		zap.String("motor_id", motorID),
		zap.Int("samples", len(samples)),
		zap.Float64("km_per_liter", kmPerLiter))
	return kmPerLiter, len(samples), nil
}
