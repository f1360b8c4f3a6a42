// Package navigation 导航会话引擎：路线选择、实时跟踪、偏航重新规划以及行程结算
package navigation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/api/directions"
	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/geo"
	"github.com/langchou/motonav/internal/models"
	"github.com/langchou/motonav/internal/notify"
	"github.com/langchou/motonav/internal/state"
)

// 会话错误
var (
	ErrInvalidTransition = state.ErrInvalidTransition
	ErrNoRouteSelected   = errors.New("navigation: no route selected")
	ErrNoPosition        = errors.New("navigation: no current position")
	ErrUnknownRoute      = errors.New("navigation: unknown route")
	ErrSessionFinished   = errors.New("navigation: session finished")
)

// Config 会话参数
type Config struct {
	UserID                  string
	OffRouteThresholdMeters float64
	ArrivalThresholdMeters  float64
	MaxRerouteRetries       int // 首次失败后的最大重试次数
	RerouteBackoffInitial   time.Duration
	RerouteBackoffFactor    float64
	RerouteBackoffMax       time.Duration
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		OffRouteThresholdMeters: 50,
		ArrivalThresholdMeters:  geo.ArrivalThresholdMeters,
		MaxRerouteRetries:       3,
		RerouteBackoffInitial:   2 * time.Second,
		RerouteBackoffFactor:    2.0,
		RerouteBackoffMax:       30 * time.Second,
	}
}

// Option 会话选项
type Option func(*Session)

// WithID 指定会话 ID
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithNotifier 设置通知接收方
func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithFinishHook 会话结束且生成 TripSummary 后回调（在锁外调用）
func WithFinishHook(fn func(models.TripSummary)) Option {
	return func(s *Session) { s.onFinish = fn }
}

// WithTransitionHook 每次状态变化时回调（持锁调用，不得阻塞或回调会话）
func WithTransitionHook(fn func(from, to string)) Option {
	return func(s *Session) { s.onTransition = fn }
}

// Session 一次导航会话，状态只由引擎修改，外部读取 Snapshot
type Session struct {
	id       string
	cfg      Config
	provider directions.Provider
	recorder *TripRecorder
	machine  *state.Machine
	logger   *zap.Logger
	notifier notify.Notifier
	onFinish func(models.TripSummary)
	now      func() time.Time

	onTransition func(from, to string)

	ctx     context.Context
	cancel  context.CancelFunc
	fetchMu sync.Mutex // 串行化选择阶段的路线请求
	wg      sync.WaitGroup

	mu           sync.Mutex
	motor        models.MotorProfile
	routeSet     *models.RouteSet
	active       *models.Route
	path         []models.Coordinate
	current      *models.Position
	startedAt    time.Time
	endedAt      time.Time
	lastMovedAt  time.Time
	rerouteCount int
	summary      *models.TripSummary
	subscribers  []chan Snapshot

	// 重新规划
	inFlight   bool   // 同一会话同时只允许一个请求
	generation uint64 // 每次发起请求、重新上线或结束时递增，用于丢弃过期响应
	attempts   int
	gaveUp     bool
	retryTimer *time.Timer
}

// effects 需要在锁外执行的副作用
type effects struct {
	notes    []models.Notification
	finished *models.TripSummary
}

// NewSession 创建会话，初始状态 idle
func NewSession(cfg Config, provider directions.Provider, logger *zap.Logger, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		notifier: notify.Nop,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.recorder = NewTripRecorder(cfg.UserID)
	s.recorder.now = s.now
	s.machine = state.NewMachine(s.id, s.onStateChange)
	s.machine.SetClock(s.now)
	s.logger = logger.With(zap.String("session_id", s.id))
	return s
}

// ID 会话 ID
func (s *Session) ID() string {
	return s.id
}

// Status 当前状态
func (s *Session) Status() string {
	return s.machine.Current()
}

// RequestRoutes 获取路线并进入选择阶段，最佳路线默认选中。
// 失败时状态不变并返回路线错误。
func (s *Session) RequestRoutes(ctx context.Context, origin, destination models.Coordinate, motor models.MotorProfile) (*models.RouteSet, error) {
	if err := fuel.ValidateMotor(motor); err != nil {
		return nil, err
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	if err := s.checkSelectableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	set, err := s.provider.FetchRoutes(ctx, origin, destination, motor)
	if err != nil {
		s.logger.Warn("Route request failed",
			zap.String("origin", origin.String()),
			zap.String("destination", destination.String()),
			zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug("Discarding stale route response")
		return nil, ErrSessionFinished
	}
	if err := s.checkSelectableLocked(); err != nil {
		return nil, err
	}
	if err := s.machine.Trigger(state.EventRoutesReady); err != nil {
		return nil, err
	}

	s.motor = motor
	s.routeSet = set
	best := set.BestRoute.Clone()
	s.active = &best
	s.publishLocked()

	out := cloneRouteSet(set)
	return &out, nil
}

func (s *Session) checkSelectableLocked() error {
	switch status := s.machine.Current(); status {
	case state.StateIdle, state.StateSelecting:
		return nil
	case state.StateArrived, state.StateCancelled:
		return ErrSessionFinished
	default:
		return fmt.Errorf("%w: request routes while %s", ErrInvalidTransition, status)
	}
}

// SelectRoute 在选择阶段切换路线
func (s *Session) SelectRoute(routeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.machine.Current()
	if state.IsTerminal(status) {
		return ErrSessionFinished
	}
	if status != state.StateSelecting {
		return fmt.Errorf("%w: select route while %s", ErrInvalidTransition, status)
	}

	r, ok := s.routeSet.Find(routeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, routeID)
	}
	r = r.Clone()
	s.active = &r

	s.logger.Info("Route selected",
		zap.String("route_id", r.ID),
		zap.Bool("synthetic", r.Synthetic),
		zap.Float64("distance_m", r.DistanceMeters))
	s.publishLocked()
	return nil
}

// Start 开始导航：需要已选路线和当前位置，轨迹以当前位置为起点
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case state.IsTerminal(s.machine.Current()):
		return ErrSessionFinished
	case s.active == nil:
		return ErrNoRouteSelected
	case s.current == nil:
		return ErrNoPosition
	}

	if err := s.machine.Trigger(state.EventStart); err != nil {
		return err
	}

	now := s.now()
	s.startedAt = now
	s.lastMovedAt = now
	s.path = []models.Coordinate{s.current.Coordinate}

	s.logger.Info("Navigation started",
		zap.String("route_id", s.active.ID),
		zap.String("motor_id", s.motor.ID),
		zap.Float64("distance_m", s.active.DistanceMeters))
	s.publishLocked()
	return nil
}

// UpdatePosition 处理一次定位：记录轨迹，判断到达、偏航和重新上线
func (s *Session) UpdatePosition(p models.Position) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = s.now()
	}

	var fx effects
	s.mu.Lock()
	err := s.updateLocked(p, &fx)
	s.mu.Unlock()

	s.flush(fx)
	return err
}

func (s *Session) updateLocked(p models.Position, fx *effects) error {
	status := s.machine.Current()
	if state.IsTerminal(status) {
		return ErrSessionFinished
	}

	cur := p
	s.current = &cur
	if !s.machine.IsTracking() {
		s.publishLocked()
		return nil
	}

	s.appendLocked(p)

	route := s.active.Coordinates
	if geo.HasArrived(p.Coordinate, route, s.cfg.ArrivalThresholdMeters) {
		return s.finishLocked(state.EventArrive, true, fx)
	}

	off := geo.IsOffRoute(p.Coordinate, route, s.cfg.OffRouteThresholdMeters)
	switch {
	case status == state.StateNavigating && off:
		s.deviateLocked()
	case status == state.StateRerouting && !off:
		s.rejoinLocked()
	}

	s.publishLocked()
	return nil
}

// appendLocked 与上一个点完全相同时不追加
func (s *Session) appendLocked(p models.Position) {
	if n := len(s.path); n > 0 && s.path[n-1].SamePoint(p.Coordinate) {
		return
	}
	s.path = append(s.path, p.Coordinate)
	s.lastMovedAt = p.RecordedAt
}

func (s *Session) deviateLocked() {
	if err := s.machine.Trigger(state.EventDeviate); err != nil {
		s.logger.Warn("Failed to enter rerouting", zap.Error(err))
		return
	}
	s.rerouteCount++
	s.attempts = 0
	s.gaveUp = false

	s.logger.Info("Off route, rerouting",
		zap.Int("reroute_count", s.rerouteCount),
		zap.String("position", s.current.String()))
	s.startRerouteLocked()
}

func (s *Session) rejoinLocked() {
	if err := s.machine.Trigger(state.EventRejoin); err != nil {
		s.logger.Warn("Failed to rejoin route", zap.Error(err))
		return
	}
	// 进行中的请求响应作废
	s.generation++
	s.stopRetryLocked()
	s.attempts = 0
	s.gaveUp = false
	s.logger.Info("Back on route", zap.String("route_id", s.active.ID))
}

// startRerouteLocked 以当前位置为起点重新请求路线，已有请求在途时不重复发起
func (s *Session) startRerouteLocked() {
	if s.inFlight || s.gaveUp || s.current == nil || s.routeSet == nil {
		return
	}
	s.inFlight = true
	s.generation++

	gen := s.generation
	origin := s.current.Coordinate
	destination := s.routeSet.Destination
	motor := s.motor

	s.wg.Add(1)
	go s.reroute(gen, origin, destination, motor)
}

func (s *Session) reroute(gen uint64, origin, destination models.Coordinate, motor models.MotorProfile) {
	defer s.wg.Done()

	s.logger.Info("Requesting reroute",
		zap.String("origin", origin.String()),
		zap.Uint64("generation", gen))
	set, err := s.provider.FetchRoutes(s.ctx, origin, destination, motor)

	var fx effects
	s.mu.Lock()
	s.inFlight = false
	status := s.machine.Current()
	switch {
	case gen != s.generation || status != state.StateRerouting:
		s.logger.Debug("Discarding stale reroute response",
			zap.Uint64("generation", gen),
			zap.String("status", status))
		// 新的偏航在本请求在途期间发生，需要补发
		if status == state.StateRerouting {
			s.startRerouteLocked()
		}
	case err != nil:
		s.rerouteFailedLocked(err, &fx)
	default:
		s.applyRerouteLocked(set, &fx)
	}
	s.mu.Unlock()

	s.flush(fx)
}

func (s *Session) rerouteFailedLocked(err error, fx *effects) {
	s.attempts++
	if s.attempts > s.cfg.MaxRerouteRetries {
		s.gaveUp = true
		s.logger.Warn("Reroute retries exhausted, continuing to track",
			zap.Int("attempts", s.attempts),
			zap.Error(err))
		fx.notes = append(fx.notes, s.notificationLocked(models.NotifyUnableToReroute,
			"Unable to find a new route, keep riding safely", map[string]any{
				"attempts": s.attempts,
				"error":    err.Error(),
			}))
		s.publishLocked()
		return
	}

	delay := s.backoffLocked()
	s.logger.Warn("Reroute failed, will retry",
		zap.Int("attempt", s.attempts),
		zap.Duration("delay", delay),
		zap.Error(err))
	s.stopRetryLocked()
	s.retryTimer = time.AfterFunc(delay, s.retryReroute)
	s.publishLocked()
}

func (s *Session) retryReroute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Current() == state.StateRerouting {
		s.startRerouteLocked()
	}
}

// backoffLocked initial * factor^(attempts-1)，不超过上限
func (s *Session) backoffLocked() time.Duration {
	d := float64(s.cfg.RerouteBackoffInitial) * math.Pow(s.cfg.RerouteBackoffFactor, float64(s.attempts-1))
	if limit := float64(s.cfg.RerouteBackoffMax); limit > 0 && d > limit {
		d = limit
	}
	return time.Duration(d)
}

func (s *Session) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Session) applyRerouteLocked(set *models.RouteSet, fx *effects) {
	if err := s.machine.Trigger(state.EventRerouteDone); err != nil {
		s.logger.Warn("Failed to leave rerouting", zap.Error(err))
		return
	}
	s.routeSet = set
	best := set.BestRoute.Clone()
	s.active = &best
	s.attempts = 0

	s.logger.Info("Rerouted",
		zap.String("route_id", best.ID),
		zap.Int("reroute_count", s.rerouteCount),
		zap.Float64("distance_m", best.DistanceMeters))
	fx.notes = append(fx.notes, s.notificationLocked(models.NotifyRerouted,
		"New route found", map[string]any{
			"route_id":      best.ID,
			"distance_m":    best.DistanceMeters,
			"reroute_count": s.rerouteCount,
		}))
	s.publishLocked()
}

// Active 会话处于选择、导航或重新规划中
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.IsActive()
}

// Stop 用户主动结束会话
func (s *Session) Stop() error {
	var fx effects
	s.mu.Lock()
	var err error
	switch status := s.machine.Current(); {
	case state.IsTerminal(status):
		err = ErrSessionFinished
	case !s.machine.CanTransition(state.EventStop):
		err = fmt.Errorf("%w: stop while %s", ErrInvalidTransition, status)
	default:
		err = s.finishLocked(state.EventStop, false, &fx)
	}
	s.mu.Unlock()

	s.flush(fx)
	return err
}

// finishLocked 进入终态：取消定位订阅与在途请求，生成行程汇总
func (s *Session) finishLocked(event string, arrived bool, fx *effects) error {
	if err := s.machine.Trigger(event); err != nil {
		return err
	}
	s.endedAt = s.now()
	s.generation++
	s.stopRetryLocked()
	s.cancel()

	if !s.startedAt.IsZero() {
		summary, err := s.recorder.Finalize(s.snapshotLocked(), arrived)
		if err != nil {
			s.logger.Error("Failed to finalize trip", zap.Error(err))
		} else {
			s.summary = &summary
			fx.finished = &summary
			s.logger.Info("Trip finalized",
				zap.Bool("arrived", arrived),
				zap.Float64("planned_km", summary.PlannedDistanceKm),
				zap.Float64("actual_km", summary.ActualDistanceKm),
				zap.Float64("duration_min", summary.DurationMinutes),
				zap.Int("reroute_count", summary.RerouteCount))
		}
	}
	if arrived {
		fx.notes = append(fx.notes, s.notificationLocked(models.NotifyArrived, "You have arrived", nil))
	}

	s.publishLocked()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	return nil
}

// Context 会话结束时取消，用于绑定定位订阅等资源
func (s *Session) Context() context.Context {
	return s.ctx
}

// Wait 等待在途的重新规划协程退出
func (s *Session) Wait() {
	s.wg.Wait()
}

// Snapshot 当前快照
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe 订阅快照更新，会话结束后 channel 关闭
func (s *Session) Subscribe() <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 10)
	if state.IsTerminal(s.machine.Current()) {
		ch <- s.snapshotLocked()
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:       s.id,
		Status:          s.machine.Current(),
		Since:           s.machine.Since(),
		Motor:           s.motor,
		PathHistory:     append([]models.Coordinate(nil), s.path...),
		StartedAt:       s.startedAt,
		EndedAt:         s.endedAt,
		LastMovedAt:     s.lastMovedAt,
		RerouteCount:    s.rerouteCount,
		RerouteAttempts: s.attempts,
		RerouteInFlight: s.inFlight,
		RerouteGaveUp:   s.gaveUp,
		TraveledKm:      geo.PathLengthKm(s.path),
	}
	if s.routeSet != nil {
		rs := cloneRouteSet(s.routeSet)
		snap.RouteSet = &rs
	}
	if s.active != nil {
		r := s.active.Clone()
		snap.ActiveRoute = &r
	}
	if s.current != nil {
		c := *s.current
		snap.Current = &c
		snap.SpeedKmh = geo.MpsToKmh(c.SpeedMps)
	}
	if s.active != nil && s.current != nil {
		snap.RemainingKm = geo.RemainingKm(s.current.Coordinate, s.active.Coordinates)
		speed := snap.SpeedKmh
		// 几乎静止时按路线平均速度估算
		if speed < 1 && s.active.DurationSeconds > 0 {
			speed = s.active.DistanceKm() / (s.active.DurationSeconds / 3600)
		}
		snap.ETASeconds = geo.ETA(snap.RemainingKm, speed).Seconds()
	}
	if s.summary != nil {
		sum := *s.summary
		snap.Summary = &sum
	}
	return snap
}

// publishLocked 通知订阅者，跳过慢消费者
func (s *Session) publishLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) notificationLocked(kind, message string, data map[string]any) models.Notification {
	return models.Notification{
		Kind:      kind,
		SessionID: s.id,
		Message:   message,
		At:        s.now(),
		Data:      data,
	}
}

func (s *Session) flush(fx effects) {
	for _, n := range fx.notes {
		s.notifier.Notify(n)
	}
	if fx.finished != nil && s.onFinish != nil {
		s.onFinish(*fx.finished)
	}
}

// onStateChange 状态变化回调
func (s *Session) onStateChange(sessionID, from, to string) {
	s.logger.Info("Navigation state changed",
		zap.String("from", from),
		zap.String("to", to))
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
}

func cloneRouteSet(rs *models.RouteSet) models.RouteSet {
	out := *rs
	out.BestRoute = rs.BestRoute.Clone()
	out.Alternatives = make([]models.Route, len(rs.Alternatives))
	for i, r := range rs.Alternatives {
		out.Alternatives[i] = r.Clone()
	}
	return out
}
