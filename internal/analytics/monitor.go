package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
	"github.com/langchou/motonav/internal/navigation"
	"github.com/langchou/motonav/internal/notify"
	"github.com/langchou/motonav/internal/state"
)

// SnapshotSource 提供会话快照
type SnapshotSource interface {
	Snapshot() navigation.Snapshot
}

// Config 监控参数
type Config struct {
	Interval      time.Duration
	IdleThreshold time.Duration
}

// Monitor 定时检查导航中的会话，只发通知。
// 同一会话内每类提醒只发一次，怠速提醒在重新移动后可再次触发。
type Monitor struct {
	cfg      Config
	logger   *zap.Logger
	notifier notify.Notifier
	now      func() time.Time

	mu            sync.Mutex
	sessionID     string
	sent          map[string]bool
	lastMilestone int
	idleSince     time.Time // 已提示怠速时对应的 LastMovedAt
}

// NewMonitor 创建监控
func NewMonitor(cfg Config, notifier notify.Notifier, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier,
		now:      time.Now,
		sent:     make(map[string]bool),
	}
}

// Run 按间隔检查，直到 ctx 结束
func (m *Monitor) Run(ctx context.Context, src SnapshotSource) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(src.Snapshot())
		}
	}
}

// Check 对一份快照执行全部检查并发出通知，返回本次发出的通知
func (m *Monitor) Check(snap navigation.Snapshot) []models.Notification {
	if snap.Status != state.StateNavigating {
		return nil
	}

	m.mu.Lock()
	if snap.SessionID != m.sessionID {
		m.resetLocked(snap.SessionID)
	}
	now := m.now()
	var out []models.Notification

	emitOnce := func(kind, message string, data map[string]any) {
		if m.sent[kind] {
			return
		}
		m.sent[kind] = true
		out = append(out, models.Notification{Kind: kind, SessionID: snap.SessionID, Message: message, At: now, Data: data})
	}

	motor := snap.Motor
	if IsLowFuel(motor) {
		emitOnce(models.NotifyLowFuel, "Fuel level is low, consider refueling soon", map[string]any{
			"fuel_level": motor.CurrentFuelLevel,
		})
	}
	if IsMaintenanceDue(motor, snap.TraveledKm, now) {
		data := map[string]any{"threshold_km": MaintenanceThresholdKm(motor.Year, now)}
		if km, ok := KmSinceService(motor, snap.TraveledKm); ok {
			data["km_since_service"] = km
		}
		if motor.LastMaintenanceDate != nil {
			data["last_maintenance_date"] = motor.LastMaintenanceDate.Format(time.DateOnly)
		}
		emitOnce(models.NotifyMaintenanceDue, "Scheduled maintenance is due", data)
	}
	if IsOilChangeDue(motor, now) {
		emitOnce(models.NotifyOilChangeDue, "Oil change is due", map[string]any{
			"oil_type":        motor.OilType,
			"interval_months": OilChangeIntervalMonths(motor.OilType),
		})
	}

	if IsIdle(snap.LastMovedAt, now, m.cfg.IdleThreshold) {
		if !m.idleSince.Equal(snap.LastMovedAt) {
			m.idleSince = snap.LastMovedAt
			idle := now.Sub(snap.LastMovedAt).Round(time.Second)
			out = append(out, models.Notification{
				Kind:      models.NotifyIdleTooLong,
				SessionID: snap.SessionID,
				Message:   fmt.Sprintf("No movement for %s", idle),
				At:        now,
				Data:      map[string]any{"idle_seconds": idle.Seconds()},
			})
		}
	}

	if step := MilestoneStep(snap.TraveledKm); step > m.lastMilestone {
		m.lastMilestone = step
		meters := float64(step) * MilestoneMeters
		out = append(out, models.Notification{
			Kind:      models.NotifyMilestone,
			SessionID: snap.SessionID,
			Message:   fmt.Sprintf("%.0f m traveled", meters),
			At:        now,
			Data:      map[string]any{"meters": meters},
		})
	}
	m.mu.Unlock()

	for _, n := range out {
		m.logger.Info("Analytics notification",
			zap.String("session_id", n.SessionID),
			zap.String("kind", n.Kind))
		m.notifier.Notify(n)
	}
	return out
}

func (m *Monitor) resetLocked(sessionID string) {
	m.sessionID = sessionID
	m.sent = make(map[string]bool)
	m.lastMilestone = 0
	m.idleSince = time.Time{}
}
