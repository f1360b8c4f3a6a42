// Package state 导航会话生命周期状态机
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 会话状态常量
const (
	StateIdle       = "idle"
	StateSelecting  = "selecting"
	StateNavigating = "navigating"
	StateRerouting  = "rerouting"
	StateArrived    = "arrived"
	StateCancelled  = "cancelled"
)

// 事件常量
const (
	EventRoutesReady = "routes_ready"
	EventStart       = "start"
	EventDeviate     = "deviate"
	EventRerouteDone = "reroute_done"
	EventRejoin      = "rejoin"
	EventArrive      = "arrive"
	EventStop        = "stop"
)

// ErrInvalidTransition 当前状态不允许该事件
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine 导航会话状态机
type Machine struct {
	mu            sync.RWMutex
	sessionID     string
	fsm           *fsm.FSM
	since         time.Time
	now           func() time.Time
	onStateChange func(sessionID, from, to string)
}

// NewMachine 创建状态机，初始状态为 idle
func NewMachine(sessionID string, onStateChange func(sessionID, from, to string)) *Machine {
	m := &Machine{
		sessionID:     sessionID,
		onStateChange: onStateChange,
		now:           time.Now,
	}
	m.since = m.now()

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			// 获取路线成功；选择阶段允许刷新
			{Name: EventRoutesReady, Src: []string{StateIdle, StateSelecting}, Dst: StateSelecting},
			{Name: EventStart, Src: []string{StateSelecting}, Dst: StateNavigating},

			// 偏航与重新规划
			{Name: EventDeviate, Src: []string{StateNavigating}, Dst: StateRerouting},
			{Name: EventRerouteDone, Src: []string{StateRerouting}, Dst: StateNavigating},
			{Name: EventRejoin, Src: []string{StateRerouting}, Dst: StateNavigating},

			// 结束
			{Name: EventArrive, Src: []string{StateNavigating, StateRerouting}, Dst: StateArrived},
			{Name: EventStop, Src: []string{StateSelecting, StateNavigating, StateRerouting}, Dst: StateCancelled},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.sessionID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// SetClock 替换时间来源
func (m *Machine) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.since = now()
}

// SessionID 会话 ID
func (m *Machine) SessionID() string {
	return m.sessionID
}

// Current 当前状态
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Since 进入当前状态的时间
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Trigger 触发事件。状态不变的事件（如选择阶段刷新路线）不视为错误
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.fsm.Current()
	err := m.fsm.Event(context.Background(), event)
	if err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		var invalid fsm.InvalidEventError
		var unknown fsm.UnknownEventError
		if errors.As(err, &invalid) || errors.As(err, &unknown) {
			return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
		}
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = m.now()
	return nil
}

// CanTransition 检查是否可以触发事件
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// IsActive 选择、导航或重新规划中
func (m *Machine) IsActive() bool {
	switch m.Current() {
	case StateSelecting, StateNavigating, StateRerouting:
		return true
	}
	return false
}

// IsTracking 导航或重新规划中，此时需要记录轨迹
func (m *Machine) IsTracking() bool {
	switch m.Current() {
	case StateNavigating, StateRerouting:
		return true
	}
	return false
}

// IsTerminal 已到达或已取消
func IsTerminal(s string) bool {
	return s == StateArrived || s == StateCancelled
}
