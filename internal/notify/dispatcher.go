package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
)

// Dispatcher 记录日志后把通知扇出给所有接收方
type Dispatcher struct {
	logger *zap.Logger
	mu     sync.RWMutex
	sinks  []Notifier
}

// NewDispatcher 创建分发器
func NewDispatcher(logger *zap.Logger, sinks ...Notifier) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		sinks:  sinks,
	}
}

// Add 追加接收方
func (d *Dispatcher) Add(n Notifier) {
	d.mu.Lock()
	d.sinks = append(d.sinks, n)
	d.mu.Unlock()
}

// Notify 实现 Notifier
func (d *Dispatcher) Notify(n models.Notification) {
	d.logger.Info("Notification",
		zap.String("kind", n.Kind),
		zap.String("session_id", n.SessionID),
		zap.String("message", n.Message))

	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(n)
	}
}
