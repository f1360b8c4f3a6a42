// Package notify 把会话和分析监控产生的通知分发到日志、WebSocket 和 MQTT
package notify

import "github.com/langchou/motonav/internal/models"

// Notifier 通知接收方，实现必须非阻塞
type Notifier interface {
	Notify(n models.Notification)
}

// Func 函数适配器
type Func func(n models.Notification)

// Notify 实现 Notifier
func (f Func) Notify(n models.Notification) { f(n) }

// Nop 丢弃所有通知
var Nop Notifier = Func(func(models.Notification) {})
