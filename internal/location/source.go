// Package location 设备定位订阅：权限请求、可取消的位置流以及瞬时速度
package location

import (
	"context"
	"errors"

	"github.com/langchou/motonav/internal/models"
)

// 定位错误
var (
	ErrPermissionDenied = errors.New("location: permission denied")
	ErrUnavailable      = errors.New("location: unavailable")
)

// Source 定位数据源
type Source interface {
	// RequestPermission 请求定位权限，拒绝时返回 ErrPermissionDenied
	RequestPermission(ctx context.Context) error
	// Subscribe 订阅位置更新，ctx 取消后数据源必须关闭返回的 channel
	Subscribe(ctx context.Context) (<-chan models.Position, error)
}

// ManualSource 由调用方手动推送位置的数据源（控制接口注入、测试）
type ManualSource struct {
	ch     chan models.Position
	denied bool
}

// NewManualSource 创建手动数据源
func NewManualSource(buffer int) *ManualSource {
	return &ManualSource{ch: make(chan models.Position, buffer)}
}

// Deny 之后的权限请求都会被拒绝
func (s *ManualSource) Deny() {
	s.denied = true
}

// RequestPermission 实现 Source
func (s *ManualSource) RequestPermission(ctx context.Context) error {
	if s.denied {
		return ErrPermissionDenied
	}
	return ctx.Err()
}

// Subscribe 实现 Source
func (s *ManualSource) Subscribe(ctx context.Context) (<-chan models.Position, error) {
	out := make(chan models.Position)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-s.ch:
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Push 推送一个位置，缓冲区满时阻塞直到 ctx 结束
func (s *ManualSource) Push(ctx context.Context, p models.Position) error {
	select {
	case s.ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
