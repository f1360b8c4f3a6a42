package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/geo"
	"github.com/langchou/motonav/internal/models"
)

// Options 订阅参数
type Options struct {
	// DistanceFilterMeters 与上一个输出点距离小于该值的样本被丢弃，0 表示不过滤
	DistanceFilterMeters float64
	// Buffer 输出 channel 缓冲
	Buffer int
}

// Tracker 包装 Source，记录最新位置和速度
type Tracker struct {
	src    Source
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	last    models.Position
	hasLast bool
}

// Subscription 一次可取消的位置订阅
type Subscription struct {
	C      <-chan models.Position
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel 取消订阅并等待转发协程退出
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Done 转发协程退出时关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// NewTracker 创建 Tracker
func NewTracker(src Source, opts Options, logger *zap.Logger) *Tracker {
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	return &Tracker{
		src:    src,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Start 请求权限并开始订阅。权限被拒绝时返回 ErrPermissionDenied，其余失败归为 ErrUnavailable
func (t *Tracker) Start(ctx context.Context) (*Subscription, error) {
	if err := t.src.RequestPermission(ctx); err != nil {
		return nil, wrapSourceError("request permission", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	in, err := t.src.Subscribe(subCtx)
	if err != nil {
		cancel()
		return nil, wrapSourceError("subscribe", err)
	}

	out := make(chan models.Position, t.opts.Buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case p, ok := <-in:
				if !ok {
					t.logger.Debug("Location source closed")
					return
				}
				p, keep := t.accept(p)
				if !keep {
					continue
				}
				select {
				case out <- p:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	t.logger.Info("Location tracking started",
		zap.Float64("distance_filter_m", t.opts.DistanceFilterMeters))

	return &Subscription{C: out, cancel: cancel, done: done}, nil
}

// accept 补齐时间戳和速度，并应用距离过滤
func (t *Tracker) accept(p models.Position) (models.Position, bool) {
	if err := p.Validate(); err != nil {
		t.logger.Warn("Dropping invalid location sample", zap.Error(err))
		return p, false
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasLast {
		d := geo.Distance(t.last.Coordinate, p.Coordinate)
		if t.opts.DistanceFilterMeters > 0 && d < t.opts.DistanceFilterMeters {
			return p, false
		}
		// 设备未报速度时用两点距离/时间差估算
		if p.SpeedMps <= 0 {
			if dt := p.RecordedAt.Sub(t.last.RecordedAt).Seconds(); dt > 0 {
				p.SpeedMps = d / dt
			}
		}
	}
	if p.SpeedMps < 0 {
		p.SpeedMps = 0
	}

	t.last = p
	t.hasLast = true
	return p, true
}

// Last 最新位置
func (t *Tracker) Last() (models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.hasLast
}

// Speed 瞬时速度 (m/s)
func (t *Tracker) Speed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last.SpeedMps
}

func wrapSourceError(op string, err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
