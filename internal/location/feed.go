package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
)

// feedMessage 定位推送消息
type feedMessage struct {
	Type      string  `json:"type"` // position, error
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Timestamp int64   `json:"timestamp,omitempty"` // 毫秒
	Error     string  `json:"error,omitempty"`
}

// FeedConfig WebSocket 定位推送配置
type FeedConfig struct {
	URL               string
	Token             string
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// FeedSource 通过 WebSocket 接收设备定位，断线后指数退避重连
type FeedSource struct {
	cfg    FeedConfig
	logger *zap.Logger
	dialer websocket.Dialer

	mu      sync.Mutex
	pending *websocket.Conn // 权限检查时建立的连接，供首次订阅复用
}

// NewFeedSource 创建 WebSocket 数据源
func NewFeedSource(cfg FeedConfig, logger *zap.Logger) *FeedSource {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	return &FeedSource{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

func (s *FeedSource) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: feed returned %d", ErrPermissionDenied, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial feed: %v", ErrUnavailable, err)
	}
	return conn, nil
}

// RequestPermission 握手一次，401/403 视为权限被拒绝
func (s *FeedSource) RequestPermission(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.pending != nil {
		s.pending.Close()
	}
	s.pending = conn
	s.mu.Unlock()
	return nil
}

// Subscribe 启动读取循环，ctx 取消时关闭连接和 channel
func (s *FeedSource) Subscribe(ctx context.Context) (<-chan models.Position, error) {
	s.mu.Lock()
	conn := s.pending
	s.pending = nil
	s.mu.Unlock()

	if conn == nil {
		var err error
		if conn, err = s.dial(ctx); err != nil {
			return nil, err
		}
	}

	out := make(chan models.Position)
	go s.run(ctx, conn, out)
	return out, nil
}

// run 读取并在断线后重连，直到 ctx 结束或权限被撤销
func (s *FeedSource) run(ctx context.Context, conn *websocket.Conn, out chan<- models.Position) {
	defer close(out)

	delay := s.cfg.ReconnectDelay
	for {
		if conn != nil {
			err := s.readLoop(ctx, conn, out)
			conn.Close()
			conn = nil
			if ctx.Err() != nil {
				return
			}
			delay = s.cfg.ReconnectDelay
			s.logger.Warn("Location feed disconnected, will reconnect", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		var err error
		conn, err = s.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				s.logger.Error("Location feed permission revoked", zap.Error(err))
				return
			}
			s.logger.Warn("Location feed reconnect failed",
				zap.Duration("delay", delay),
				zap.Error(err))
			delay *= 2
			if delay > s.cfg.MaxReconnectDelay {
				delay = s.cfg.MaxReconnectDelay
			}
			continue
		}
		s.logger.Info("Location feed reconnected")
	}
}

func (s *FeedSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- models.Position) error {
	// ctx 取消时关闭连接以打断阻塞的 ReadMessage
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg feedMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Warn("Failed to parse location message",
				zap.String("message", string(message)),
				zap.Error(err))
			continue
		}

		switch msg.Type {
		case "", "position":
			p := models.Position{
				Coordinate: models.NewCoordinate(msg.Latitude, msg.Longitude),
				SpeedMps:   msg.Speed,
			}
			if msg.Timestamp > 0 {
				p.RecordedAt = time.UnixMilli(msg.Timestamp)
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "error":
			s.logger.Warn("Location feed error", zap.String("error", msg.Error))
		default:
			s.logger.Debug("Unknown location message type", zap.String("type", msg.Type))
		}
	}
}
