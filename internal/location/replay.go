package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
)

// ReplaySource 从 JSON Lines 文件回放位置，每行 {"latitude":..,"longitude":..,"speed":..}
type ReplaySource struct {
	path     string
	interval time.Duration
	logger   *zap.Logger
}

// NewReplaySource 创建回放数据源，interval 为相邻样本的间隔
func NewReplaySource(path string, interval time.Duration, logger *zap.Logger) *ReplaySource {
	return &ReplaySource{path: path, interval: interval, logger: logger}
}

// RequestPermission 检查文件是否可读
func (s *ReplaySource) RequestPermission(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return f.Close()
}

// Subscribe 逐行回放，读完后关闭 channel
func (s *ReplaySource) Subscribe(ctx context.Context) (<-chan models.Position, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan models.Position)
	go func() {
		defer close(out)
		defer f.Close()

		var ticker *time.Ticker
		if s.interval > 0 {
			ticker = time.NewTicker(s.interval)
			defer ticker.Stop()
		}

		scanner := bufio.NewScanner(f)
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}

			var p models.Position
			if err := json.Unmarshal([]byte(text), &p); err != nil {
				s.logger.Warn("Skipping malformed replay line",
					zap.String("file", s.path),
					zap.Int("line", line),
					zap.Error(err))
				continue
			}

			select {
			case out <- p:
			case <-ctx.Done():
				return
			}

			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.Warn("Replay read error", zap.String("file", s.path), zap.Error(err))
		}
	}()
	return out, nil
}
