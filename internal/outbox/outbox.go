// Package outbox 写入后端失败的行程和保养记录先落盘，之后定期重试
package outbox

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	bolt "go.etcd.io/bbolt"

	"github.com/langchou/motonav/internal/api/backend"
	"github.com/langchou/motonav/internal/models"
)

const pendingBucket = "pending"

// 记录类型
const (
	KindTrip        = "trip"
	KindMaintenance = "maintenance"
)

// Entry 一条待发送记录
type Entry struct {
	ID        uint64    `msgpack:"id"`
	Kind      string    `msgpack:"kind"`
	Payload   []byte    `msgpack:"payload"`
	Attempts  int       `msgpack:"attempts"`
	CreatedAt time.Time `msgpack:"created_at"`
	LastError string    `msgpack:"last_error"`
}

// Sender 后端写接口，由 backend.Client 实现
type Sender interface {
	SaveTrip(ctx context.Context, trip models.TripSummary) error
	SaveMaintenance(ctx context.Context, record backend.MaintenanceRecord) error
}

// Store 基于 bbolt 的发件箱
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open 打开（或创建）发件箱文件
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(pendingBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox bucket: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close 关闭文件
func (s *Store) Close() error {
	return s.db.Close()
}

// EnqueueTrip 行程写入失败时入队
func (s *Store) EnqueueTrip(trip models.TripSummary, cause error) (uint64, error) {
	return s.enqueue(KindTrip, trip, cause)
}

// EnqueueMaintenance 保养记录写入失败时入队
func (s *Store) EnqueueMaintenance(record backend.MaintenanceRecord, cause error) (uint64, error) {
	return s.enqueue(KindMaintenance, record, cause)
}

func (s *Store) enqueue(kind string, payload any, cause error) (uint64, error) {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	entry := Entry{Kind: kind, Payload: body, CreatedAt: s.now()}
	if cause != nil {
		entry.LastError = cause.Error()
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(pendingBucket))
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = id
		raw, err := msgpack.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put(itob(id), raw)
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", kind, err)
	}

	s.logger.Warn("Queued backend write for retry",
		zap.Uint64("id", entry.ID),
		zap.String("kind", kind),
		zap.String("cause", entry.LastError))
	return entry.ID, nil
}

// Pending 按入队顺序返回全部待发送记录
func (s *Store) Pending() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := msgpack.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// Len 待发送数量
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(pendingBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Flush 依次重发，成功的删除，失败的记录错误并保留。返回成功数量
func (s *Store) Flush(ctx context.Context, sender Sender) (int, error) {
	entries, err := s.Pending()
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		if err := s.send(ctx, sender, e); err != nil {
			e.Attempts++
			e.LastError = err.Error()
			if perr := s.put(e); perr != nil {
				return sent, perr
			}
			s.logger.Warn("Outbox retry failed",
				zap.Uint64("id", e.ID),
				zap.String("kind", e.Kind),
				zap.Int("attempts", e.Attempts),
				zap.Error(err))
			continue
		}

		if err := s.delete(e.ID); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("Outbox flushed", zap.Int("sent", sent), zap.Int("pending", len(entries)-sent))
	}
	return sent, nil
}

func (s *Store) send(ctx context.Context, sender Sender, e Entry) error {
	switch e.Kind {
	case KindTrip:
		var trip models.TripSummary
		if err := msgpack.Unmarshal(e.Payload, &trip); err != nil {
			return fmt.Errorf("decode trip: %w", err)
		}
		return sender.SaveTrip(ctx, trip)
	case KindMaintenance:
		var record backend.MaintenanceRecord
		if err := msgpack.Unmarshal(e.Payload, &record); err != nil {
			return fmt.Errorf("decode maintenance record: %w", err)
		}
		return sender.SaveMaintenance(ctx, record)
	default:
		return fmt.Errorf("unknown outbox kind %q", e.Kind)
	}
}

// Run 按间隔重发，直到 ctx 结束。onFlush 不为空时每轮之后收到剩余条数
func (s *Store) Run(ctx context.Context, sender Sender, interval time.Duration, onFlush func(pending int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Flush(ctx, sender); err != nil && ctx.Err() == nil {
				s.logger.Error("Outbox flush failed", zap.Error(err))
			}
			if onFlush == nil {
				continue
			}
			n, err := s.Len()
			if err != nil {
				s.logger.Warn("Failed to read outbox size", zap.Error(err))
				continue
			}
			onFlush(n)
		}
	}
}

func (s *Store) put(e Entry) error {
	raw, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Put(itob(e.ID), raw)
	})
}

func (s *Store) delete(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Delete(itob(id))
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
