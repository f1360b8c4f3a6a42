package repository

import (
	"context"
	"fmt"

	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/models"
)

// MaintenanceRepository 保养记录仓库
type MaintenanceRepository struct {
	db Querier
}

// NewMaintenanceRepository 创建保养记录仓库
func NewMaintenanceRepository(db Querier) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// Create 写入保养记录
func (r *MaintenanceRepository) Create(ctx context.Context, e *models.MaintenanceEntry) error {
	query := `
		INSERT INTO maintenance_records (user_id, motor_id, session_id, type, recorded_at, latitude, longitude, cost, quantity, notes, synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		e.UserID,
		e.MotorID,
		e.SessionID,
		string(e.Type),
		e.Timestamp,
		e.Location.Latitude,
		e.Location.Longitude,
		e.Cost,
		e.Quantity,
		e.Notes,
		e.Synced,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert maintenance record: %w", err)
	}
	return nil
}

// ListByMotorID 按时间倒序获取车辆的保养记录
func (r *MaintenanceRepository) ListByMotorID(ctx context.Context, motorID string, limit int) ([]*models.MaintenanceEntry, error) {
	query := `
		SELECT id, user_id, motor_id, COALESCE(session_id, ''), type, recorded_at,
			COALESCE(latitude, 0), COALESCE(longitude, 0), cost, quantity, COALESCE(notes, ''), synced
		FROM maintenance_records WHERE motor_id = $1 ORDER BY recorded_at DESC LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, motorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list maintenance records: %w", err)
	}
	defer rows.Close()

	var entries []*models.MaintenanceEntry
	for rows.Next() {
		e := &models.MaintenanceEntry{}
		var typ string
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.MotorID,
			&e.SessionID,
			&typ,
			&e.Timestamp,
			&e.Location.Latitude,
			&e.Location.Longitude,
			&e.Cost,
			&e.Quantity,
			&e.Notes,
			&e.Synced,
		)
		if err != nil {
			return nil, fmt.Errorf("scan maintenance record: %w", err)
		}
		e.Type = models.MaintenanceType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RefuelSamples 相邻两次加油之间的行程里程与第二次的加油量，用于标定油耗
func (r *MaintenanceRepository) RefuelSamples(ctx context.Context, motorID string) ([]fuel.RefuelSample, error) {
	query := `
		WITH refuels AS (
			SELECT recorded_at, quantity, LAG(recorded_at) OVER (ORDER BY recorded_at) AS prev_at
			FROM maintenance_records
			WHERE motor_id = $1 AND type = 'refuel' AND quantity IS NOT NULL AND quantity > 0
		)
		SELECT COALESCE((
			SELECT SUM(t.actual_distance_km) FROM trips t
			WHERE t.motor_id = $1 AND t.ended_at > r.prev_at AND t.ended_at <= r.recorded_at
		), 0), r.quantity
		FROM refuels r WHERE r.prev_at IS NOT NULL ORDER BY r.recorded_at
	`
	rows, err := r.db.Query(ctx, query, motorID)
	if err != nil {
		return nil, fmt.Errorf("query refuel samples: %w", err)
	}
	defer rows.Close()

	var samples []fuel.RefuelSample
	for rows.Next() {
		var s fuel.RefuelSample
		if err := rows.Scan(&s.DistanceKm, &s.Liters); err != nil {
			return nil, fmt.Errorf("scan refuel sample: %w", err)
		}
		if s.DistanceKm > 0 {
			samples = append(samples, s)
		}
	}
	return samples, rows.Err()
}
