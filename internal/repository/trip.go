package repository

import (
	"context"
	"fmt"

	"github.com/langchou/motonav/internal/models"
)

// TripRepository 行程数据仓库
type TripRepository struct {
	db Querier
}

// NewTripRepository 创建行程仓库
func NewTripRepository(db Querier) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `id, session_id, user_id, motor_id, COALESCE(start_address, ''), COALESCE(destination_address, ''),
			planned_distance_km, actual_distance_km,
			planned_fuel_min, planned_fuel_avg, planned_fuel_max,
			actual_fuel_min, actual_fuel_avg, actual_fuel_max,
			was_rerouted, reroute_count, duration_min, arrived, started_at, ended_at, synced`

// Create 写入行程，同一会话重复写入时只更新同步标记
func (r *TripRepository) Create(ctx context.Context, trip *models.TripRecord) error {
	query := `
		INSERT INTO trips (session_id, user_id, motor_id, start_address, destination_address,
			planned_distance_km, actual_distance_km,
			planned_fuel_min, planned_fuel_avg, planned_fuel_max,
			actual_fuel_min, actual_fuel_avg, actual_fuel_max,
			was_rerouted, reroute_count, duration_min, arrived, started_at, ended_at, synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (session_id) DO UPDATE SET synced = EXCLUDED.synced
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		trip.SessionID,
		trip.UserID,
		trip.MotorID,
		trip.StartAddress,
		trip.DestinationAddress,
		trip.PlannedDistanceKm,
		trip.ActualDistanceKm,
		trip.PlannedFuelRange.Min,
		trip.PlannedFuelRange.Avg,
		trip.PlannedFuelRange.Max,
		trip.ActualFuelRange.Min,
		trip.ActualFuelRange.Avg,
		trip.ActualFuelRange.Max,
		trip.WasRerouted,
		trip.RerouteCount,
		trip.DurationMinutes,
		trip.Arrived,
		trip.StartedAt,
		trip.EndedAt,
		trip.Synced,
	).Scan(&trip.ID)

	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

// MarkSynced 标记为已写入后端
func (r *TripRepository) MarkSynced(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `UPDATE trips SET synced = TRUE WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("mark trip synced: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.TripRecord, error) {
	t := &models.TripRecord{}
	err := row.Scan(
		&t.ID,
		&t.SessionID,
		&t.UserID,
		&t.MotorID,
		&t.StartAddress,
		&t.DestinationAddress,
		&t.PlannedDistanceKm,
		&t.ActualDistanceKm,
		&t.PlannedFuelRange.Min,
		&t.PlannedFuelRange.Avg,
		&t.PlannedFuelRange.Max,
		&t.ActualFuelRange.Min,
		&t.ActualFuelRange.Avg,
		&t.ActualFuelRange.Max,
		&t.WasRerouted,
		&t.RerouteCount,
		&t.DurationMinutes,
		&t.Arrived,
		&t.StartedAt,
		&t.EndedAt,
		&t.Synced,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByID 获取行程
func (r *TripRepository) GetByID(ctx context.Context, id int64) (*models.TripRecord, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	trip, err := scanTrip(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get trip by id: %w", err)
	}
	return trip, nil
}

// List 按开始时间倒序列出行程，motorID 为空时不过滤
func (r *TripRepository) List(ctx context.Context, motorID string, limit, offset int) ([]*models.TripRecord, error) {
	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE ($1 = '' OR motor_id = $1) ORDER BY started_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, motorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.TripRecord
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// Count 统计行程数
func (r *TripRepository) Count(ctx context.Context, motorID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM trips WHERE ($1 = '' OR motor_id = $1)`, motorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return count, nil
}
