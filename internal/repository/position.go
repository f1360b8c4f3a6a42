package repository

import (
	"context"
	"fmt"

	"github.com/langchou/motonav/internal/models"
)

// PositionRepository 行程轨迹点仓库
type PositionRepository struct {
	db Querier
}

// NewPositionRepository 创建轨迹仓库
func NewPositionRepository(db Querier) *PositionRepository {
	return &PositionRepository{db: db}
}

// CreatePath 一次写入整条折线，planned 区分计划路线与实际轨迹
func (r *PositionRepository) CreatePath(ctx context.Context, tripID int64, path []models.Coordinate, planned bool) error {
	if len(path) == 0 {
		return nil
	}

	seqs := make([]int32, len(path))
	lats := make([]float64, len(path))
	lngs := make([]float64, len(path))
	for i, c := range path {
		seqs[i] = int32(i)
		lats[i] = c.Latitude
		lngs[i] = c.Longitude
	}

	query := `
		INSERT INTO trip_positions (trip_id, seq, latitude, longitude, planned)
		SELECT $1, t.seq, t.lat, t.lng, $5
		FROM unnest($2::int[], $3::float8[], $4::float8[]) AS t(seq, lat, lng)
	`
	if _, err := r.db.Exec(ctx, query, tripID, seqs, lats, lngs, planned); err != nil {
		return fmt.Errorf("insert trip positions: %w", err)
	}
	return nil
}

// ListByTripID 按顺序获取轨迹点
func (r *PositionRepository) ListByTripID(ctx context.Context, tripID int64, planned bool) ([]*models.TripPosition, error) {
	query := `
		SELECT id, trip_id, seq, latitude, longitude, planned
		FROM trip_positions WHERE trip_id = $1 AND planned = $2 ORDER BY seq
	`
	rows, err := r.db.Query(ctx, query, tripID, planned)
	if err != nil {
		return nil, fmt.Errorf("list trip positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.TripPosition
	for rows.Next() {
		p := &models.TripPosition{}
		if err := rows.Scan(&p.ID, &p.TripID, &p.Seq, &p.Latitude, &p.Longitude, &p.Planned); err != nil {
			return nil, fmt.Errorf("scan trip position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
