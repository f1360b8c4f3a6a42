package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/models"
)

// Journal 组合三个仓库，供服务层记录行程与保养
type Journal struct {
	Trips       *TripRepository
	Positions   *PositionRepository
	Maintenance *MaintenanceRepository
	logger      *zap.Logger
}

// NewJournal 创建行程日志
func NewJournal(db Querier, logger *zap.Logger) *Journal {
	return &Journal{
		Trips:       NewTripRepository(db),
		Positions:   NewPositionRepository(db),
		Maintenance: NewMaintenanceRepository(db),
		logger:      logger,
	}
}

// RecordTrip 写入行程及其实际轨迹和计划路线
func (j *Journal) RecordTrip(ctx context.Context, trip models.TripSummary, synced bool) (*models.TripRecord, error) {
	rec := &models.TripRecord{TripSummary: trip, Synced: synced}
	if err := j.Trips.Create(ctx, rec); err != nil {
		return nil, err
	}
	if err := j.Positions.CreatePath(ctx, rec.ID, trip.Path, false); err != nil {
		return nil, fmt.Errorf("record actual path: %w", err)
	}
	if err := j.Positions.CreatePath(ctx, rec.ID, trip.PlannedPath, true); err != nil {
		return nil, fmt.Errorf("record planned path: %w", err)
	}

	j.logger.Info("Trip recorded in journal",
		zap.Int64("trip_id", rec.ID),
		zap.String("session_id", trip.SessionID),
		zap.Bool("synced", synced))
	return rec, nil
}

// RecordMaintenance 写入保养记录
func (j *Journal) RecordMaintenance(ctx context.Context, entry *models.MaintenanceEntry) error {
	return j.Maintenance.Create(ctx, entry)
}

// RefuelSamples 车辆的加油样本
func (j *Journal) RefuelSamples(ctx context.Context, motorID string) ([]fuel.RefuelSample, error) {
	return j.Maintenance.RefuelSamples(ctx, motorID)
}
