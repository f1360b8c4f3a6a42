// Package repository 本地 Postgres 行程日志：已结束的行程、轨迹点和保养记录
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier 仓库使用的最小数据库接口，*pgxpool.Pool 和 pgxmock 都满足
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	return Migrate(ctx, db.Pool)
}

// Migrate 在任意 Querier 上执行迁移
func Migrate(ctx context.Context, q Querier) error {
	migrations := []string{
		migrationCreateTrips,
		migrationCreateTripPositions,
		migrationCreateMaintenanceRecords,
	}

	for _, m := range migrations {
		if _, err := q.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// 数据库迁移 SQL
const migrationCreateTrips = `
CREATE TABLE IF NOT EXISTS trips (
    id BIGSERIAL PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL UNIQUE,
    user_id VARCHAR(64) NOT NULL,
    motor_id VARCHAR(64) NOT NULL,
    start_address TEXT,
    destination_address TEXT,
    planned_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    actual_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    planned_fuel_min DOUBLE PRECISION,
    planned_fuel_avg DOUBLE PRECISION,
    planned_fuel_max DOUBLE PRECISION,
    actual_fuel_min DOUBLE PRECISION,
    actual_fuel_avg DOUBLE PRECISION,
    actual_fuel_max DOUBLE PRECISION,
    was_rerouted BOOLEAN NOT NULL DEFAULT FALSE,
    reroute_count INT NOT NULL DEFAULT 0,
    duration_min DOUBLE PRECISION NOT NULL DEFAULT 0,
    arrived BOOLEAN NOT NULL DEFAULT FALSE,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE NOT NULL,
    synced BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_trips_motor_id ON trips(motor_id);
CREATE INDEX IF NOT EXISTS idx_trips_started_at ON trips(started_at);
`

const migrationCreateTripPositions = `
CREATE TABLE IF NOT EXISTS trip_positions (
    id BIGSERIAL PRIMARY KEY,
    trip_id BIGINT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
    seq INT NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    planned BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_trip_positions_trip_id ON trip_positions(trip_id, planned, seq);
`

const migrationCreateMaintenanceRecords = `
CREATE TABLE IF NOT EXISTS maintenance_records (
    id BIGSERIAL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    motor_id VARCHAR(64) NOT NULL,
    session_id VARCHAR(64),
    type VARCHAR(20) NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    quantity DOUBLE PRECISION,
    notes TEXT,
    synced BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_maintenance_records_motor_id ON maintenance_records(motor_id, recorded_at);
`
