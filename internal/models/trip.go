package models

import "time"

// TripSummary 行程结束时对计划与实际数据的汇总，是唯一写入后端的实体
type TripSummary struct {
	SessionID          string       `json:"sessionId"`
	UserID             string       `json:"userId"`
	MotorID            string       `json:"motorId"`
	DestinationAddress string       `json:"destinationAddress"`
	StartAddress       string       `json:"startAddress"`
	PlannedDistanceKm  float64      `json:"plannedDistanceKm"`
	ActualDistanceKm   float64      `json:"actualDistanceKm"`
	PlannedFuelRange   FuelRange    `json:"plannedFuelRange"`
	ActualFuelRange    FuelRange    `json:"actualFuelRange"`
	WasRerouted        bool         `json:"wasRerouted"`
	RerouteCount       int          `json:"rerouteCount"`
	DurationMinutes    float64      `json:"durationMinutes"`
	Arrived            bool         `json:"arrived"`
	StartedAt          time.Time    `json:"startedAt"`
	EndedAt            time.Time    `json:"endedAt"`
	Path               []Coordinate `json:"path"`
	PlannedPath        []Coordinate `json:"plannedPath"`
}

// TripRecord 本地行程日志中的一条记录
type TripRecord struct {
	ID int64 `json:"id" db:"id"`
	TripSummary
	Synced bool `json:"synced" db:"synced"` // 是否已成功写入后端
}

// TripPosition 行程轨迹点
type TripPosition struct {
	ID        int64   `json:"id" db:"id"`
	TripID    int64   `json:"trip_id" db:"trip_id"`
	Seq       int     `json:"seq" db:"seq"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Planned   bool    `json:"planned" db:"planned"` // true=计划路线，false=实际轨迹
}
