package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-envsensor/internal/models"

	"go.uber.org/zap"
)

// SQLReadingRepository 读数表（Postgres / SQLite）
//
// 表结构：
//
//	sensor_data(id, created_at, temperature, humidity, pressure, air_quality, latitude, longitude)
type SQLReadingRepository struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewSQLReadingRepository 创建 SQL 仓库
func NewSQLReadingRepository(db *sql.DB, table string, logger *zap.Logger) *SQLReadingRepository {
	if table == "" {
		table = "sensor_data"
	}
	return &SQLReadingRepository{
		db:     db,
		table:  table,
		logger: logger,
	}
}

// EnsureSchema 建表（两种驱动通用的 DDL）
func (r *SQLReadingRepository) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + r.table + ` (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		humidity DOUBLE PRECISION NOT NULL,
		pressure DOUBLE PRECISION NOT NULL,
		air_quality DOUBLE PRECISION NOT NULL,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION
	)`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.table, err)
	}
	return nil
}

// Insert 写入一条读数（id / created_at 使用本地生成值）
func (r *SQLReadingRepository) Insert(ctx context.Context, reading models.Reading) (models.Reading, error) {
	query := `
		INSERT INTO ` + r.table + ` (
			id, temperature, humidity, pressure, air_quality, latitude, longitude, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	var lat, lon sql.NullFloat64
	if reading.Latitude != nil {
		lat = sql.NullFloat64{Float64: *reading.Latitude, Valid: true}
	}
	if reading.Longitude != nil {
		lon = sql.NullFloat64{Float64: *reading.Longitude, Valid: true}
	}

	saved := reading
	err := r.db.QueryRowContext(ctx, query,
		reading.ID,
		reading.Temperature,
		reading.Humidity,
		reading.Pressure,
		reading.AirQuality,
		lat,
		lon,
		reading.CreatedAt.UTC(),
	).Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		return models.Reading{}, fmt.Errorf("failed to insert reading: %w", err)
	}
	return saved, nil
}

// List 按 created_at 倒序读取最近 limit 条
func (r *SQLReadingRepository) List(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, created_at, temperature, humidity, pressure, air_quality, latitude, longitude
		FROM ` + r.table + `
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var reading models.Reading
		var lat, lon sql.NullFloat64

		if err := rows.Scan(
			&reading.ID,
			&reading.CreatedAt,
			&reading.Temperature,
			&reading.Humidity,
			&reading.Pressure,
			&reading.AirQuality,
			&lat,
			&lon,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}

		if lat.Valid && lon.Valid {
			reading = reading.WithLocation(lat.Float64, lon.Float64)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}
