package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wisefido-envsensor/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/relvacode/iso8601"
	"go.uber.org/zap"
)

// RESTConfig PostgREST 风格远端存储配置
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Table   string
	Timeout time.Duration
}

// RESTReadingRepository 通过 REST 接口读写读数
type RESTReadingRepository struct {
	httpClient *resty.Client
	path       string
	logger     *zap.Logger
}

// restRow 服务端返回的行；id 可能是整数或 uuid
type restRow struct {
	ID          json.RawMessage `json:"id"`
	CreatedAt   string          `json:"created_at"`
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	Pressure    *float64        `json:"pressure"`
	AirQuality  *float64        `json:"air_quality"`
	Latitude    *float64        `json:"latitude"`
	Longitude   *float64        `json:"longitude"`
}

// restInsert 写入请求体（id / created_at 由服务端生成）
type restInsert struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Pressure    float64  `json:"pressure"`
	AirQuality  float64  `json:"air_quality"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// NewRESTReadingRepository 创建 REST 仓库
func NewRESTReadingRepository(cfg RESTConfig, logger *zap.Logger) *RESTReadingRepository {
	if cfg.Table == "" {
		cfg.Table = "sensor_data"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey).
			SetAuthToken(cfg.APIKey)
	}

	return &RESTReadingRepository{
		httpClient: client,
		path:       "/rest/v1/" + cfg.Table,
		logger:     logger,
	}
}

// Insert 写入一条读数，返回服务端生成的 id / created_at
func (r *RESTReadingRepository) Insert(ctx context.Context, reading models.Reading) (models.Reading, error) {
	body := restInsert{
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		Pressure:    reading.Pressure,
		AirQuality:  reading.AirQuality,
		Latitude:    reading.Latitude,
		Longitude:   reading.Longitude,
	}

	var rows []restRow
	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		SetResult(&rows).
		Post(r.path)
	if err != nil {
		return models.Reading{}, fmt.Errorf("failed to insert reading: %w", err)
	}
	if resp.IsError() {
		r.logger.Error("Remote insert rejected",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return models.Reading{}, fmt.Errorf("remote insert returned HTTP %d", resp.StatusCode())
	}

	// 未返回 representation 时保留本地 id / 时间
	if len(rows) == 0 {
		return reading, nil
	}
	saved, err := rows[0].toReading()
	if err != nil {
		// 服务端已写入；尽量采用其 id，避免轮询时重复合并
		r.logger.Warn("Remote insert returned unusable representation, keeping local values",
			zap.String("reading_id", reading.ID),
			zap.Error(err),
		)
		if id, idErr := rawID(rows[0].ID); idErr == nil {
			reading.ID = id
		}
		return reading, nil
	}
	return saved, nil
}

// List 按 created_at 倒序读取最近 limit 条
func (r *RESTReadingRepository) List(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []restRow
	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select": "*",
			"order":  "created_at.desc",
			"limit":  strconv.Itoa(limit),
		}).
		SetResult(&rows).
		Get(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote list returned HTTP %d", resp.StatusCode())
	}

	readings := make([]models.Reading, 0, len(rows))
	for _, row := range rows {
		reading, err := row.toReading()
		if err != nil {
			// 单行格式错误不影响整批
			r.logger.Warn("Skipping malformed remote row", zap.Error(err))
			continue
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

func (row restRow) toReading() (models.Reading, error) {
	id, err := rawID(row.ID)
	if err != nil {
		return models.Reading{}, err
	}
	if row.Temperature == nil || row.Humidity == nil || row.Pressure == nil || row.AirQuality == nil {
		return models.Reading{}, fmt.Errorf("row %s: missing metric value", id)
	}
	createdAt, err := iso8601.ParseString(row.CreatedAt)
	if err != nil {
		return models.Reading{}, fmt.Errorf("row %s: invalid created_at %q: %w", id, row.CreatedAt, err)
	}

	return models.Reading{
		ID:          id,
		CreatedAt:   createdAt,
		Temperature: *row.Temperature,
		Humidity:    *row.Humidity,
		Pressure:    *row.Pressure,
		AirQuality:  *row.AirQuality,
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
	}, nil
}

func rawID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("row without id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid id: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}
