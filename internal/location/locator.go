package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Fix 一次定位结果
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
	Source    string    `json:"source"`
}

// Locator 定位提供者，必须遵守 ctx 的取消/超时
type Locator interface {
	Locate(ctx context.Context) (Fix, error)
}

// StaticLocator 固定坐标（固定安装的节点）
type StaticLocator struct {
	Latitude  float64
	Longitude float64
}

func (s StaticLocator) Locate(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	return Fix{Latitude: s.Latitude, Longitude: s.Longitude, At: time.Now(), Source: "static"}, nil
}

// ipGeoResponse IP 定位服务响应（ip-api.com 兼容格式）
type ipGeoResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// HTTPLocator 通过 HTTP 定位服务获取当前位置
type HTTPLocator struct {
	httpClient *resty.Client
	path       string
	logger     *zap.Logger
}

// NewHTTPLocator 创建 HTTP 定位器
// baseURL 如 "http://ip-api.com"，path 如 "/json"
func NewHTTPLocator(baseURL, path string, logger *zap.Logger) *HTTPLocator {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")

	return &HTTPLocator{
		httpClient: client,
		path:       path,
		logger:     logger,
	}
}

// Locate 请求一次定位；超时由调用方 ctx 控制
func (l *HTTPLocator) Locate(ctx context.Context) (Fix, error) {
	var body ipGeoResponse
	resp, err := l.httpClient.R().
		SetContext(ctx).
		SetResult(&body).
		Get(l.path)
	if err != nil {
		return Fix{}, fmt.Errorf("geolocation request failed: %w", err)
	}
	if resp.IsError() {
		return Fix{}, fmt.Errorf("geolocation service returned HTTP %d", resp.StatusCode())
	}
	if body.Status != "" && body.Status != "success" {
		return Fix{}, errors.New("geolocation service error: " + body.Message)
	}

	l.logger.Debug("Geolocation fix",
		zap.Float64("latitude", body.Lat),
		zap.Float64("longitude", body.Lon),
	)

	return Fix{Latitude: body.Lat, Longitude: body.Lon, At: time.Now(), Source: "http"}, nil
}
