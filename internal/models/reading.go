package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrQuery 派生视图参数错误（窗口/指标等）
var ErrQuery = errors.New("invalid query")

// Reading 一条环境读数
//
// 数值字段在解码时必填；位置字段在定位成功之前为空。
// (0,0) 是"无定位"保留值，不会被写入存储。
type Reading struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	AirQuality  float64   `json:"air_quality"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
}

// HasLocation 是否带有效坐标（非空且不是 (0,0)）
func (r Reading) HasLocation() bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return !IsNoFix(*r.Latitude, *r.Longitude)
}

// WithLocation 返回附加坐标后的副本
func (r Reading) WithLocation(lat, lon float64) Reading {
	r.Latitude = &lat
	r.Longitude = &lon
	return r
}

// Value 按指标取值
func (r Reading) Value(m Metric) (float64, bool) {
	switch m {
	case MetricTemperature:
		return r.Temperature, true
	case MetricHumidity:
		return r.Humidity, true
	case MetricPressure:
		return r.Pressure, true
	case MetricAirQuality:
		return r.AirQuality, true
	}
	return 0, false
}

// IsNoFix 判断坐标是否为 (0,0) 哨兵值
func IsNoFix(lat, lon float64) bool {
	return lat == 0 && lon == 0
}

// IsFinite 数值是否有限
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Metric 指标名称（与设备上报的 JSON 键一致）
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricPressure    Metric = "pressure"
	MetricAirQuality  Metric = "air_quality"
)

// AllMetrics 全部指标，按展示顺序
var AllMetrics = []Metric{MetricTemperature, MetricHumidity, MetricPressure, MetricAirQuality}

// ParseMetric 解析指标名称
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricTemperature, MetricHumidity, MetricPressure, MetricAirQuality:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrQuery, s)
}

// Unit 指标单位
func (m Metric) Unit() string {
	switch m {
	case MetricTemperature:
		return "°C"
	case MetricHumidity:
		return "%"
	case MetricPressure:
		return "hPa"
	case MetricAirQuality:
		return "IAQ"
	}
	return ""
}

// Label 指标显示名称
func (m Metric) Label() string {
	switch m {
	case MetricTemperature:
		return "Temperature"
	case MetricHumidity:
		return "Humidity"
	case MetricPressure:
		return "Pressure"
	case MetricAirQuality:
		return "Air Quality"
	}
	return string(m)
}
