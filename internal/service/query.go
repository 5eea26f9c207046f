package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-envsensor/internal/aggregator"
	"wisefido-envsensor/internal/cache"
	"wisefido-envsensor/internal/classifier"
	"wisefido-envsensor/internal/models"
	"wisefido-envsensor/internal/store"
	"wisefido-envsensor/internal/window"

	"go.uber.org/zap"
)

// ReadingSource 遥测存储的只读视图
type ReadingSource interface {
	Query(limit int, order store.Order) []models.Reading
	Latest() (models.Reading, bool)
}

// LatestCache 实时缓存的只读视图
type LatestCache interface {
	Latest(ctx context.Context) (models.Reading, error)
}

// QueryOptions 查询默认参数
type QueryOptions struct {
	GapMinutes float64
	MaxPoints  int
	Location   *time.Location
}

// QueryService 给可视化端使用的派生视图；不修改存储
type QueryService struct {
	source ReadingSource
	cache  LatestCache
	engine *window.Engine
	opts   QueryOptions
	logger *zap.Logger
}

// NewQueryService 创建查询服务；cache 可为 nil
func NewQueryService(source ReadingSource, cache LatestCache, engine *window.Engine, opts QueryOptions, logger *zap.Logger) *QueryService {
	if opts.GapMinutes <= 0 {
		opts.GapMinutes = window.DefaultGapMinutes
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = window.DefaultMaxPoints
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &QueryService{
		source: source,
		cache:  cache,
		engine: engine,
		opts:   opts,
		logger: logger,
	}
}

// Latest 最近一条读数；本地为空时回退到实时缓存
func (s *QueryService) Latest(ctx context.Context) (models.Reading, bool) {
	if r, ok := s.source.Latest(); ok {
		return r, true
	}
	if s.cache == nil {
		return models.Reading{}, false
	}
	r, err := s.cache.Latest(ctx)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Failed to read latest from cache", zap.Error(err))
		}
		return models.Reading{}, false
	}
	return r, true
}

// Readings 全部读数（新到旧）
func (s *QueryService) Readings() []models.Reading {
	return s.source.Query(0, store.OrderDesc)
}

// Window 最近 minutes 分钟内的读数（新到旧）
func (s *QueryService) Window(minutes float64) ([]models.Reading, error) {
	return s.engine.TimeWindow(s.Readings(), minutes)
}

// SessionPath 最近一段连续会话；参数为 0 时使用默认值
func (s *QueryService) SessionPath(gapMinutes float64, maxPoints int) ([]models.Reading, error) {
	if gapMinutes == 0 {
		gapMinutes = s.opts.GapMinutes
	}
	if maxPoints == 0 {
		maxPoints = s.opts.MaxPoints
	}
	return s.engine.SessionPath(s.Readings(), gapMinutes, maxPoints)
}

// Stats 给定读数集合上某指标的统计
func (s *QueryService) Stats(metric string, readings []models.Reading) (aggregator.Stats, error) {
	m, err := models.ParseMetric(metric)
	if err != nil {
		return aggregator.Stats{}, err
	}
	return aggregator.ComputeStats(readings, m), nil
}

// Classify 指标值分类
func (s *QueryService) Classify(metric string, value float64) (classifier.MetricScore, error) {
	m, err := models.ParseMetric(metric)
	if err != nil {
		return classifier.MetricScore{}, err
	}
	return classifier.Classify(m, value)
}

// ChartSeries 图表序列
func (s *QueryService) ChartSeries(metric string, windowMinutes float64) (window.Series, error) {
	m, err := models.ParseMetric(metric)
	if err != nil {
		return window.Series{}, err
	}
	return s.engine.ChartSeries(s.Readings(), m, windowMinutes)
}

// Radar 雷达图
func (s *QueryService) Radar(readings []models.Reading) aggregator.RadarProfile {
	return aggregator.Radar(readings)
}

// Summarize 摘要上下文
func (s *QueryService) Summarize(readings []models.Reading) aggregator.Summary {
	return aggregator.Summarize(readings)
}

// ByDateHour 按日期（YYYY-MM-DD）与小时过滤；hour < 0 表示整天
func (s *QueryService) ByDateHour(date string, hour int) ([]models.Reading, error) {
	day, err := time.ParseInLocation("2006-01-02", date, s.opts.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", models.ErrQuery, date)
	}
	return window.FilterByDateHour(s.Readings(), day, hour, s.opts.Location)
}

// AvailableDates 存在读数的日期（新到旧，去重）
func (s *QueryService) AvailableDates() []string {
	seen := make(map[string]struct{})
	var dates []string
	for _, r := range s.Readings() {
		d := r.CreatedAt.In(s.opts.Location).Format("2006-01-02")
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	return dates
}

// MapView 地图中心与标记颜色
type MapView struct {
	Center  *[2]float64 `json:"center"`
	Markers []Marker    `json:"markers"`
}

// Marker 地图标记
type Marker struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Value     float64   `json:"value"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// Map 带坐标读数的热力图标记
func (s *QueryService) Map(metric string, readings []models.Reading) (MapView, error) {
	m, err := models.ParseMetric(metric)
	if err != nil {
		return MapView{}, err
	}

	view := MapView{Markers: []Marker{}}
	if lat, lon, ok := aggregator.Centroid(readings); ok {
		view.Center = &[2]float64{lat, lon}
	}
	for _, r := range readings {
		if !r.HasLocation() {
			continue
		}
		v, _ := r.Value(m)
		if !models.IsFinite(v) {
			continue
		}
		color, err := classifier.MarkerColor(m, v)
		if err != nil {
			return MapView{}, err
		}
		view.Markers = append(view.Markers, Marker{
			ID:        r.ID,
			Latitude:  *r.Latitude,
			Longitude: *r.Longitude,
			Value:     v,
			Color:     color,
			CreatedAt: r.CreatedAt,
		})
	}
	return view, nil
}
