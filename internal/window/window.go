package window

import (
	"fmt"
	"math"
	"sort"
	"time"

	"wisefido-envsensor/internal/models"
)

const (
	// DefaultGapMinutes 会话切分的默认间隔阈值
	DefaultGapMinutes = 10
	// DefaultMaxPoints 会话路径默认最多点数
	DefaultMaxPoints = 30
)

// QueryError 视图参数错误
type QueryError struct {
	Param  string
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

func (e *QueryError) Unwrap() error { return models.ErrQuery }

// Engine 时间窗口与会话视图；now 为可注入时钟
type Engine struct {
	now func() time.Time
}

// NewEngine 创建引擎；now 为 nil 时使用 time.Now
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Now 当前时钟
func (e *Engine) Now() time.Time {
	return e.now()
}

// TimeWindow 返回 now - created_at <= duration 的读数（含边界），保持输入顺序
//
// 结果依赖调用时刻，时钟前进后再次调用可能不同。
func (e *Engine) TimeWindow(readings []models.Reading, durationMinutes float64) ([]models.Reading, error) {
	if math.IsNaN(durationMinutes) || durationMinutes < 0 {
		return nil, &QueryError{Param: "duration", Reason: fmt.Sprintf("must be a non-negative number, got %v", durationMinutes)}
	}

	now := e.now()
	out := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if withinWindow(now, r.CreatedAt, durationMinutes) {
			out = append(out, r)
		}
	}
	return out, nil
}

func withinWindow(now, createdAt time.Time, durationMinutes float64) bool {
	if math.IsInf(durationMinutes, 1) {
		return true
	}
	age := now.Sub(createdAt)
	return float64(age) <= durationMinutes*float64(time.Minute)
}

// SessionPath 最近一段连续会话
//
// 升序排序后从最新向前找最后一个 > gap 的间隔，会话为该间隔之后到最新的全部读数；
// 超过 maxPoints 时保留最后 maxPoints 个点，仍按时间升序。
func (e *Engine) SessionPath(readings []models.Reading, gapMinutes float64, maxPoints int) ([]models.Reading, error) {
	if math.IsNaN(gapMinutes) || gapMinutes <= 0 {
		return nil, &QueryError{Param: "gap", Reason: "must be positive"}
	}
	if maxPoints <= 0 {
		return nil, &QueryError{Param: "max_points", Reason: "must be positive"}
	}
	if len(readings) == 0 {
		return []models.Reading{}, nil
	}

	sorted := make([]models.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	gap := time.Duration(gapMinutes * float64(time.Minute))
	start := 0
	for i := len(sorted) - 1; i > 0; i-- {
		if sorted[i].CreatedAt.Sub(sorted[i-1].CreatedAt) > gap {
			start = i
			break
		}
	}

	session := sorted[start:]
	if len(session) > maxPoints {
		session = session[len(session)-maxPoints:]
	}
	return session, nil
}

// Point 图表点：X 为距今分钟数的相反数（<= 0）
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Series 图表序列与纵轴范围
type Series struct {
	Metric models.Metric `json:"metric"`
	Unit   string        `json:"unit"`
	Points []Point       `json:"points"`
	Domain *[2]float64   `json:"domain"`
}

// ChartSeries 窗口内某指标的图表序列，按 X 升序
//
// 跳过非有限值、零时间戳以及未来时间的点。至少两个点时给出纵轴范围：
// [min, max] 各扩展 10%；min == max 时扩展 ±1。
func (e *Engine) ChartSeries(readings []models.Reading, metric models.Metric, windowMinutes float64) (Series, error) {
	if _, err := models.ParseMetric(string(metric)); err != nil {
		return Series{}, &QueryError{Param: "metric", Reason: fmt.Sprintf("unknown metric %q", metric)}
	}
	windowed, err := e.TimeWindow(readings, windowMinutes)
	if err != nil {
		return Series{}, err
	}

	now := e.now()
	series := Series{Metric: metric, Unit: metric.Unit(), Points: []Point{}}
	for _, r := range windowed {
		v, _ := r.Value(metric)
		if !models.IsFinite(v) || r.CreatedAt.IsZero() || r.CreatedAt.After(now) {
			continue
		}
		x := -float64(now.Sub(r.CreatedAt)/time.Millisecond) / 60000
		series.Points = append(series.Points, Point{X: x, Y: v})
	}
	sort.SliceStable(series.Points, func(i, j int) bool {
		return series.Points[i].X < series.Points[j].X
	})

	if len(series.Points) >= 2 {
		lo, hi := series.Points[0].Y, series.Points[0].Y
		for _, p := range series.Points[1:] {
			lo = math.Min(lo, p.Y)
			hi = math.Max(hi, p.Y)
		}
		pad := (hi - lo) * 0.1
		if pad == 0 {
			pad = 1
		}
		series.Domain = &[2]float64{lo - pad, hi + pad}
	}
	return series, nil
}

// FilterByDateHour 按日历日期与小时过滤；date 取其自身的年月日，读数时间换算到 loc 后比较。hour < 0 表示整天
func FilterByDateHour(readings []models.Reading, date time.Time, hour int, loc *time.Location) ([]models.Reading, error) {
	if hour > 23 {
		return nil, &QueryError{Param: "hour", Reason: "must be between 0 and 23"}
	}
	if loc == nil {
		loc = time.Local
	}

	y, m, d := date.Date()
	out := make([]models.Reading, 0)
	for _, r := range readings {
		local := r.CreatedAt.In(loc)
		ry, rm, rd := local.Date()
		if ry != y || rm != m || rd != d {
			continue
		}
		if hour >= 0 && local.Hour() != hour {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
