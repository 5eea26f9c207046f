package aggregator

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"wisefido-envsensor/internal/classifier"
	"wisefido-envsensor/internal/models"
)

// NoData 无数据时的文本表示
const NoData = "-"

// Measure 统计值：数值或"无数据"
type Measure struct {
	value float64
	valid bool
}

// Of 构造有效统计值
func Of(v float64) Measure {
	return Measure{value: v, valid: true}
}

// Value 数值及是否有效
func (m Measure) Value() (float64, bool) {
	return m.value, m.valid
}

// Valid 是否有数据
func (m Measure) Valid() bool {
	return m.valid
}

func (m Measure) String() string {
	if !m.valid {
		return NoData
	}
	return strconv.FormatFloat(m.value, 'f', -1, 64)
}

// MarshalJSON 无数据输出 null
func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

// Stats 单指标统计
type Stats struct {
	Metric models.Metric `json:"metric"`
	Unit   string        `json:"unit"`
	Min    Measure       `json:"min"`
	Max    Measure       `json:"max"`
	Mean   Measure       `json:"mean"`
	Latest Measure       `json:"latest"`
	Count  int           `json:"count"`
}

// ComputeStats 计算 min / max / mean（两位小数）/ latest
//
// 忽略非有限值；latest 取时间最新的有效读数。空输入全部为无数据，不返回错误。
func ComputeStats(readings []models.Reading, metric models.Metric) Stats {
	st := Stats{Metric: metric, Unit: metric.Unit()}

	var sum float64
	var latestAt time.Time
	for _, r := range readings {
		v, ok := r.Value(metric)
		if !ok || !models.IsFinite(v) {
			continue
		}
		if st.Count == 0 {
			st.Min, st.Max = Of(v), Of(v)
		} else {
			if v < st.Min.value {
				st.Min = Of(v)
			}
			if v > st.Max.value {
				st.Max = Of(v)
			}
		}
		if !st.Latest.valid || !r.CreatedAt.Before(latestAt) {
			st.Latest = Of(v)
			latestAt = r.CreatedAt
		}
		sum += v
		st.Count++
	}

	if st.Count > 0 {
		// 取整后可能越出 [min, max]，夹回观测范围
		mean := classifier.Round2(sum / float64(st.Count))
		st.Mean = Of(math.Max(st.Min.value, math.Min(st.Max.value, mean)))
	}
	return st
}

// AllStats 全部指标的统计
func AllStats(readings []models.Reading) map[models.Metric]Stats {
	out := make(map[models.Metric]Stats, len(models.AllMetrics))
	for _, m := range models.AllMetrics {
		out[m] = ComputeStats(readings, m)
	}
	return out
}

// RadarAxis 雷达图单轴
type RadarAxis struct {
	Metric models.Metric `json:"metric"`
	Label  string        `json:"label"`
	Mean   Measure       `json:"mean"`
	Score  int           `json:"score"`
}

// RadarProfile 雷达图：各指标均值的评分与舒适指数
type RadarProfile struct {
	Axes         []RadarAxis `json:"axes"`
	ComfortIndex Measure     `json:"comfort_index"`
}

// Radar 以各指标均值计算评分；无数据时评分为 0、舒适指数为无数据
func Radar(readings []models.Reading) RadarProfile {
	profile := RadarProfile{Axes: make([]RadarAxis, 0, len(models.AllMetrics))}
	means := make(map[models.Metric]float64, len(models.AllMetrics))

	for _, m := range models.AllMetrics {
		st := ComputeStats(readings, m)
		axis := RadarAxis{Metric: m, Label: m.Label(), Mean: st.Mean}
		if mean, ok := st.Mean.Value(); ok {
			axis.Score = classifier.ComfortScore(m, mean)
			means[m] = mean
		}
		profile.Axes = append(profile.Axes, axis)
	}

	t, okT := means[models.MetricTemperature]
	h, okH := means[models.MetricHumidity]
	aq, okA := means[models.MetricAirQuality]
	if okT && okH && okA {
		profile.ComfortIndex = Of(classifier.ComfortIndex(t, h, aq))
	}
	return profile
}

// Centroid 带坐标读数的中心点
func Centroid(readings []models.Reading) (lat, lon float64, ok bool) {
	var n int
	for _, r := range readings {
		if !r.HasLocation() {
			continue
		}
		lat += *r.Latitude
		lon += *r.Longitude
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return lat / float64(n), lon / float64(n), true
}

// SummaryLocationLimit 摘要中位置点数量
const SummaryLocationLimit = 10

// Summary 提供给摘要协作方的上下文
type Summary struct {
	Summary      map[models.Metric]Stats `json:"summary"`
	LocationData []models.Reading        `json:"locationData"`
}

// Summarize 各指标统计 + 最近 10 条带坐标读数（新到旧）
func Summarize(readings []models.Reading) Summary {
	located := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if r.HasLocation() {
			located = append(located, r)
		}
	}
	sort.SliceStable(located, func(i, j int) bool {
		return located[i].CreatedAt.After(located[j].CreatedAt)
	})
	if len(located) > SummaryLocationLimit {
		located = located[:SummaryLocationLimit]
	}

	return Summary{
		Summary:      AllStats(readings),
		LocationData: located,
	}
}

// IsNoData 统计是否为空
func (s Stats) IsNoData() bool {
	return s.Count == 0
}
