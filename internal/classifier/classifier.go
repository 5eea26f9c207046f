// Package classifier 把原始指标值映射为展示分档与 1–5 舒适度评分。
//
// 两张表相互独立：分档（标签+颜色）用于展示，评分用于雷达图与舒适指数，
// 二者阈值不一致是有意保留的。
package classifier

import (
	"fmt"
	"math"

	"wisefido-envsensor/internal/models"
)

// Band 展示分档
type Band struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// MetricScore 单个指标值的分类结果
type MetricScore struct {
	Metric        models.Metric `json:"metric"`
	Value         float64       `json:"value"`
	BandLabel     string        `json:"band_label"`
	BandColor     string        `json:"band_color"`
	ComfortBucket int           `json:"comfort_bucket"`
}

// Classify 返回指标值的分档与评分
func Classify(metric models.Metric, value float64) (MetricScore, error) {
	if _, err := models.ParseMetric(string(metric)); err != nil {
		return MetricScore{}, err
	}
	if !models.IsFinite(value) {
		return MetricScore{}, fmt.Errorf("%w: value must be finite", models.ErrQuery)
	}

	band := BandFor(metric, value)
	return MetricScore{
		Metric:        metric,
		Value:         value,
		BandLabel:     band.Label,
		BandColor:     band.Color,
		ComfortBucket: ComfortScore(metric, value),
	}, nil
}

// BandFor 按指标选择分档表
func BandFor(metric models.Metric, value float64) Band {
	switch metric {
	case models.MetricTemperature:
		return TemperatureBand(value)
	case models.MetricHumidity:
		return HumidityBand(value)
	case models.MetricPressure:
		return PressureBand(value)
	case models.MetricAirQuality:
		return AirQualityBand(value)
	}
	return Band{}
}

// TemperatureBand 温度分档（°C）
func TemperatureBand(t float64) Band {
	switch {
	case t < 10:
		return Band{Label: "cold", Color: "#3498db"}
	case t < 18:
		return Band{Label: "cool", Color: "#5dade2"}
	case t < 25:
		return Band{Label: "comfortable", Color: "#27ae60"}
	case t < 30:
		return Band{Label: "warm", Color: "#f39c12"}
	default:
		return Band{Label: "hot", Color: "#e74c3c"}
	}
}

// AirQualityBand 空气质量分档：数值越高越好
func AirQualityBand(aq float64) Band {
	switch {
	case aq > 20:
		return Band{Label: "Excellent", Color: "#2ecc40"}
	case aq > 10:
		return Band{Label: "Good", Color: "#27ae60"}
	case aq > 5:
		return Band{Label: "Moderate", Color: "#f1c40f"}
	case aq > 2:
		return Band{Label: "Poor", Color: "#e67e22"}
	default:
		return Band{Label: "Very Poor", Color: "#e74c3c"}
	}
}

// HumidityBand 湿度分档（%），与热力图标记颜色一致
func HumidityBand(h float64) Band {
	switch {
	case h <= 30:
		return Band{Label: "dry", Color: "#2b83ba"}
	case h <= 60:
		return Band{Label: "comfortable", Color: "#abdda4"}
	default:
		return Band{Label: "humid", Color: "#d7191c"}
	}
}

// PressureBand 气压分档（hPa）
func PressureBand(p float64) Band {
	switch {
	case p <= 1013:
		return Band{Label: "low", Color: "#2b83ba"}
	case p <= 1025:
		return Band{Label: "normal", Color: "#abdda4"}
	default:
		return Band{Label: "high", Color: "#d7191c"}
	}
}

// comfortRange 闭区间 [Lo, Hi] 对应的评分；由内向外排列，先命中者优先
type comfortRange struct {
	Lo, Hi float64
	Score  int
}

var (
	temperatureComfort = []comfortRange{
		{21, 24, 5},
		{18, 27, 4},
		{15, 30, 3},
		{10, 33, 2},
	}
	humidityComfort = []comfortRange{
		{40, 60, 5},
		{30, 70, 4},
		{20, 80, 3},
		{10, 90, 2},
	}
	pressureComfort = []comfortRange{
		{1010, 1020, 5},
		{1005, 1025, 4},
		{1000, 1030, 3},
		{990, 1040, 2},
	}
)

// ComfortScore 1–5 舒适度评分；未知指标返回 0
func ComfortScore(metric models.Metric, v float64) int {
	switch metric {
	case models.MetricTemperature:
		return rangeScore(temperatureComfort, v)
	case models.MetricHumidity:
		return rangeScore(humidityComfort, v)
	case models.MetricPressure:
		return rangeScore(pressureComfort, v)
	case models.MetricAirQuality:
		return airQualityScore(v)
	}
	return 0
}

func rangeScore(table []comfortRange, v float64) int {
	for _, r := range table {
		if v >= r.Lo && v <= r.Hi {
			return r.Score
		}
	}
	return 1
}

// airQualityScore 指数越低越好
func airQualityScore(aq float64) int {
	switch {
	case aq <= 50:
		return 5
	case aq <= 100:
		return 4
	case aq <= 150:
		return 3
	case aq <= 200:
		return 2
	default:
		return 1
	}
}

// ComfortIndex 温度、湿度、空气质量评分的平均值，保留两位小数
func ComfortIndex(temperature, humidity, airQuality float64) float64 {
	sum := ComfortScore(models.MetricTemperature, temperature) +
		ComfortScore(models.MetricHumidity, humidity) +
		ComfortScore(models.MetricAirQuality, airQuality)
	return Round2(float64(sum) / 3)
}

// Round2 四舍五入到两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
