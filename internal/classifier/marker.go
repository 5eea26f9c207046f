package classifier

import (
	"fmt"
	"math"

	"wisefido-envsensor/internal/models"
)

// 温度渐变范围（°C）
const (
	GradientMinTemp = -30.0
	GradientMaxTemp = 40.0
)

type gradientStop struct {
	pos float64
	rgb [3]float64
}

var temperatureStops = []gradientStop{
	{0, [3]float64{49, 54, 149}},
	{0.17, [3]float64{69, 117, 180}},
	{0.33, [3]float64{116, 173, 209}},
	{0.5, [3]float64{171, 221, 164}},
	{0.67, [3]float64{253, 231, 37}},
	{0.83, [3]float64{244, 109, 67}},
	{1, [3]float64{165, 0, 38}},
}

// TemperatureGradient 温度在 [-30, 40] 上的连续颜色，超出范围时取端点
func TemperatureGradient(t float64) string {
	pos := (t - GradientMinTemp) / (GradientMaxTemp - GradientMinTemp)
	pos = math.Max(0, math.Min(1, pos))

	for i := 1; i < len(temperatureStops); i++ {
		lo, hi := temperatureStops[i-1], temperatureStops[i]
		if pos > hi.pos {
			continue
		}
		f := (pos - lo.pos) / (hi.pos - lo.pos)
		var c [3]int
		for k := range c {
			c[k] = int(math.Round(lo.rgb[k] + f*(hi.rgb[k]-lo.rgb[k])))
		}
		return fmt.Sprintf("rgb(%d,%d,%d)", c[0], c[1], c[2])
	}
	last := temperatureStops[len(temperatureStops)-1].rgb
	return fmt.Sprintf("rgb(%d,%d,%d)", int(last[0]), int(last[1]), int(last[2]))
}

// MarkerColor 地图标记颜色
func MarkerColor(metric models.Metric, v float64) (string, error) {
	switch metric {
	case models.MetricTemperature:
		return TemperatureGradient(v), nil
	case models.MetricHumidity:
		return HumidityBand(v).Color, nil
	case models.MetricPressure:
		return PressureBand(v).Color, nil
	case models.MetricAirQuality:
		switch {
		case v <= 50:
			return "#43a047", nil
		case v <= 100:
			return "#ffee58", nil
		default:
			return "#d32f2f", nil
		}
	}
	return "", fmt.Errorf("%w: unknown metric %q", models.ErrQuery, metric)
}
