package aggregator

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"wisefido-envsensor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func r(minute int, temp, hum, aq float64) models.Reading {
	return models.Reading{
		ID:          time.Duration(minute).String(),
		CreatedAt:   base.Add(time.Duration(minute) * time.Minute),
		Temperature: temp,
		Humidity:    hum,
		Pressure:    1013,
		AirQuality:  aq,
	}
}

func TestComputeStats_Basic(t *testing.T) {
	rs := []models.Reading{r(2, 23, 50, 10), r(0, 20, 40, 12), r(1, 21.5, 45, 14)}

	st := ComputeStats(rs, models.MetricTemperature)
	assert.Equal(t, 3, st.Count)
	assertMeasure(t, 20, st.Min)
	assertMeasure(t, 23, st.Max)
	assertMeasure(t, 21.5, st.Mean)
	assertMeasure(t, 23, st.Latest)

	min, _ := st.Min.Value()
	mean, _ := st.Mean.Value()
	max, _ := st.Max.Value()
	assert.LessOrEqual(t, min, mean)
	assert.LessOrEqual(t, mean, max)
}

func TestComputeStats_MeanRoundedToTwoDecimals(t *testing.T) {
	rs := []models.Reading{r(0, 20, 0, 0), r(1, 20, 0, 0), r(2, 21, 0, 0)}
	st := ComputeStats(rs, models.MetricTemperature)
	assertMeasure(t, 20.33, st.Mean)
}

func TestComputeStats_MeanWithinRange(t *testing.T) {
	sets := [][]float64{
		{1.005, 1.005},
		{2.675},
		{-1.005, -1.005, -1.005},
		{0.125, 0.125},
		{1.0049, 1.0051, 1.005},
	}
	for _, set := range sets {
		rs := make([]models.Reading, 0, len(set))
		for i, v := range set {
			rs = append(rs, r(i, v, 0, 0))
		}
		st := ComputeStats(rs, models.MetricTemperature)
		min, _ := st.Min.Value()
		mean, _ := st.Mean.Value()
		max, _ := st.Max.Value()
		assert.LessOrEqual(t, min, mean, "set %v", set)
		assert.LessOrEqual(t, mean, max, "set %v", set)
	}
}

func TestComputeStats_EmptyIsNoData(t *testing.T) {
	st := ComputeStats(nil, models.MetricHumidity)
	assert.True(t, st.IsNoData())
	for _, m := range []Measure{st.Min, st.Max, st.Mean, st.Latest} {
		assert.False(t, m.Valid())
		assert.Equal(t, "-", m.String())
	}

	b, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"humidity","unit":"%","min":null,"max":null,"mean":null,"latest":null,"count":0}`, string(b))
}

func TestComputeStats_IgnoresNonFinite(t *testing.T) {
	rs := []models.Reading{r(0, 20, 0, 0), r(5, math.NaN(), 0, 0), r(3, math.Inf(1), 0, 0)}
	st := ComputeStats(rs, models.MetricTemperature)
	assert.Equal(t, 1, st.Count)
	assertMeasure(t, 20, st.Latest)
}

func TestRadar(t *testing.T) {
	rs := []models.Reading{r(0, 22, 50, 15), r(1, 22, 50, 15)}
	p := Radar(rs)
	require.Len(t, p.Axes, 4)
	assert.Equal(t, models.MetricTemperature, p.Axes[0].Metric)
	assert.Equal(t, 5, p.Axes[0].Score)
	assertMeasure(t, 5, p.ComfortIndex)

	empty := Radar(nil)
	assert.False(t, empty.ComfortIndex.Valid())
	assert.Equal(t, 0, empty.Axes[0].Score)
}

func TestCentroid(t *testing.T) {
	rs := []models.Reading{
		r(0, 1, 1, 1).WithLocation(10, 20),
		r(1, 1, 1, 1).WithLocation(20, 40),
		r(2, 1, 1, 1),
	}
	lat, lon, ok := Centroid(rs)
	require.True(t, ok)
	assert.Equal(t, 15.0, lat)
	assert.Equal(t, 30.0, lon)

	_, _, ok = Centroid([]models.Reading{r(0, 1, 1, 1)})
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	var rs []models.Reading
	for i := 0; i < 15; i++ {
		rs = append(rs, r(i, 20, 50, 10).WithLocation(1+float64(i), 2))
	}
	rs = append(rs, r(99, 20, 50, 10)) // 无坐标

	s := Summarize(rs)
	require.Len(t, s.LocationData, 10)
	assert.Equal(t, base.Add(14*time.Minute), s.LocationData[0].CreatedAt)
	assert.Equal(t, base.Add(5*time.Minute), s.LocationData[9].CreatedAt)
	assert.Equal(t, 16, s.Summary[models.MetricTemperature].Count)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"locationData"`)
}

func assertMeasure(t *testing.T, want float64, m Measure) {
	t.Helper()
	v, ok := m.Value()
	require.True(t, ok)
	assert.InDelta(t, want, v, 1e-9)
}
