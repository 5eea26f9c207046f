package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReading_HasLocation(t *testing.T) {
	r := Reading{}
	assert.False(t, r.HasLocation())

	assert.False(t, r.WithLocation(0, 0).HasLocation())
	assert.True(t, r.WithLocation(0, 12.5).HasLocation())
	assert.True(t, r.WithLocation(47.37, 8.54).HasLocation())
}

func TestReading_Value(t *testing.T) {
	r := Reading{Temperature: 21.5, Humidity: 40, Pressure: 1013, AirQuality: 12}
	v, ok := r.Value(MetricAirQuality)
	require.True(t, ok)
	assert.Equal(t, 12.0, v)

	_, ok = r.Value(Metric("co2"))
	assert.False(t, ok)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("air_quality")
	require.NoError(t, err)
	assert.Equal(t, MetricAirQuality, m)
	assert.Equal(t, "IAQ", m.Unit())

	_, err = ParseMetric("co2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuery))
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(1))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}
