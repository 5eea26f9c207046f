package decoder

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC) }

func TestDecode_ValidPayload(t *testing.T) {
	d := NewDecoder(fixedNow)

	r, err := d.Decode([]byte(`{"temperature":22.4,"humidity":41,"pressure":1012.6,"air_quality":15}`))
	require.NoError(t, err)
	assert.Equal(t, 22.4, r.Temperature)
	assert.Equal(t, 41.0, r.Humidity)
	assert.Equal(t, 1012.6, r.Pressure)
	assert.Equal(t, 15.0, r.AirQuality)
	assert.Equal(t, fixedNow(), r.CreatedAt)
	assert.NotEmpty(t, r.ID)
	assert.Nil(t, r.Latitude)
	assert.Nil(t, r.Longitude)
}

func TestDecode_Base64AndPadding(t *testing.T) {
	d := NewDecoder(fixedNow)

	raw := `{"temperature":1,"humidity":2,"pressure":3,"air_quality":4}`
	r, err := d.Decode([]byte(base64.StdEncoding.EncodeToString([]byte(raw))))
	require.NoError(t, err)
	assert.Equal(t, 4.0, r.AirQuality)

	r, err = d.Decode(append([]byte(raw+"\n"), 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Temperature)
}

func TestDecode_Malformed(t *testing.T) {
	d := NewDecoder(fixedNow)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "%%%not-json%%%",
		"truncated":      `{"temperature":22.4,"humidity":`,
		"array":          `[1,2,3]`,
		"null":           `null`,
		"missing field":  `{"temperature":22,"humidity":40,"pressure":1013}`,
		"string value":   `{"temperature":"22","humidity":40,"pressure":1013,"air_quality":5}`,
		"null value":     `{"temperature":22,"humidity":null,"pressure":1013,"air_quality":5}`,
		"overflow value": `{"temperature":1e400,"humidity":40,"pressure":1013,"air_quality":5}`,
	}
	for name, payload := range cases {
		_, err := d.Decode([]byte(payload))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrDecode), name)

		var de *DecodeError
		require.True(t, errors.As(err, &de), name)
		assert.NotEmpty(t, de.Reason, name)
	}
}

func TestDecode_StreamContinuesAfterMalformed(t *testing.T) {
	d := NewDecoder(fixedNow)

	payloads := [][]byte{
		[]byte(`{"temperature":20,"humidity":40,"pressure":1010,"air_quality":10}`),
		[]byte(`{"temperature":`),
		[]byte(`{"temperature":21,"humidity":41,"pressure":1011,"air_quality":11}`),
	}

	var decoded []float64
	var failures int
	for _, p := range payloads {
		r, err := d.Decode(p)
		if err != nil {
			failures++
			continue
		}
		decoded = append(decoded, r.Temperature)
	}

	assert.Equal(t, 1, failures)
	assert.Equal(t, []float64{20, 21}, decoded)
}

func TestDecode_UniqueIDs(t *testing.T) {
	d := NewDecoder(fixedNow)
	payload := []byte(`{"temperature":20,"humidity":40,"pressure":1010,"air_quality":10}`)

	a, err := d.Decode(payload)
	require.NoError(t, err)
	b, err := d.Decode(payload)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
