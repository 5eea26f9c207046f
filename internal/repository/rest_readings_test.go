package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wisefido-envsensor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRESTInsert_UsesServerIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/sensor_data", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, 22.5, got["temperature"])
		assert.Equal(t, 52.52, got["latitude"])
		assert.NotContains(t, got, "id")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":42,"created_at":"2024-05-01T12:00:00.123456+00:00",
			"temperature":22.5,"humidity":45,"pressure":1013,"air_quality":15,
			"latitude":52.52,"longitude":13.405}]`))
	}))
	defer srv.Close()

	repo := NewRESTReadingRepository(RESTConfig{BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())
	saved, err := repo.Insert(context.Background(), models.Reading{
		ID: "local", Temperature: 22.5, Humidity: 45, Pressure: 1013, AirQuality: 15,
	}.WithLocation(52.52, 13.405))
	require.NoError(t, err)

	assert.Equal(t, "42", saved.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC), saved.CreatedAt.UTC())
	assert.Equal(t, 13.405, *saved.Longitude)
}

func TestRESTInsert_UnparsableRepresentationKeepsLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"srv-7","created_at":"yesterday",
			"temperature":22.5,"humidity":45,"pressure":1013,"air_quality":15}]`))
	}))
	defer srv.Close()

	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := NewRESTReadingRepository(RESTConfig{BaseURL: srv.URL}, zap.NewNop())
	saved, err := repo.Insert(context.Background(), models.Reading{
		ID: "local", CreatedAt: createdAt, Temperature: 22.5, Humidity: 45, Pressure: 1013, AirQuality: 15,
	})
	require.NoError(t, err)

	assert.Equal(t, "srv-7", saved.ID)
	assert.Equal(t, createdAt, saved.CreatedAt)
	assert.Equal(t, 22.5, saved.Temperature)
}

func TestRESTInsert_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	repo := NewRESTReadingRepository(RESTConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := repo.Insert(context.Background(), models.Reading{ID: "local"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRESTList_OrderAndLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "created_at.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"b","created_at":"2024-05-01T12:05:00Z","temperature":23,"humidity":50,"pressure":1012,"air_quality":12,"latitude":1,"longitude":2},
			{"id":"bad","created_at":"not a time","temperature":1,"humidity":1,"pressure":1,"air_quality":1},
			{"id":"a","created_at":"2024-05-01T12:00:00","temperature":22,"humidity":48,"pressure":1013,"air_quality":18,"latitude":null,"longitude":null}
		]`))
	}))
	defer srv.Close()

	repo := NewRESTReadingRepository(RESTConfig{BaseURL: srv.URL}, zap.NewNop())
	readings, err := repo.List(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "b", readings[0].ID)
	assert.True(t, readings[0].HasLocation())
	assert.Equal(t, "a", readings[1].ID)
	assert.False(t, readings[1].HasLocation())
	assert.Equal(t, 12, readings[1].CreatedAt.Hour())
}

func TestRESTList_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	repo := NewRESTReadingRepository(RESTConfig{BaseURL: url, Timeout: time.Second}, zap.NewNop())
	_, err := repo.List(context.Background(), 10)
	assert.Error(t, err)
}

func TestRawID(t *testing.T) {
	id, err := rawID(json.RawMessage(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	id, err = rawID(json.RawMessage(`17`))
	require.NoError(t, err)
	assert.Equal(t, "17", id)

	_, err = rawID(json.RawMessage(`null`))
	assert.Error(t, err)
}
