package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisefido-envsensor/internal/metrics"
	"wisefido-envsensor/internal/models"
	"wisefido-envsensor/internal/service"
	"wisefido-envsensor/internal/store"
	"wisefido-envsensor/internal/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeLink struct {
	state    string
	startErr error
}

func (f *fakeLink) LinkState() string { return f.state }

func (f *fakeLink) StartLink() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.state = "scanning"
	return nil
}

func (f *fakeLink) StopLink() error {
	f.state = "idle"
	return nil
}

func reading(id string, minutesAgo float64, temp float64) models.Reading {
	return models.Reading{
		ID:          id,
		CreatedAt:   now.Add(-time.Duration(minutesAgo * float64(time.Minute))),
		Temperature: temp,
		Humidity:    50,
		Pressure:    1013,
		AirQuality:  20,
	}
}

func newTestServer(t *testing.T, link LinkController, readings ...models.Reading) http.Handler {
	t.Helper()
	st := store.NewStore(100, nil, zap.NewNop())
	for _, r := range readings {
		_, err := st.Append(context.Background(), r)
		require.NoError(t, err)
	}
	engine := window.NewEngine(func() time.Time { return now })
	query := service.NewQueryService(st, nil, engine, service.QueryOptions{Location: time.UTC}, zap.NewNop())

	if link == nil {
		link = &fakeLink{state: "idle"}
	}
	router := NewRouter(metrics.New(), zap.NewNop())
	router.RegisterSensorRoutes(NewSensorHandler(query, link, zap.NewNop()))
	router.RegisterMetrics()
	return router.Handler([]string{"*"})
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var out Result[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLatest_AwaitingSensor(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/readings/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[map[string]string](t, rec)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "awaiting_sensor", res.Result["status"])
}

func TestLatest_ReturnsNewest(t *testing.T) {
	h := newTestServer(t, nil, reading("a", 5, 20), reading("b", 1, 21))

	rec := do(t, h, http.MethodGet, "/api/v1/readings/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[models.Reading](t, rec)
	assert.Equal(t, "b", res.Result.ID)
}

func TestReadings_WindowForms(t *testing.T) {
	h := newTestServer(t, nil, reading("old", 60, 18), reading("a", 8, 20), reading("b", 1, 21))

	for _, target := range []string{"/api/v1/readings?window=10", "/api/v1/readings?window=PT10M"} {
		rec := do(t, h, http.MethodGet, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		res := decode[[]models.Reading](t, rec)
		assert.Len(t, res.Result, 2, target)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/readings")
	assert.Len(t, decode[[]models.Reading](t, rec).Result, 3)

	rec = do(t, h, http.MethodGet, "/api/v1/readings?limit=1")
	res := decode[[]models.Reading](t, rec)
	require.Len(t, res.Result, 1)
	assert.Equal(t, "b", res.Result[0].ID)

	rec = do(t, h, http.MethodGet, "/api/v1/readings?window=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ResultError, decode[any](t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/readings?window=-5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndClassify(t *testing.T) {
	h := newTestServer(t, nil, reading("a", 3, 20), reading("b", 1, 24))

	rec := do(t, h, http.MethodGet, "/api/v1/stats?metric=temperature")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec).Result
	assert.Equal(t, 22.0, stats["mean"])
	assert.Equal(t, 24.0, stats["latest"])

	rec = do(t, h, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string]any](t, rec).Result, 4)

	rec = do(t, h, http.MethodGet, "/api/v1/stats?metric=wind")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/classify?metric=temperature&value=22")
	require.Equal(t, http.StatusOK, rec.Code)
	score := decode[map[string]any](t, rec).Result
	assert.Equal(t, "temperature", score["metric"])

	rec = do(t, h, http.MethodGet, "/api/v1/classify?metric=temperature&value=warm")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/classify?metric=temperature")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ResultError, decode[any](t, rec).Code)
}

func TestChartSessionAndViews(t *testing.T) {
	h := newTestServer(t, nil, reading("a", 6, 20), reading("b", 3, 22).WithLocation(10, 20))

	rec := do(t, h, http.MethodGet, "/api/v1/chart?metric=temperature&window=PT10M")
	require.Equal(t, http.StatusOK, rec.Code)
	series := decode[window.Series](t, rec).Result
	require.Len(t, series.Points, 2)
	assert.Equal(t, -6.0, series.Points[0].X)
	require.NotNil(t, series.Domain)

	rec = do(t, h, http.MethodGet, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Reading](t, rec).Result, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/session?gap=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, target := range []string{"/api/v1/radar", "/api/v1/summary", "/api/v1/map?source=session"} {
		rec = do(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/map?metric=temperature")
	view := decode[service.MapView](t, rec).Result
	require.Len(t, view.Markers, 1)
	assert.True(t, strings.HasPrefix(view.Markers[0].Color, "rgb("))
}

func TestDatesAndByDate(t *testing.T) {
	h := newTestServer(t, nil, reading("y", 24*60, 18), reading("a", 90, 20))

	rec := do(t, h, http.MethodGet, "/api/v1/dates")
	assert.Equal(t, []string{"2024-05-01", "2024-04-30"}, decode[[]string](t, rec).Result)

	rec = do(t, h, http.MethodGet, "/api/v1/readings/by-date?date=2024-05-01&hour=10")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[[]models.Reading](t, rec).Result
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)

	rec = do(t, h, http.MethodGet, "/api/v1/readings/by-date?date=2024-05-01&hour=30")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport(t *testing.T) {
	h := newTestServer(t, nil, reading("a", 3, 20).WithLocation(1, 2))

	rec := do(t, h, http.MethodGet, "/api/v1/export.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Time,Lat,Lng"))

	rec = do(t, h, http.MethodGet, "/api/v1/export.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"))

	empty := newTestServer(t, nil)
	rec = do(t, empty, http.MethodGet, "/api/v1/export.csv")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLinkControl(t *testing.T) {
	link := &fakeLink{state: "idle"}
	h := newTestServer(t, link)

	rec := do(t, h, http.MethodPost, "/api/v1/link/start")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "scanning", decode[map[string]string](t, rec).Result["state"])

	rec = do(t, h, http.MethodGet, "/api/v1/link")
	assert.Equal(t, "scanning", decode[map[string]string](t, rec).Result["state"])

	rec = do(t, h, http.MethodPost, "/api/v1/link/stop")
	assert.Equal(t, "idle", decode[map[string]string](t, rec).Result["state"])

	rec = do(t, h, http.MethodGet, "/api/v1/link/start")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	busy := newTestServer(t, &fakeLink{state: "idle", startErr: errors.New("radio busy")})
	rec = do(t, busy, http.MethodPost, "/api/v1/link/start")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMetricsAndCORS(t *testing.T) {
	h := newTestServer(t, nil)

	_ = do(t, h, http.MethodGet, "/api/v1/dates")
	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `envsensor_http_requests_total{route="/api/v1/dates",status="200"} 1`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dates", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.Equal(t, "*", out.Header().Get("Access-Control-Allow-Origin"))
}
