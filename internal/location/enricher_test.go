package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wisefido-envsensor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLocator 按顺序返回预设结果
type fakeLocator struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
}

type fakeResult struct {
	fix Fix
	err error
}

func (f *fakeLocator) Locate(ctx context.Context) (Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i].fix, f.results[i].err
}

// stuckLocator 忽略 ctx，永不返回（直到测试结束）
type stuckLocator struct {
	release chan struct{}
}

func (s *stuckLocator) Locate(ctx context.Context) (Fix, error) {
	<-s.release
	return Fix{Latitude: 1, Longitude: 1}, nil
}

func draft(id string) models.Reading {
	return models.Reading{ID: id, CreatedAt: time.Now(), Temperature: 22, Humidity: 45, Pressure: 1013, AirQuality: 15}
}

func TestEnricher_Success(t *testing.T) {
	loc := &fakeLocator{results: []fakeResult{{fix: Fix{Latitude: 52.52, Longitude: 13.405}}}}
	e := NewEnricher(loc, time.Second, zap.NewNop())

	r, err := e.Enrich(context.Background(), draft("r1"))
	require.NoError(t, err)
	require.True(t, r.HasLocation())
	assert.Equal(t, 52.52, *r.Latitude)
	assert.Equal(t, 13.405, *r.Longitude)

	last, ok := e.LastKnown()
	require.True(t, ok)
	assert.Equal(t, 52.52, last.Latitude)
}

func TestEnricher_FallbackToLastKnown(t *testing.T) {
	loc := &fakeLocator{results: []fakeResult{
		{fix: Fix{Latitude: 10, Longitude: 20}},
		{err: errors.New("gps off")},
	}}
	e := NewEnricher(loc, time.Second, zap.NewNop())

	_, err := e.Enrich(context.Background(), draft("r1"))
	require.NoError(t, err)

	r, err := e.Enrich(context.Background(), draft("r2"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, *r.Latitude)
	assert.Equal(t, 20.0, *r.Longitude)
}

func TestEnricher_DiscardWithoutAnyFix(t *testing.T) {
	loc := &fakeLocator{results: []fakeResult{{err: errors.New("denied")}}}
	e := NewEnricher(loc, time.Second, zap.NewNop())

	out, err := e.Enrich(context.Background(), draft("r1"))
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.Empty(t, out.ID)
	assert.False(t, out.HasLocation())
}

func TestEnricher_ZeroFixIsDiscarded(t *testing.T) {
	loc := &fakeLocator{results: []fakeResult{
		{fix: Fix{Latitude: 10, Longitude: 20}},
		{fix: Fix{Latitude: 0, Longitude: 0}},
		{err: errors.New("timeout")},
	}}
	e := NewEnricher(loc, time.Second, zap.NewNop())

	_, err := e.Enrich(context.Background(), draft("r1"))
	require.NoError(t, err)

	// 新的 (0,0) 定位：丢弃，且不覆盖缓存
	_, err = e.Enrich(context.Background(), draft("r2"))
	assert.ErrorIs(t, err, ErrDiscarded)

	r, err := e.Enrich(context.Background(), draft("r3"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, *r.Latitude)
}

func TestEnricher_TimeoutAbandonsStuckLocator(t *testing.T) {
	loc := &stuckLocator{release: make(chan struct{})}
	defer close(loc.release)

	e := NewEnricher(loc, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, err := e.Enrich(context.Background(), draft("r1"))
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPLocator_Locate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","lat":48.85,"lon":2.35}`))
	}))
	defer srv.Close()

	l := NewHTTPLocator(srv.URL, "/json", zap.NewNop())
	fix, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 48.85, fix.Latitude)
	assert.Equal(t, 2.35, fix.Longitude)
	assert.Equal(t, "http", fix.Source)
}

func TestHTTPLocator_ServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer srv.Close()

	l := NewHTTPLocator(srv.URL, "/json", zap.NewNop())
	_, err := l.Locate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved range")
}

func TestStaticLocator(t *testing.T) {
	fix, err := StaticLocator{Latitude: 1.5, Longitude: 2.5}.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, fix.Latitude)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = StaticLocator{}.Locate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
