package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-envsensor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeKVStore 仅用于单元测试（内存 KV + TTL + 流）
type fakeKVStore struct {
	mu      sync.Mutex
	data    map[string]fakeKVItem
	streams map[string][]interface{}
	setErr  error
}

type fakeKVItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{
		data:    make(map[string]fakeKVItem),
		streams: make(map[string][]interface{}),
	}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(f.data, key)
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.data[key] = fakeKVItem{value: value, expires: exp}
	return nil
}

func (f *fakeKVStore) AppendStream(ctx context.Context, stream string, data interface{}, maxLen int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := append(f.streams[stream], data)
	if maxLen > 0 && int64(len(s)) > maxLen {
		s = s[int64(len(s))-maxLen:]
	}
	f.streams[stream] = s
	return nil
}

func TestLiveCache_PutAndLatest(t *testing.T) {
	kv := newFakeKVStore()
	c := NewLiveCache(kv, LiveCacheConfig{StreamMaxLen: 2}, zap.NewNop())

	ctx := context.Background()
	_, err := c.Latest(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		r := models.Reading{ID: id, CreatedAt: at.Add(time.Duration(i) * time.Minute), Temperature: 20}.WithLocation(1, 2)
		require.NoError(t, c.Put(ctx, r))
	}

	latest, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
	assert.Equal(t, 1.0, *latest.Latitude)
	assert.Len(t, kv.streams["envsensor:stream"], 2)
}

func TestLiveCache_PutError(t *testing.T) {
	kv := newFakeKVStore()
	kv.setErr = errors.New("READONLY")
	c := NewLiveCache(kv, LiveCacheConfig{}, zap.NewNop())

	err := c.Put(context.Background(), models.Reading{ID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
}

func TestLiveCache_CorruptEntryIsMiss(t *testing.T) {
	kv := newFakeKVStore()
	c := NewLiveCache(kv, LiveCacheConfig{KeyPrefix: "x"}, zap.NewNop())
	require.NoError(t, kv.Set(context.Background(), "x:latest", "{not json", 0))

	_, err := c.Latest(context.Background())
	assert.ErrorIs(t, err, ErrCacheMiss)
}
