package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"wisefido-envsensor/internal/models"

	"go.uber.org/zap"
)

// DefaultCapacity 本地环形缓冲默认容量
const DefaultCapacity = 100

var (
	// ErrPersist 远端持久化失败（本地已写入）
	ErrPersist = errors.New("persist failed")
	// ErrRejected 读数不满足存储约束（例如 (0,0) 坐标）
	ErrRejected = errors.New("reading rejected")
)

// PersistError 远端写入失败
type PersistError struct {
	ReadingID string
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist reading %s: %v", e.ReadingID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersist }

// Remote 远端持久化副本
//
// Insert 返回服务端分配 id / created_at 后的读数；List 按 created_at 倒序。
type Remote interface {
	Insert(ctx context.Context, r models.Reading) (models.Reading, error)
	List(ctx context.Context, limit int) ([]models.Reading, error)
}

// Order 查询排序
type Order int

const (
	OrderDesc Order = iota
	OrderAsc
)

// Store 遥测存储：本地环形缓冲 + 远端副本
type Store struct {
	remote Remote
	logger *zap.Logger

	mu   sync.RWMutex
	buf  []models.Reading
	head int // 最旧元素位置
	size int
}

// NewStore 创建存储；remote 可为 nil（仅本地）
func NewStore(capacity int, remote Remote, logger *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		remote: remote,
		logger: logger,
		buf:    make([]models.Reading, capacity),
	}
}

// Capacity 本地容量
func (s *Store) Capacity() int {
	return len(s.buf)
}

// Len 本地条数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Append 先写远端再写本地
//
// 远端成功时采用服务端的 id / created_at；失败时保留本地值并返回 *PersistError，本地仍然写入。
// 不做去重，重复调用会产生重复记录。
func (s *Store) Append(ctx context.Context, r models.Reading) (models.Reading, error) {
	if r.Latitude != nil && r.Longitude != nil && models.IsNoFix(*r.Latitude, *r.Longitude) {
		return models.Reading{}, fmt.Errorf("%w: (0,0) location", ErrRejected)
	}

	var persistErr error
	if s.remote != nil {
		saved, err := s.remote.Insert(ctx, r)
		if err != nil {
			persistErr = &PersistError{ReadingID: r.ID, Err: err}
			s.logger.Warn("Remote persist failed, keeping local copy",
				zap.String("reading_id", r.ID),
				zap.Error(err),
			)
		} else {
			if saved.ID != "" {
				r.ID = saved.ID
			}
			if !saved.CreatedAt.IsZero() {
				r.CreatedAt = saved.CreatedAt
			}
		}
	}

	s.mu.Lock()
	s.push(r)
	s.mu.Unlock()

	return r, persistErr
}

// push 调用方持有写锁
func (s *Store) push(r models.Reading) {
	n := len(s.buf)
	if s.size < n {
		s.buf[(s.head+s.size)%n] = r
		s.size++
		return
	}
	s.buf[s.head] = r
	s.head = (s.head + 1) % n
}

// Query 按时间排序返回最多 limit 条（limit <= 0 表示全部）
func (s *Store) Query(limit int, order Order) []models.Reading {
	all := s.ordered()
	if order == OrderDesc {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Latest 最近一条读数
func (s *Store) Latest() (models.Reading, bool) {
	all := s.ordered()
	if len(all) == 0 {
		return models.Reading{}, false
	}
	return all[len(all)-1], true
}

// ordered 按 created_at 升序的副本
func (s *Store) ordered() []models.Reading {
	s.mu.RLock()
	out := make([]models.Reading, 0, s.size)
	for i := 0; i < s.size; i++ {
		out = append(out, s.buf[(s.head+i)%len(s.buf)])
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MergeSnapshot 合并远端快照
//
// 仅按 id 去重；合并后保留最近的 Capacity 条。返回新增条数。
func (s *Store) MergeSnapshot(rows []models.Reading) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, s.size+len(rows))
	merged := make([]models.Reading, 0, s.size+len(rows))
	for i := 0; i < s.size; i++ {
		r := s.buf[(s.head+i)%len(s.buf)]
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
	}

	added := 0
	for _, r := range rows {
		if _, ok := seen[r.ID]; ok || r.ID == "" {
			continue
		}
		if r.Latitude != nil && r.Longitude != nil && models.IsNoFix(*r.Latitude, *r.Longitude) {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
		added++
	}
	if added == 0 {
		return 0
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	if len(merged) > len(s.buf) {
		merged = merged[len(merged)-len(s.buf):]
	}

	for i := range s.buf {
		s.buf[i] = models.Reading{}
	}
	copy(s.buf, merged)
	s.head = 0
	s.size = len(merged)
	return added
}

// Refresh 从远端拉取最近 limit 条并合并到本地
func (s *Store) Refresh(ctx context.Context, limit int) (int, error) {
	if s.remote == nil {
		return 0, nil
	}
	rows, err := s.remote.List(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list remote readings: %w", err)
	}
	return s.MergeSnapshot(rows), nil
}
