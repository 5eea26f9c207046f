package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-envsensor/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrLocationUnavailable 本次定位失败或超时（会回退到缓存坐标）
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrDiscarded 无可用坐标或坐标为 (0,0)，读数被丢弃
	ErrDiscarded = errors.New("reading discarded: no valid location")
)

// DefaultFixTimeout 定位超时
const DefaultFixTimeout = 5 * time.Second

// Enricher 为草稿读数附加坐标
type Enricher struct {
	locator Locator
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.RWMutex
	last *Fix
}

// NewEnricher 创建定位增强器；timeout <= 0 时使用 DefaultFixTimeout
func NewEnricher(locator Locator, timeout time.Duration, logger *zap.Logger) *Enricher {
	if timeout <= 0 {
		timeout = DefaultFixTimeout
	}
	return &Enricher{
		locator: locator,
		timeout: timeout,
		logger:  logger,
	}
}

// LastKnown 返回缓存的最近一次有效定位
func (e *Enricher) LastKnown() (Fix, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return Fix{}, false
	}
	return *e.last, true
}

// Enrich 定位并返回带坐标的读数
//
// 定位失败/超时回退到最近一次有效坐标；没有任何坐标或结果为 (0,0) 时返回 ErrDiscarded。
func (e *Enricher) Enrich(ctx context.Context, draft models.Reading) (models.Reading, error) {
	fix, err := e.fix(ctx)
	switch {
	case err == nil && models.IsNoFix(fix.Latitude, fix.Longitude):
		return e.discard(draft, fmt.Errorf("%w: fix resolved to (0,0)", ErrDiscarded))
	case err == nil:
		e.remember(fix)
	default:
		e.logger.Warn("Location fix failed, falling back to last known",
			zap.String("reading_id", draft.ID),
			zap.Error(err),
		)
		cached, ok := e.LastKnown()
		if !ok {
			return e.discard(draft, fmt.Errorf("%w: %v", ErrDiscarded, err))
		}
		fix = cached
	}

	if models.IsNoFix(fix.Latitude, fix.Longitude) {
		return e.discard(draft, fmt.Errorf("%w: fix resolved to (0,0)", ErrDiscarded))
	}
	return draft.WithLocation(fix.Latitude, fix.Longitude), nil
}

// fix 在超时内获取一次定位；locator 不响应 ctx 时在截止时间放弃等待
func (e *Enricher) fix(parent context.Context) (Fix, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	type result struct {
		fix Fix
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := e.locator.Locate(ctx)
		done <- result{fix: f, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Fix{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, r.err)
		}
		return r.fix, nil
	case <-ctx.Done():
		return Fix{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, ctx.Err())
	}
}

func (e *Enricher) remember(fix Fix) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := fix
	e.last = &f
}

func (e *Enricher) discard(draft models.Reading, reason error) (models.Reading, error) {
	e.logger.Warn("Reading discarded",
		zap.String("reading_id", draft.ID),
		zap.Error(reason),
	)
	return models.Reading{}, reason
}
