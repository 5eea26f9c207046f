package consumer

import (
	"context"
	"time"

	"wisefido-envsensor/internal/metrics"

	"go.uber.org/zap"
)

// DefaultPollInterval 远端快照轮询间隔
const DefaultPollInterval = 5 * time.Second

// DefaultPollLimit 每次轮询拉取条数
const DefaultPollLimit = 100

// Refresher 从远端拉取并合并到本地
type Refresher interface {
	Refresh(ctx context.Context, limit int) (int, error)
}

// Poller 定时拉取远端快照
type Poller struct {
	store    Refresher
	interval time.Duration
	limit    int
	metrics  *Metrics
	prom     *metrics.Prometheus
	logger   *zap.Logger
}

// NewPoller 创建轮询器；m 可与管道共享
func NewPoller(store Refresher, interval time.Duration, limit int, m *Metrics, prom *metrics.Prometheus, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if limit <= 0 {
		limit = DefaultPollLimit
	}
	if m == nil {
		m = NewMetrics()
	}
	return &Poller{
		store:    store,
		interval: interval,
		limit:    limit,
		metrics:  m,
		prom:     prom,
		logger:   logger,
	}
}

// Run 阻塞直到 ctx 结束；启动时先拉取一次
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Starting remote poller",
		zap.Duration("interval", p.interval),
		zap.Int("limit", p.limit),
	)

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	added, err := p.store.Refresh(ctx, p.limit)
	p.metrics.IncrementPoll(added, err)
	p.prom.PollRun(err == nil)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Failed to poll remote readings", zap.Error(err))
		}
		return
	}
	if added > 0 {
		p.logger.Debug("Merged remote readings", zap.Int("added", added))
	}
}
