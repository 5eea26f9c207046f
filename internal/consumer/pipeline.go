package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-envsensor/internal/location"
	"wisefido-envsensor/internal/metrics"
	"wisefido-envsensor/internal/models"
	"wisefido-envsensor/internal/store"

	"go.uber.org/zap"
)

// Decoder 原始通知 -> 草稿读数
type Decoder interface {
	Decode(payload []byte) (models.Reading, error)
}

// Enricher 附加坐标
type Enricher interface {
	Enrich(ctx context.Context, draft models.Reading) (models.Reading, error)
}

// Appender 遥测存储
type Appender interface {
	Append(ctx context.Context, r models.Reading) (models.Reading, error)
}

// ReadingWriter 下游扇出
type ReadingWriter interface {
	Write(ctx context.Context, r models.Reading) error
}

// CachePutter 实时缓存
type CachePutter interface {
	Put(ctx context.Context, r models.Reading) error
}

// PipelineConfig 管道配置
type PipelineConfig struct {
	Workers         int
	QueueSize       int
	MetricsInterval time.Duration
}

// Pipeline 入库管道：解码在链路回调上同步完成，定位与写入在 worker 中异步执行
type Pipeline struct {
	cfg      PipelineConfig
	decoder  Decoder
	enricher Enricher
	store    Appender
	cache    CachePutter   // 可选
	sinks    ReadingWriter // 可选
	prom     *metrics.Prometheus
	logger   *zap.Logger
	metrics  *Metrics

	queue chan queued

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type queued struct {
	draft      models.Reading
	receivedAt time.Time
}

// NewPipeline 创建管道
func NewPipeline(
	cfg PipelineConfig,
	decoder Decoder,
	enricher Enricher,
	st Appender,
	cache CachePutter,
	sinks ReadingWriter,
	prom *metrics.Prometheus,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Pipeline{
		cfg:      cfg,
		decoder:  decoder,
		enricher: enricher,
		store:    st,
		cache:    cache,
		sinks:    sinks,
		prom:     prom,
		logger:   logger,
		metrics:  NewMetrics(),
		queue:    make(chan queued, cfg.QueueSize),
	}
}

// Metrics 管道指标
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// HandlePacket 链路回调：解码并入队，不阻塞
//
// 解码失败只记录并丢弃该条，后续通知照常处理。
func (p *Pipeline) HandlePacket(payload []byte) {
	p.metrics.IncrementReceived()
	p.prom.PacketReceived()

	draft, err := p.decoder.Decode(payload)
	if err != nil {
		p.metrics.IncrementFailed("decode")
		p.prom.ReadingFailed("decode")
		p.logger.Warn("Failed to decode packet, skipping",
			zap.Int("payload_len", len(payload)),
			zap.Error(err),
		)
		return
	}

	select {
	case p.queue <- queued{draft: draft, receivedAt: time.Now()}:
	default:
		p.metrics.IncrementDropped()
		p.prom.ReadingDropped()
		p.logger.Warn("Enrichment queue full, dropping reading",
			zap.String("reading_id", draft.ID),
			zap.Int("queue_size", p.cfg.QueueSize),
		)
	}
}

// Start 启动 worker；重复调用无效果
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		reportMetrics(runCtx, p.metrics, p.cfg.MetricsInterval, p.logger)
	}()

	p.logger.Info("Ingestion pipeline started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize),
	)
}

// Stop 停止 worker 并等待退出；队列中未处理的草稿被丢弃
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("Ingestion pipeline stopped")
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			p.process(ctx, item)
		}
	}
}

// process 定位 -> 存储 -> 缓存 -> 下游；任一步失败只影响当前读数
func (p *Pipeline) process(ctx context.Context, item queued) {
	reading, err := p.enricher.Enrich(ctx, item.draft)
	if err != nil {
		if errors.Is(err, location.ErrDiscarded) {
			p.metrics.IncrementDiscarded()
			p.prom.ReadingFailed("discarded")
			return
		}
		p.logger.Error("Enrichment failed", zap.String("reading_id", item.draft.ID), zap.Error(err))
		p.prom.ReadingFailed("enrich")
		return
	}

	saved, err := p.store.Append(ctx, reading)
	if err != nil {
		if !errors.Is(err, store.ErrPersist) {
			p.metrics.IncrementFailed("store")
			p.prom.ReadingFailed("store")
			p.logger.Error("Failed to store reading", zap.String("reading_id", reading.ID), zap.Error(err))
			return
		}
		// 本地已写入，继续后续步骤
		p.metrics.IncrementFailed("persist")
		p.prom.ReadingFailed("persist")
	}

	if p.cache != nil {
		if err := p.cache.Put(ctx, saved); err != nil {
			p.metrics.IncrementFailed("cache")
			p.prom.ReadingFailed("cache")
			p.logger.Warn("Failed to update live cache", zap.String("reading_id", saved.ID), zap.Error(err))
		}
	}

	if p.sinks != nil {
		if err := p.sinks.Write(ctx, saved); err != nil {
			p.metrics.IncrementFailed("sink")
			p.prom.ReadingFailed("sink")
		}
	}

	elapsed := time.Since(item.receivedAt)
	p.metrics.IncrementStored(elapsed)
	p.prom.ReadingStored(elapsed)

	p.logger.Debug("Reading stored",
		zap.String("reading_id", saved.ID),
		zap.Time("created_at", saved.CreatedAt),
		zap.Duration("elapsed", elapsed),
	)
}
