package consumer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	PacketsReceived   int64 // 收到的原始通知数
	ReadingsStored    int64 // 成功写入存储的读数
	ReadingsDiscarded int64 // 无可用坐标被丢弃
	ReadingsDropped   int64 // 队列满被丢弃

	// 错误分类统计
	ErrorsDecode  int64 // 解码错误
	ErrorsPersist int64 // 远端持久化失败（本地已写入）
	ErrorsStore   int64 // 本地存储拒绝
	ErrorsCache   int64 // 实时缓存更新失败
	ErrorsSink    int64 // 下游写入失败

	// 轮询统计
	PollsSucceeded int64
	PollsFailed    int64
	PolledReadings int64 // 轮询合并新增的读数

	// 性能指标
	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

// NewMetrics 创建指标
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		PacketsReceived:     m.PacketsReceived,
		ReadingsStored:      m.ReadingsStored,
		ReadingsDiscarded:   m.ReadingsDiscarded,
		ReadingsDropped:     m.ReadingsDropped,
		ErrorsDecode:        m.ErrorsDecode,
		ErrorsPersist:       m.ErrorsPersist,
		ErrorsStore:         m.ErrorsStore,
		ErrorsCache:         m.ErrorsCache,
		ErrorsSink:          m.ErrorsSink,
		PollsSucceeded:      m.PollsSucceeded,
		PollsFailed:         m.PollsFailed,
		PolledReadings:      m.PolledReadings,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// IncrementReceived 增加接收计数
func (m *Metrics) IncrementReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PacketsReceived++
}

// IncrementStored 增加成功计数
func (m *Metrics) IncrementStored(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsStored++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementDiscarded 增加丢弃计数
func (m *Metrics) IncrementDiscarded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsDiscarded++
}

// IncrementDropped 增加队列满丢弃计数
func (m *Metrics) IncrementDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsDropped++
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch errorType {
	case "decode":
		m.ErrorsDecode++
	case "persist":
		m.ErrorsPersist++
	case "store":
		m.ErrorsStore++
	case "cache":
		m.ErrorsCache++
	case "sink":
		m.ErrorsSink++
	}
}

// IncrementPoll 记录一次轮询
func (m *Metrics) IncrementPoll(added int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.PollsFailed++
		return
	}
	m.PollsSucceeded++
	m.PolledReadings += int64(added)
}

// reportMetrics 定期输出指标
func reportMetrics(ctx context.Context, m *Metrics, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := m.GetSnapshot()

			var avgProcessingTime time.Duration
			if snapshot.ReadingsStored > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.ReadingsStored)
			}

			logger.Info("Metrics report",
				zap.Int64("packets_received", snapshot.PacketsReceived),
				zap.Int64("readings_stored", snapshot.ReadingsStored),
				zap.Int64("readings_discarded", snapshot.ReadingsDiscarded),
				zap.Int64("readings_dropped", snapshot.ReadingsDropped),
				zap.Int64("errors_decode", snapshot.ErrorsDecode),
				zap.Int64("errors_persist", snapshot.ErrorsPersist),
				zap.Int64("errors_store", snapshot.ErrorsStore),
				zap.Int64("errors_cache", snapshot.ErrorsCache),
				zap.Int64("errors_sink", snapshot.ErrorsSink),
				zap.Int64("polls_succeeded", snapshot.PollsSucceeded),
				zap.Int64("polls_failed", snapshot.PollsFailed),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
