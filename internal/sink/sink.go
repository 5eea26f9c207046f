// Package sink 把入库后的读数扇出到外部系统（MQTT / Kafka / InfluxDB）。
package sink

import (
	"context"
	"errors"
	"fmt"

	"wisefido-envsensor/internal/models"

	"go.uber.org/zap"
)

// Sink 读数下游
type Sink interface {
	Name() string
	Write(ctx context.Context, r models.Reading) error
	Close() error
}

// Fanout 依次写入全部下游；单个下游失败不影响其他下游
type Fanout struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewFanout 创建扇出器
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: logger}
}

// Len 下游数量
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Write 写入全部下游，返回合并后的错误
func (f *Fanout) Write(ctx context.Context, r models.Reading) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Write(ctx, r); err != nil {
			f.logger.Warn("Sink write failed",
				zap.String("sink", s.Name()),
				zap.String("reading_id", r.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部下游
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
