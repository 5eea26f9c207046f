package sink

import (
	"context"

	"wisefido-envsensor/internal/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// PointWriter InfluxDB 写入接口（api.WriteAPIBlocking 实现）
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink 写入 InfluxDB 时序点
type InfluxSink struct {
	writer      PointWriter
	measurement string
	node        string
	closeFn     func()
}

// NewInfluxSink 基于 InfluxDB 客户端创建下游
func NewInfluxSink(url, token, org, bucket, measurement, node string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		writer:      client.WriteAPIBlocking(org, bucket),
		measurement: measurement,
		node:        node,
		closeFn:     client.Close,
	}
}

// NewInfluxSinkWithWriter 使用自定义 writer（测试用）
func NewInfluxSinkWithWriter(writer PointWriter, measurement, node string) *InfluxSink {
	return &InfluxSink{writer: writer, measurement: measurement, node: node}
}

func (s *InfluxSink) Name() string { return "influxdb" }

// Point 读数转换为时序点
func (s *InfluxSink) Point(r models.Reading) *write.Point {
	fields := map[string]interface{}{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"pressure":    r.Pressure,
		"air_quality": r.AirQuality,
	}
	if r.HasLocation() {
		fields["latitude"] = *r.Latitude
		fields["longitude"] = *r.Longitude
	}
	tags := map[string]string{"node": s.node}
	return influxdb2.NewPoint(s.measurement, tags, fields, r.CreatedAt)
}

func (s *InfluxSink) Write(ctx context.Context, r models.Reading) error {
	return s.writer.WritePoint(ctx, s.Point(r))
}

func (s *InfluxSink) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
