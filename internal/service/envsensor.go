package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-envsensor/internal/cache"
	"wisefido-envsensor/internal/common/database"
	mqttcommon "wisefido-envsensor/internal/common/mqtt"
	rediscommon "wisefido-envsensor/internal/common/redis"
	"wisefido-envsensor/internal/config"
	"wisefido-envsensor/internal/consumer"
	"wisefido-envsensor/internal/decoder"
	"wisefido-envsensor/internal/link"
	"wisefido-envsensor/internal/location"
	"wisefido-envsensor/internal/metrics"
	"wisefido-envsensor/internal/models"
	"wisefido-envsensor/internal/repository"
	"wisefido-envsensor/internal/sink"
	"wisefido-envsensor/internal/store"
	"wisefido-envsensor/internal/window"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EnvSensorService 环境传感器服务：链路 -> 解码 -> 定位 -> 存储 -> 缓存/下游
type EnvSensorService struct {
	config *config.Config
	logger *zap.Logger
	prom   *metrics.Prometheus

	db        *sql.DB
	redis     *redis.Client
	store     *store.Store
	liveCache *cache.LiveCache
	sinks     *sink.Fanout
	pipeline  *consumer.Pipeline
	poller    *consumer.Poller
	link      *link.Manager
	query     *QueryService

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ErrLinkDisabled 配置中未启用无线链路
var ErrLinkDisabled = errors.New("link disabled")

// NewEnvSensorService 按配置创建服务
func NewEnvSensorService(cfg *config.Config, logger *zap.Logger) (*EnvSensorService, error) {
	s := &EnvSensorService{
		config: cfg,
		logger: logger,
		prom:   metrics.New(),
	}

	remote, err := s.newRemote(cfg)
	if err != nil {
		return nil, err
	}
	s.store = store.NewStore(cfg.Store.Capacity, remote, logger)

	// 定位
	var locator location.Locator
	if cfg.Location.Provider == "static" {
		locator = location.StaticLocator{Latitude: cfg.Location.Latitude, Longitude: cfg.Location.Longitude}
	} else {
		locator = location.NewHTTPLocator(cfg.Location.URL, cfg.Location.Path, logger)
	}
	enricher := location.NewEnricher(locator, cfg.Location.Timeout, logger)

	// 实时缓存（可选）
	var putter consumer.CachePutter
	var latestCache LatestCache
	if cfg.Cache.Enabled {
		s.redis = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), s.redis); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.liveCache = cache.NewLiveCache(cache.NewRedisKVStore(s.redis), cache.LiveCacheConfig{
			KeyPrefix:    cfg.Cache.KeyPrefix,
			LatestTTL:    cfg.Cache.LatestTTL,
			StreamMaxLen: cfg.Cache.StreamMaxLen,
		}, logger)
		putter = s.liveCache
		latestCache = s.liveCache
	}

	sinks, err := s.newSinks(cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	s.sinks = sinks

	s.pipeline = consumer.NewPipeline(
		consumer.PipelineConfig{
			Workers:         cfg.Pipeline.Workers,
			QueueSize:       cfg.Pipeline.QueueSize,
			MetricsInterval: cfg.Pipeline.MetricsInterval,
		},
		decoder.NewDecoder(time.Now),
		enricher,
		s.store,
		putter,
		s.sinks,
		s.prom,
		logger,
	)

	if cfg.Poll.Enabled && remote != nil {
		s.poller = consumer.NewPoller(s.store, cfg.Poll.Interval, cfg.Poll.Limit, s.pipeline.Metrics(), s.prom, logger)
	}

	if cfg.Link.Enabled {
		radio, err := link.NewBLERadio([]string{cfg.Link.ServiceUUID}, logger)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to create radio: %w", err)
		}
		s.link = link.NewManager(radio, link.Target{
			Name:               cfg.Link.Name,
			ServiceUUID:        cfg.Link.ServiceUUID,
			CharacteristicUUID: cfg.Link.CharacteristicUUID,
		}, s.pipeline.HandlePacket, logger)
		s.link.OnStateChange(func(st link.State) {
			s.prom.SetLinkState(int(st))
		})
	}

	loc := time.Local
	if cfg.HTTP.Timezone != "" && cfg.HTTP.Timezone != "Local" {
		if loc, err = time.LoadLocation(cfg.HTTP.Timezone); err != nil {
			s.close()
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.HTTP.Timezone, err)
		}
	}
	s.query = NewQueryService(s.store, latestCache, window.NewEngine(time.Now), QueryOptions{
		GapMinutes: cfg.Session.GapMinutes,
		MaxPoints:  cfg.Session.MaxPoints,
		Location:   loc,
	}, logger)

	return s, nil
}

// newRemote 远端持久化副本
func (s *EnvSensorService) newRemote(cfg *config.Config) (store.Remote, error) {
	switch cfg.Store.Backend {
	case "rest":
		return repository.NewRESTReadingRepository(repository.RESTConfig{
			BaseURL: cfg.Store.REST.URL,
			APIKey:  cfg.Store.REST.APIKey,
			Table:   cfg.Store.Table,
			Timeout: cfg.Store.REST.Timeout,
		}, s.logger), nil
	case "sql":
		db, err := database.NewDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		repo := repository.NewSQLReadingRepository(db, cfg.Store.Table, s.logger)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			database.Close(db)
			return nil, err
		}
		return repo, nil
	}
	return nil, nil
}

// newSinks 按配置创建下游
func (s *EnvSensorService) newSinks(cfg *config.Config) (*sink.Fanout, error) {
	var sinks []sink.Sink

	if cfg.Sinks.MQTT.Enabled {
		client, err := mqttcommon.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		sinks = append(sinks, sink.NewMQTTSink(client, cfg.Sinks.MQTT.Topic, cfg.MQTT.QoS, cfg.Sinks.MQTT.Retained))
	}
	if cfg.Sinks.Kafka.Enabled {
		writer := sink.NewKafkaWriter(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic)
		sinks = append(sinks, sink.NewKafkaSink(writer, cfg.Link.Name))
	}
	if cfg.Sinks.Influx.Enabled {
		sinks = append(sinks, sink.NewInfluxSink(
			cfg.Sinks.Influx.URL,
			cfg.Sinks.Influx.Token,
			cfg.Sinks.Influx.Org,
			cfg.Sinks.Influx.Bucket,
			cfg.Sinks.Influx.Measurement,
			cfg.Link.Name,
		))
	}

	for _, sk := range sinks {
		s.logger.Info("Sink enabled", zap.String("sink", sk.Name()))
	}
	return sink.NewFanout(s.logger, sinks...), nil
}

// Query 查询服务
func (s *EnvSensorService) Query() *QueryService { return s.query }

// Metrics prometheus 指标
func (s *EnvSensorService) Metrics() *metrics.Prometheus { return s.prom }

// Link 链路管理器；未启用时为 nil
func (s *EnvSensorService) Link() *link.Manager { return s.link }

// Start 启动服务
func (s *EnvSensorService) Start(ctx context.Context) error {
	s.logger.Info("Starting envsensor service components",
		zap.String("store_backend", s.config.Store.Backend),
		zap.Bool("link_enabled", s.config.Link.Enabled),
		zap.Bool("poll_enabled", s.poller != nil),
		zap.Int("sinks", s.sinks.Len()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.pipeline.Start(runCtx)

	if s.poller != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.poller.Run(runCtx)
		}()
	}

	if s.link != nil {
		// 链路失败不影响查询接口，可通过 StartLink 重试
		if err := s.link.Start(runCtx); err != nil {
			s.logger.Error("Failed to start link", zap.Error(err))
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchLinkFailures(runCtx)
		}()
	}

	s.logger.Info("Envsensor service started successfully")
	return nil
}

// watchLinkFailures 链路失败只记录，不自动重连
func (s *EnvSensorService) watchLinkFailures(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.link.Failures():
			s.logger.Error("Link session ended", zap.Error(err))
		}
	}
}

// StartLink 重新建立链路；已在运行时不做任何事
func (s *EnvSensorService) StartLink() error {
	if s.link == nil {
		return ErrLinkDisabled
	}
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return errors.New("service not started")
	}
	return s.link.Start(ctx)
}

// StopLink 断开链路
func (s *EnvSensorService) StopLink() error {
	if s.link == nil {
		return ErrLinkDisabled
	}
	return s.link.Stop()
}

// LinkState 链路状态；未启用时为 "disabled"
func (s *EnvSensorService) LinkState() string {
	if s.link == nil {
		return "disabled"
	}
	return s.link.State().String()
}

// Stop 停止服务
func (s *EnvSensorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping envsensor service")

	if s.link != nil {
		if err := s.link.Stop(); err != nil {
			s.logger.Error("Error stopping link", zap.Error(err))
		}
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.pipeline.Stop()
	s.wg.Wait()

	s.close()
	s.logger.Info("Envsensor service stopped")
	return nil
}

// close 释放外部连接
func (s *EnvSensorService) close() {
	if s.sinks != nil {
		if err := s.sinks.Close(); err != nil {
			s.logger.Error("Error closing sinks", zap.Error(err))
		}
	}
	if s.redis != nil {
		rediscommon.Close(s.redis)
	}
	if s.db != nil {
		database.Close(s.db)
	}
}

// Ingest 直接注入一条原始通知（与链路回调同一路径）
func (s *EnvSensorService) Ingest(payload []byte) {
	s.pipeline.HandlePacket(payload)
}

// Readings 当前本地读数（新到旧）
func (s *EnvSensorService) Readings() []models.Reading {
	return s.store.Query(0, store.OrderDesc)
}

// Refresh 立即从远端拉取快照
func (s *EnvSensorService) Refresh(ctx context.Context, limit int) (int, error) {
	return s.store.Refresh(ctx, limit)
}
