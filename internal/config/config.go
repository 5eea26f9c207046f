package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-envsensor/internal/common/config"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 环境传感器服务配置
//
// 加载顺序：默认值 -> CONFIG_FILE 指定的 YAML -> 环境变量（含 .env）。
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	// 无线链路
	Link struct {
		Enabled            bool   `yaml:"enabled"`
		Name               string `yaml:"name"`
		ServiceUUID        string `yaml:"service_uuid"`
		CharacteristicUUID string `yaml:"characteristic_uuid"`
	} `yaml:"link"`

	// 定位
	Location struct {
		Provider  string        `yaml:"provider"` // "http" 或 "static"
		URL       string        `yaml:"url"`
		Path      string        `yaml:"path"`
		Latitude  float64       `yaml:"latitude"`
		Longitude float64       `yaml:"longitude"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"location"`

	// 遥测存储
	Store struct {
		Capacity int    `yaml:"capacity"`
		Backend  string `yaml:"backend"` // "rest"、"sql" 或 "none"
		Table    string `yaml:"table"`
		REST     struct {
			URL     string        `yaml:"url"`
			APIKey  string        `yaml:"api_key"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"rest"`
	} `yaml:"store"`

	// 远端快照轮询
	Poll struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		Limit    int           `yaml:"limit"`
	} `yaml:"poll"`

	Pipeline struct {
		Workers         int           `yaml:"workers"`
		QueueSize       int           `yaml:"queue_size"`
		MetricsInterval time.Duration `yaml:"metrics_interval"`
	} `yaml:"pipeline"`

	Session struct {
		GapMinutes float64 `yaml:"gap_minutes"`
		MaxPoints  int     `yaml:"max_points"`
	} `yaml:"session"`

	// Redis 实时缓存
	Cache struct {
		Enabled      bool          `yaml:"enabled"`
		KeyPrefix    string        `yaml:"key_prefix"`
		StreamMaxLen int64         `yaml:"stream_max_len"`
		LatestTTL    time.Duration `yaml:"latest_ttl"`
	} `yaml:"cache"`

	// 下游
	Sinks struct {
		MQTT struct {
			Enabled  bool   `yaml:"enabled"`
			Topic    string `yaml:"topic"`
			Retained bool   `yaml:"retained"`
		} `yaml:"mqtt"`
		Kafka struct {
			Enabled bool     `yaml:"enabled"`
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		Influx struct {
			Enabled     bool   `yaml:"enabled"`
			URL         string `yaml:"url"`
			Token       string `yaml:"token"`
			Org         string `yaml:"org"`
			Bucket      string `yaml:"bucket"`
			Measurement string `yaml:"measurement"`
		} `yaml:"influx"`
	} `yaml:"sinks"`

	HTTP struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
		Timezone    string   `yaml:"timezone"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置
func Load() (*Config, error) {
	// .env 可选，不覆盖已存在的环境变量
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Database.Driver = "sqlite"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "envsensor"
	cfg.Database.SSLMode = "disable"
	cfg.Database.Path = "envsensor.db"

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-envsensor"
	cfg.MQTT.QoS = 1

	cfg.Link.Enabled = true
	cfg.Link.Name = "ESP32-Env"
	cfg.Link.ServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	cfg.Link.CharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"

	cfg.Location.Provider = "http"
	cfg.Location.URL = "http://ip-api.com"
	cfg.Location.Path = "/json"
	cfg.Location.Timeout = 5 * time.Second

	cfg.Store.Capacity = 100
	cfg.Store.Backend = "sql"
	cfg.Store.Table = "sensor_data"
	cfg.Store.REST.Timeout = 10 * time.Second

	cfg.Poll.Enabled = true
	cfg.Poll.Interval = 5 * time.Second
	cfg.Poll.Limit = 100

	cfg.Pipeline.Workers = 1
	cfg.Pipeline.QueueSize = 64
	cfg.Pipeline.MetricsInterval = 60 * time.Second

	cfg.Session.GapMinutes = 10
	cfg.Session.MaxPoints = 30

	cfg.Cache.KeyPrefix = "envsensor"
	cfg.Cache.StreamMaxLen = 100

	cfg.Sinks.MQTT.Topic = "envsensor/readings"
	cfg.Sinks.MQTT.Retained = true
	cfg.Sinks.Kafka.Topic = "envsensor.readings"
	cfg.Sinks.Influx.Measurement = "environment"

	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.CORSOrigins = []string{"*"}
	cfg.HTTP.Timezone = "Local"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// applyEnv 环境变量覆盖（未设置时保留当前值）
func applyEnv(cfg *Config) error {
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Link.Enabled = getBool("LINK_ENABLED", cfg.Link.Enabled)
	cfg.Link.Name = getEnv("LINK_NAME", cfg.Link.Name)
	cfg.Link.ServiceUUID = getEnv("LINK_SERVICE_UUID", cfg.Link.ServiceUUID)
	cfg.Link.CharacteristicUUID = getEnv("LINK_CHARACTERISTIC_UUID", cfg.Link.CharacteristicUUID)

	cfg.Location.Provider = getEnv("LOCATION_PROVIDER", cfg.Location.Provider)
	cfg.Location.URL = getEnv("LOCATION_URL", cfg.Location.URL)
	cfg.Location.Path = getEnv("LOCATION_PATH", cfg.Location.Path)

	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Table = getEnv("STORE_TABLE", cfg.Store.Table)
	cfg.Store.REST.URL = getEnv("STORE_REST_URL", cfg.Store.REST.URL)
	cfg.Store.REST.APIKey = getEnv("STORE_REST_API_KEY", cfg.Store.REST.APIKey)

	cfg.Poll.Enabled = getBool("POLL_ENABLED", cfg.Poll.Enabled)

	cfg.Cache.Enabled = getBool("CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", cfg.Cache.KeyPrefix)

	cfg.Sinks.MQTT.Enabled = getBool("SINK_MQTT_ENABLED", cfg.Sinks.MQTT.Enabled)
	cfg.Sinks.MQTT.Topic = getEnv("SINK_MQTT_TOPIC", cfg.Sinks.MQTT.Topic)
	cfg.Sinks.Kafka.Enabled = getBool("SINK_KAFKA_ENABLED", cfg.Sinks.Kafka.Enabled)
	cfg.Sinks.Kafka.Topic = getEnv("SINK_KAFKA_TOPIC", cfg.Sinks.Kafka.Topic)
	if brokers := os.Getenv("SINK_KAFKA_BROKERS"); brokers != "" {
		cfg.Sinks.Kafka.Brokers = splitList(brokers)
	}
	cfg.Sinks.Influx.Enabled = getBool("SINK_INFLUX_ENABLED", cfg.Sinks.Influx.Enabled)
	cfg.Sinks.Influx.URL = getEnv("SINK_INFLUX_URL", cfg.Sinks.Influx.URL)
	cfg.Sinks.Influx.Token = getEnv("SINK_INFLUX_TOKEN", cfg.Sinks.Influx.Token)
	cfg.Sinks.Influx.Org = getEnv("SINK_INFLUX_ORG", cfg.Sinks.Influx.Org)
	cfg.Sinks.Influx.Bucket = getEnv("SINK_INFLUX_BUCKET", cfg.Sinks.Influx.Bucket)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	if origins := os.Getenv("HTTP_CORS_ORIGINS"); origins != "" {
		cfg.HTTP.CORSOrigins = splitList(origins)
	}
	cfg.HTTP.Timezone = getEnv("HTTP_TIMEZONE", cfg.HTTP.Timezone)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	var err error
	if cfg.Location.Latitude, err = getFloat("LOCATION_LATITUDE", cfg.Location.Latitude); err != nil {
		return err
	}
	if cfg.Location.Longitude, err = getFloat("LOCATION_LONGITUDE", cfg.Location.Longitude); err != nil {
		return err
	}
	if cfg.Location.Timeout, err = getDuration("LOCATION_TIMEOUT", cfg.Location.Timeout); err != nil {
		return err
	}
	if cfg.Poll.Interval, err = getDuration("POLL_INTERVAL", cfg.Poll.Interval); err != nil {
		return err
	}
	if cfg.Poll.Limit, err = getInt("POLL_LIMIT", cfg.Poll.Limit); err != nil {
		return err
	}
	if cfg.Store.Capacity, err = getInt("STORE_CAPACITY", cfg.Store.Capacity); err != nil {
		return err
	}
	if cfg.Pipeline.Workers, err = getInt("PIPELINE_WORKERS", cfg.Pipeline.Workers); err != nil {
		return err
	}
	if cfg.Pipeline.QueueSize, err = getInt("PIPELINE_QUEUE_SIZE", cfg.Pipeline.QueueSize); err != nil {
		return err
	}
	if cfg.Session.GapMinutes, err = getFloat("SESSION_GAP_MINUTES", cfg.Session.GapMinutes); err != nil {
		return err
	}
	if cfg.Session.MaxPoints, err = getInt("SESSION_MAX_POINTS", cfg.Session.MaxPoints); err != nil {
		return err
	}
	return nil
}

// Validate 校验配置组合
func (c *Config) Validate() error {
	switch c.Location.Provider {
	case "http", "static":
	default:
		return fmt.Errorf("unsupported location provider: %s", c.Location.Provider)
	}
	switch c.Store.Backend {
	case "rest":
		if c.Store.REST.URL == "" {
			return fmt.Errorf("STORE_REST_URL is required for rest backend")
		}
	case "sql", "none":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Sinks.Kafka.Enabled && len(c.Sinks.Kafka.Brokers) == 0 {
		return fmt.Errorf("SINK_KAFKA_BROKERS is required when kafka sink is enabled")
	}
	if c.Session.GapMinutes <= 0 || c.Session.MaxPoints <= 0 {
		return fmt.Errorf("session gap and max points must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
