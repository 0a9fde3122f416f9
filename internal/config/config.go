package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink target names accepted in sink.targets.
const (
	SinkTinybird = "tinybird"
	SinkKafka    = "kafka"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Auth       AuthConfig       `yaml:"auth"`
	Tinybird   TinybirdConfig   `yaml:"tinybird"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Sink       SinkConfig       `yaml:"sink"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Batch      BatchConfig      `yaml:"batch"`
	Sessions   SessionsConfig   `yaml:"sessions"`
}

type ServerConfig struct {
	HTTPPort       int      `yaml:"http_port"`
	BodyLimitBytes int64    `yaml:"body_limit_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

type AuthConfig struct {
	KeyCacheTTL time.Duration `yaml:"key_cache_ttl"`
}

type TinybirdConfig struct {
	APIURL               string        `yaml:"api_url"`
	Token                string        `yaml:"token"`
	EventsDatasource     string        `yaml:"events_datasource"`
	IdentitiesDatasource string        `yaml:"identities_datasource"`
	MaxRetries           uint64        `yaml:"max_retries"`
	Timeout              time.Duration `yaml:"timeout"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type SinkConfig struct {
	Targets []string `yaml:"targets"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type SessionsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Enabled reports whether the named sink target is configured.
func (s SinkConfig) Enabled(name string) bool {
	for _, t := range s.Targets {
		if t == name {
			return true
		}
	}
	return false
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and fills defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	for _, t := range cfg.Sink.Targets {
		if t != SinkTinybird && t != SinkKafka {
			return nil, fmt.Errorf("unknown sink target %q", t)
		}
	}

	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.BodyLimitBytes == 0 {
		cfg.Server.BodyLimitBytes = 10 << 20
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.Auth.KeyCacheTTL == 0 {
		cfg.Auth.KeyCacheTTL = 5 * time.Minute
	}
	if cfg.Tinybird.APIURL == "" {
		cfg.Tinybird.APIURL = "https://api.tinybird.co"
	}
	if cfg.Tinybird.EventsDatasource == "" {
		cfg.Tinybird.EventsDatasource = "website_events"
	}
	if cfg.Tinybird.IdentitiesDatasource == "" {
		cfg.Tinybird.IdentitiesDatasource = "user_identities"
	}
	if cfg.Tinybird.MaxRetries == 0 {
		cfg.Tinybird.MaxRetries = 3
	}
	if cfg.Tinybird.Timeout == 0 {
		cfg.Tinybird.Timeout = 10 * time.Second
	}
	if cfg.Kafka.Topics == nil {
		cfg.Kafka.Topics = map[string]string{}
	}
	if cfg.Kafka.Topics["events"] == "" {
		cfg.Kafka.Topics["events"] = "metricpal.events"
	}
	if cfg.Kafka.Topics["identities"] == "" {
		cfg.Kafka.Topics["identities"] = "metricpal.identities"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "metricpal-relay"
	}
	if len(cfg.Sink.Targets) == 0 {
		cfg.Sink.Targets = []string{SinkTinybird}
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 1000
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}
	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = time.Hour
	}
}
