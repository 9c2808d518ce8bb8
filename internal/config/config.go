package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Admin     AdminConfig     `yaml:"admin"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig points at the topic consumed by the mailer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// AdminConfig guards the operator endpoints. An empty token disables them.
type AdminConfig struct {
	Token string `yaml:"token"`
}

type SchedulerConfig struct {
	Tick               time.Duration `yaml:"tick"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	SweepBatch         int           `yaml:"sweep_batch"`
	EventRetentionDays int           `yaml:"event_retention_days"`
	ExpireHourUTC      *int          `yaml:"expire_hour_utc"`
	PruneHourUTC       *int          `yaml:"prune_hour_utc"`
	ReportHourUTC      *int          `yaml:"report_hour_utc"`
}

// Load reads an optional .env file, then the yaml file, then env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml bytes and applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if tok := os.Getenv("ADMIN_TOKEN"); tok != "" {
		cfg.Admin.Token = tok
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 100
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "billing.notifications"
	}
	s := &c.Scheduler
	if s.Tick <= 0 {
		s.Tick = time.Minute
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = 5 * time.Minute
	}
	if s.SweepBatch <= 0 {
		s.SweepBatch = 10
	}
	if s.EventRetentionDays <= 0 {
		s.EventRetentionDays = 90
	}
	s.ExpireHourUTC = hourOr(s.ExpireHourUTC, 3)
	s.PruneHourUTC = hourOr(s.PruneHourUTC, 4)
	s.ReportHourUTC = hourOr(s.ReportHourUTC, 9)
}

func hourOr(h *int, def int) *int {
	if h != nil && *h >= 0 && *h < 24 {
		return h
	}
	return &def
}
