package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Scan       ScanConfig       `yaml:"scan"`
	Occupancy  OccupancyConfig  `yaml:"occupancy"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
	// Minimum gap between two "space available" pushes for the same location.
	ThrottleSeconds int           `yaml:"throttle_seconds"`
	Throttle        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	Seed                   bool   `yaml:"seed"`
}

// ScanConfig controls the camera-facing scan endpoints.
type ScanConfig struct {
	CooldownMillis int           `yaml:"cooldown_ms"`
	Cooldown       time.Duration `yaml:"-"`
}

// OccupancyConfig controls how the dashboard cache is kept fresh.
type OccupancyConfig struct {
	RefreshIntervalSeconds int           `yaml:"refresh_interval_seconds"`
	RefreshInterval        time.Duration `yaml:"-"`
	RetryAttempts          int           `yaml:"retry_attempts"`
	RetryBaseMillis        int           `yaml:"retry_base_ms"`
	RetryBase              time.Duration `yaml:"-"`
	ListenEnabled          bool          `yaml:"listen_enabled"`
	ListenChannel          string        `yaml:"listen_channel"`
}

// RedisConfig holds the connection for the distributed scan lock. An empty Addr disables it.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	LockTTLSeconds int           `yaml:"lock_ttl_seconds"`
	LockTTL        time.Duration `yaml:"-"`
}

// RabbitMQConfig holds the session event broker. An empty URL disables publishing.
type RabbitMQConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// AuthConfig holds guard sign-in settings.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTLMinutes int           `yaml:"token_ttl_minutes"`
	TokenTTL        time.Duration `yaml:"-"`
	EmailDomain     string        `yaml:"email_domain"`
	// Optional guard account created at startup when it does not exist yet.
	BootstrapUsername string `yaml:"bootstrap_username"`
	BootstrapPassword string `yaml:"bootstrap_password"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Scan.CooldownMillis <= 0 {
		cfg.Scan.CooldownMillis = 3000
	}
	cfg.Scan.Cooldown = time.Duration(cfg.Scan.CooldownMillis) * time.Millisecond

	if cfg.Occupancy.RefreshIntervalSeconds <= 0 {
		cfg.Occupancy.RefreshIntervalSeconds = 30
	}
	cfg.Occupancy.RefreshInterval = time.Duration(cfg.Occupancy.RefreshIntervalSeconds) * time.Second
	if cfg.Occupancy.RetryAttempts <= 0 {
		cfg.Occupancy.RetryAttempts = 3
	}
	if cfg.Occupancy.RetryBaseMillis <= 0 {
		cfg.Occupancy.RetryBaseMillis = 500
	}
	cfg.Occupancy.RetryBase = time.Duration(cfg.Occupancy.RetryBaseMillis) * time.Millisecond
	if cfg.Occupancy.ListenChannel == "" {
		cfg.Occupancy.ListenChannel = "parking_slots_changed"
	}

	if cfg.Redis.LockTTLSeconds <= 0 {
		cfg.Redis.LockTTLSeconds = 10
	}
	cfg.Redis.LockTTL = time.Duration(cfg.Redis.LockTTLSeconds) * time.Second

	if cfg.RabbitMQ.Queue == "" {
		cfg.RabbitMQ.Queue = "parking_session_events"
	}

	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 12 * 60
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	if cfg.Auth.EmailDomain == "" {
		cfg.Auth.EmailDomain = "parkpeek.com"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.ThrottleSeconds < 0 {
		cfg.WorkerPool.ThrottleSeconds = 0
	}
	cfg.WorkerPool.Throttle = time.Duration(cfg.WorkerPool.ThrottleSeconds) * time.Second
}
