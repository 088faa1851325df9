// Package config loads service configuration from defaults, an optional
// file and CAMPUS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CAMPUS_SERVER_PORT
const EnvPrefix = "CAMPUS"

// Outbox backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Engine   EngineConfig
	Anomaly  AnomalyConfig
	Outbox   OutboxConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level       string
	OTELEnabled bool
	ServiceName string
	SampleRate  int
}

type EngineConfig struct {
	// LogLimit caps the execution log; 0 keeps every entry
	LogLimit int
}

type AnomalyConfig struct {
	Timezone string
}

type OutboxConfig struct {
	Backend       string
	RelayInterval time.Duration
	BatchSize     int
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RelayEnabled reports whether enough Kafka settings exist to run the relay
func (k KafkaConfig) RelayEnabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// Location resolves the anomaly timezone
func (a AnomalyConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid anomaly timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// SetDefaults registers every key so AutomaticEnv can resolve it
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.otel_enabled", false)
	v.SetDefault("log.service_name", "campus-governance")
	v.SetDefault("log.sample_rate", 1)

	v.SetDefault("engine.log_limit", 10000)

	v.SetDefault("anomaly.timezone", "UTC")

	v.SetDefault("outbox.backend", BackendMemory)
	v.SetDefault("outbox.relay_interval", "5s")
	v.SetDefault("outbox.batch_size", 100)

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "campus:outbox")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "")
}

// New returns a viper instance with defaults and CAMPUS_* env binding
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configPath when non-empty, then builds and validates a Config
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			OTELEnabled: v.GetBool("log.otel_enabled"),
			ServiceName: v.GetString("log.service_name"),
			SampleRate:  v.GetInt("log.sample_rate"),
		},
		Engine: EngineConfig{
			LogLimit: v.GetInt("engine.log_limit"),
		},
		Anomaly: AnomalyConfig{
			Timezone: v.GetString("anomaly.timezone"),
		},
		Outbox: OutboxConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("outbox.backend"))),
			RelayInterval: v.GetDuration("outbox.relay_interval"),
			BatchSize:     v.GetInt("outbox.batch_size"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.Get("kafka.brokers")),
			Topic:   strings.TrimSpace(v.GetString("kafka.topic")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Engine.LogLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.log_limit must not be negative"))
	}
	if _, err := c.Anomaly.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.Outbox.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for the postgres outbox backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown outbox.backend %q (use memory, postgres or redis)", c.Outbox.Backend))
	}

	if c.Kafka.RelayEnabled() && c.Outbox.RelayInterval <= 0 {
		errs = append(errs, fmt.Errorf("outbox.relay_interval must be positive"))
	}

	return errors.Join(errs...)
}

// splitList accepts a YAML list or a comma-separated string
func splitList(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
