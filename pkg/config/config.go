package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	Reconnection ReconnectionConfig `mapstructure:"reconnection"`
	RateLimit    RateLimitConfig    `mapstructure:"rateLimit"`
	Shutdown     ShutdownConfig     `mapstructure:"shutdown"`
	Stats        StatsConfig        `mapstructure:"stats"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	AllowedOrigins []string      `mapstructure:"allowedOrigins"`
	TrustedProxies []string      `mapstructure:"trustedProxies"`
	ServerID       string        `mapstructure:"serverId"`
	SendQueueSize  int           `mapstructure:"sendQueueSize"`
	MaxMessageSize int64         `mapstructure:"maxMessageSize"`
}

type HeartbeatConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxMissed   int           `mapstructure:"maxMissed"`
	Adaptive    bool          `mapstructure:"adaptive"`
	MaxInterval time.Duration `mapstructure:"maxInterval"`
}

type ReconnectionConfig struct {
	MaxRetries         int           `mapstructure:"maxRetries"`
	BaseInterval       time.Duration `mapstructure:"baseInterval"`
	MaxInterval        time.Duration `mapstructure:"maxInterval"`
	ExponentialBackoff bool          `mapstructure:"exponentialBackoff"`
}

type RateLimitConfig struct {
	Backend          string        `mapstructure:"backend"`
	ConnectionMax    int           `mapstructure:"connectionMax"`
	ConnectionWindow time.Duration `mapstructure:"connectionWindow"`
	CommandMax       int           `mapstructure:"commandMax"`
	CommandWindow    time.Duration `mapstructure:"commandWindow"`
	CleanupInterval  time.Duration `mapstructure:"cleanupInterval"`
}

type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"gracePeriod"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	BootstrapServers string   `mapstructure:"bootstrapServers"`
	GroupID          string   `mapstructure:"groupId"`
	Topics           []string `mapstructure:"topics"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("GAMERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"heartbeat.interval":         c.Heartbeat.Interval,
		"heartbeat.timeout":          c.Heartbeat.Timeout,
		"reconnection.baseInterval":  c.Reconnection.BaseInterval,
		"rateLimit.connectionWindow": c.RateLimit.ConnectionWindow,
		"rateLimit.commandWindow":    c.RateLimit.CommandWindow,
		"rateLimit.cleanupInterval":  c.RateLimit.CleanupInterval,
		"stats.interval":             c.Stats.Interval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Heartbeat.MaxMissed <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat.maxMissed must be positive, got %d", c.Heartbeat.MaxMissed))
	}
	if c.Reconnection.MaxInterval < c.Reconnection.BaseInterval {
		errs = append(errs, fmt.Errorf("reconnection.maxInterval %s is below baseInterval %s",
			c.Reconnection.MaxInterval, c.Reconnection.BaseInterval))
	}
	if c.RateLimit.ConnectionMax <= 0 || c.RateLimit.CommandMax <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit maxima must be positive"))
	}
	if c.Shutdown.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("shutdown.gracePeriod must not be negative"))
	}
	for _, proxy := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			errs = append(errs, fmt.Errorf("server.trustedProxies: %q is neither an address nor a CIDR", proxy))
		}
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if !c.Redis.Enabled {
			errs = append(errs, fmt.Errorf("rateLimit.backend %q requires redis.enabled", c.RateLimit.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown rateLimit.backend %q", c.RateLimit.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.trustedProxies", []string{})
	v.SetDefault("server.serverId", "")
	v.SetDefault("server.sendQueueSize", 256)
	v.SetDefault("server.maxMessageSize", 4096)

	v.SetDefault("heartbeat.interval", 30*time.Second)
	v.SetDefault("heartbeat.timeout", 5*time.Second)
	v.SetDefault("heartbeat.maxMissed", 3)
	v.SetDefault("heartbeat.adaptive", true)
	v.SetDefault("heartbeat.maxInterval", 60*time.Second)

	v.SetDefault("reconnection.maxRetries", 5)
	v.SetDefault("reconnection.baseInterval", time.Second)
	v.SetDefault("reconnection.maxInterval", 30*time.Second)
	v.SetDefault("reconnection.exponentialBackoff", true)

	v.SetDefault("rateLimit.backend", RateLimitBackendMemory)
	v.SetDefault("rateLimit.connectionMax", 10)
	v.SetDefault("rateLimit.connectionWindow", time.Minute)
	v.SetDefault("rateLimit.commandMax", 100)
	v.SetDefault("rateLimit.commandWindow", time.Minute)
	v.SetDefault("rateLimit.cleanupInterval", 5*time.Minute)

	v.SetDefault("shutdown.gracePeriod", 5*time.Second)
	v.SetDefault("shutdown.timeout", 30*time.Second)

	v.SetDefault("stats.interval", 30*time.Second)
	v.SetDefault("stats.ttl", 2*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.bootstrapServers", "localhost:9092")
	v.SetDefault("kafka.groupId", "game-realtime")
	v.SetDefault("kafka.topics", []string{"game-generation-events", "interactive-events", "achievement-events"})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("metrics.namespace", "game_realtime")
}
