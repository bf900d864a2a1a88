package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

type ResolverConfig struct {
	PoolSize       int
	RequestTimeout time.Duration
	ImageURLTTL    time.Duration
	VideoURLTTL    time.Duration
}

type VisibilityConfig struct {
	Debounce  time.Duration
	BatchSize int
	QueueSize int
}

type CoordinatorConfig struct {
	BufferTTL time.Duration
}

type EventsConfig struct {
	Stream        string
	Group         string
	ClaimInterval time.Duration
}

type SecurityConfig struct {
	JWTAccessSecret string
	JWTAccessTTL    time.Duration
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Resolver         ResolverConfig
	Visibility       VisibilityConfig
	Coordinator      CoordinatorConfig
	Events           EventsConfig
	Security         SecurityConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("GENBOARD")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("resolver.poolsize", 3)
	v.SetDefault("resolver.requesttimeout", "12s")
	v.SetDefault("resolver.imageurlttl", "1h")
	v.SetDefault("resolver.videourlttl", "2h")

	v.SetDefault("visibility.debounce", "100ms")
	v.SetDefault("visibility.batchsize", 8)
	v.SetDefault("visibility.queuesize", 256)

	v.SetDefault("coordinator.bufferttl", "15m")

	v.SetDefault("events.stream", "jobs:events")
	v.SetDefault("events.group", "workspace-engine")
	v.SetDefault("events.claiminterval", "30s")

	v.SetDefault("security.jwtaccessttl", "15m")
}
