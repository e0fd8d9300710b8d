package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	RealtimeDriverNATS  = "nats"
	RealtimeDriverLocal = "local"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Port       int `mapstructure:"port"`
	HealthPort int `mapstructure:"health_port"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 构建 PostgreSQL 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr 返回 host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	AccessExpire time.Duration `mapstructure:"access_expire"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// RealtimeConfig 变更通知通道配置
// RetryWait 订阅失败后重新订阅前的等待时间
type RealtimeConfig struct {
	Driver    string        `mapstructure:"driver"`
	RetryWait time.Duration `mapstructure:"retry_wait"`
}

// ReconcileConfig 兜底轮询周期。FallbackInterval 用于实时通道断开时，
// SafetyInterval 用于订阅正常时
type ReconcileConfig struct {
	FallbackInterval time.Duration `mapstructure:"fallback_interval"`
	SafetyInterval   time.Duration `mapstructure:"safety_interval"`
}

type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

// Load 加载配置文件，应用环境变量覆盖并校验
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "im-messaging")
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.health_port", 8081)
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("jwt.access_expire", 2*time.Hour)
	v.SetDefault("realtime.driver", RealtimeDriverNATS)
	v.SetDefault("realtime.retry_wait", 3*time.Second)
	v.SetDefault("reconcile.fallback_interval", 30*time.Second)
	v.SetDefault("reconcile.safety_interval", 2*time.Minute)
	v.SetDefault("snowflake.node_id", 1)
}

// applyEnv 使用环境变量覆盖配置
func (c *Config) applyEnv() {
	c.App.Mode = GetEnv("APP_MODE", c.App.Mode)
	c.App.LogLevel = GetEnv("LOG_LEVEL", c.App.LogLevel)
	c.HTTP.Port = GetEnvInt("HTTP_PORT", c.HTTP.Port)
	c.HTTP.HealthPort = GetEnvInt("HEALTH_PORT", c.HTTP.HealthPort)

	c.Storage.Driver = GetEnv("STORAGE_DRIVER", c.Storage.Driver)

	c.Database.Host = GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = GetEnv("POSTGRES_DB", c.Database.Name)

	c.Redis.Host = GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = GetEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetEnvInt("REDIS_DB", c.Redis.DB)

	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)

	c.JWT.SecretKey = GetEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.AccessExpire = GetEnvDuration("JWT_ACCESS_EXPIRE", c.JWT.AccessExpire)

	c.CORS.AllowCredentials = GetEnvBool("CORS_ALLOW_CREDENTIALS", c.CORS.AllowCredentials)

	c.Realtime.Driver = GetEnv("REALTIME_DRIVER", c.Realtime.Driver)
	c.Realtime.RetryWait = GetEnvDuration("REALTIME_RETRY_WAIT", c.Realtime.RetryWait)
	c.Reconcile.FallbackInterval = GetEnvDuration("RECONCILE_FALLBACK_INTERVAL", c.Reconcile.FallbackInterval)
	c.Reconcile.SafetyInterval = GetEnvDuration("RECONCILE_SAFETY_INTERVAL", c.Reconcile.SafetyInterval)
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Realtime.Driver {
	case RealtimeDriverNATS, RealtimeDriverLocal:
	default:
		return fmt.Errorf("unknown realtime driver %q", c.Realtime.Driver)
	}
	if c.Reconcile.FallbackInterval <= 0 || c.Reconcile.SafetyInterval <= 0 {
		return fmt.Errorf("reconcile intervals must be positive")
	}
	if c.Reconcile.SafetyInterval < c.Reconcile.FallbackInterval {
		return fmt.Errorf("reconcile.safety_interval must not be shorter than reconcile.fallback_interval")
	}
	if c.Realtime.RetryWait <= 0 {
		return fmt.Errorf("realtime.retry_wait must be positive")
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	return nil
}
