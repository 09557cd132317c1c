package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"ws"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Store     StoreConfig     `mapstructure:"store"`
	Push      PushConfig      `mapstructure:"push"`
	Lock      LockConfig      `mapstructure:"lock"`
	Resync    ResyncConfig    `mapstructure:"resync"`
	Log       LogConfig       `mapstructure:"log"`
	Instance  InstanceConfig  `mapstructure:"instance"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	// ResolveTimeout bounds the re-query issued when a write's outcome is unknown.
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
}

type WebSocketConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// StoreConfig selects the chain persistence backend: memory, mysql or mongo.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// PushConfig selects the push channel transport: memory, redis or nats.
type PushConfig struct {
	Transport string `mapstructure:"transport"`
	Prefix    string `mapstructure:"prefix"`
}

type LockConfig struct {
	Distributed bool          `mapstructure:"distributed"`
	TTL         time.Duration `mapstructure:"ttl"`
	RetryEvery  time.Duration `mapstructure:"retry_every"`
}

type ResyncConfig struct {
	Spec    string        `mapstructure:"spec"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.resolve_timeout", 5*time.Second)
	viper.SetDefault("ws.port", 8081)
	viper.SetDefault("ws.host", "0.0.0.0")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.dsn", "negotiation_user:negotiation_pass@tcp(localhost:3306)/negotiation_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("mysql.ensure_schema", false)
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "negotiation")
	viper.SetDefault("mongo.collection", "bid_chains")
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("store.driver", "mysql")
	viper.SetDefault("push.transport", "redis")
	viper.SetDefault("push.prefix", "negotiation")
	viper.SetDefault("lock.distributed", false)
	viper.SetDefault("lock.ttl", 10*time.Second)
	viper.SetDefault("lock.retry_every", 25*time.Millisecond)
	// Five fields, six with leading seconds, or a descriptor like "@every 30s".
	viper.SetDefault("resync.spec", "@every 30s")
	viper.SetDefault("resync.timeout", 10*time.Second)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("instance.id", "negotiation-service-1")
}

func bindEnv() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.resolve_timeout", "SERVER_RESOLVE_TIMEOUT")
	viper.BindEnv("ws.port", "WS_PORT")
	viper.BindEnv("ws.host", "WS_HOST")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	viper.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	viper.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	viper.BindEnv("mysql.ensure_schema", "MYSQL_ENSURE_SCHEMA")
	viper.BindEnv("mongo.uri", "MONGO_URI")
	viper.BindEnv("mongo.database", "MONGO_DATABASE")
	viper.BindEnv("mongo.collection", "MONGO_COLLECTION")
	viper.BindEnv("nats.url", "NATS_URL")
	viper.BindEnv("store.driver", "STORE_DRIVER")
	viper.BindEnv("push.transport", "PUSH_TRANSPORT")
	viper.BindEnv("push.prefix", "PUSH_PREFIX")
	viper.BindEnv("lock.distributed", "LOCK_DISTRIBUTED")
	viper.BindEnv("lock.ttl", "LOCK_TTL")
	viper.BindEnv("lock.retry_every", "LOCK_RETRY_EVERY")
	viper.BindEnv("resync.spec", "RESYNC_SPEC")
	viper.BindEnv("resync.timeout", "RESYNC_TIMEOUT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("instance.id", "INSTANCE_ID")
}

func Load() (*Config, error) {
	setDefaults()

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/negotiation-engine/")

	viper.AutomaticEnv()
	bindEnv()

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return unmarshal()
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	setDefaults()
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal()
}

func unmarshal() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects driver/transport names no component understands.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "mysql", "mongo":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Push.Transport {
	case "memory", "redis", "nats":
	default:
		return fmt.Errorf("unknown push transport %q", c.Push.Transport)
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, WS: %s:%d, Store: %s, Push: %s, Redis: %s, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.WebSocket.Host,
		c.WebSocket.Port,
		c.Store.Driver,
		c.Push.Transport,
		c.Redis.Address,
		c.Instance.ID,
	)
}
