package config

import (
	"fmt"
	"net/url"
	"time"
)

// --- Shared Configs ---

type ServerConfig struct {
	HTTPPort        string        `mapstructure:"http_port"`
	Name            string        `mapstructure:"name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`  // debug, info, warn, error
	Format  string `mapstructure:"format"` // json, console
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, mysql, sqlite
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	DSN             string        `mapstructure:"dsn"` // overrides the fields above when set
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// ConnectionString returns the driver specific DSN
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case "sqlite":
		return fmt.Sprintf("file:%s?cache=shared", c.Name)
	default:
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Name, c.SSLMode)
	}
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret"`
	Duration time.Duration `mapstructure:"duration"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}
