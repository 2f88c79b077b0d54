package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. ESPUELA_DATABASE_HOST for database.host
const EnvPrefix = "ESPUELA"

// FightConfig holds all configuration for the fight server
type FightConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Fight     FightSettings   `mapstructure:"fight"`
	Operator  OperatorConfig  `mapstructure:"operator"`
}

type FightSettings struct {
	RepoType     string        `mapstructure:"repo_type"` // db, memory
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// DriverLease is how long an instance sharing the database may stay
	// silent before another one takes over the countdown
	DriverLease time.Duration `mapstructure:"driver_lease"`
	NodeID      int64         `mapstructure:"node_id"`
	BcryptCost  int           `mapstructure:"bcrypt_cost"`
}

// OperatorConfig seeds the operator account on first start
type OperatorConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.name", "espuela-fight")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "logs/fight.log")
	v.SetDefault("log.console", true)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "espuela")
	v.SetDefault("database.password", "espuela")
	v.SetDefault("database.name", "espuela")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "espuela:fight:changed")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "espuela.settlements")
	v.SetDefault("kafka.client_id", "espuela-fight")

	v.SetDefault("jwt.secret", "dev-secret-key")
	v.SetDefault("jwt.duration", 24*time.Hour)

	v.SetDefault("websocket.ping_interval", 54*time.Second)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.max_message_size", 512)

	v.SetDefault("fight.repo_type", "db")
	v.SetDefault("fight.tick_interval", time.Second)
	v.SetDefault("fight.driver_lease", 3*time.Second)
	v.SetDefault("fight.node_id", 1)
	v.SetDefault("fight.bcrypt_cost", 10)

	v.SetDefault("operator.username", "admin")
	v.SetDefault("operator.password", "admin123")
	v.SetDefault("operator.name", "Operador")
}

// Load reads defaults, then the optional YAML file at path, then
// ESPUELA_* environment variables, each overriding the previous.
func Load(path string) (*FightConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &FightConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *FightConfig) Validate() error {
	switch c.Fight.RepoType {
	case "db", "memory":
	default:
		return fmt.Errorf("fight.repo_type must be db or memory, got %q", c.Fight.RepoType)
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres, mysql or sqlite, got %q", c.Database.Driver)
	}
	if c.Fight.TickInterval <= 0 {
		return fmt.Errorf("fight.tick_interval must be positive")
	}
	if c.Fight.DriverLease <= c.Fight.TickInterval {
		return fmt.Errorf("fight.driver_lease must exceed fight.tick_interval")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}
