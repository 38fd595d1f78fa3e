package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEATMARKET_"

// Config is shared by pushd and the meattrack client. Each binary reads the
// sections it needs.
type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Client    ClientConfig    `yaml:"client"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the libpq-style connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	// SendBuffer is the number of frames queued per WebSocket subscriber
	// before the subscriber is dropped as too slow.
	SendBuffer   int           `yaml:"send_buffer"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	StatusTopic         string        `yaml:"status_topic"`
	OverrideTopic       string        `yaml:"override_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	InstanceID          string        `yaml:"instance_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// ClientConfig configures the customer-side API client and order tracker.
type ClientConfig struct {
	APIURL           string        `yaml:"api_url"`
	PushURL          string        `yaml:"push_url"`
	SessionPath      string        `yaml:"session_path"`
	Timeout          time.Duration `yaml:"timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryStep        time.Duration `yaml:"retry_step"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "pushd.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "meatmarket",
				User:     "meatmarket",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			TTL:     24 * time.Hour,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			SessionSecret: "change-me-in-production",
			SendBuffer:    16,
			PingInterval:  30 * time.Second,
		},
		Messaging: MessagingConfig{
			Backend:             "kafka",
			Kafka:               KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "pushd"},
			MQTT:                MQTTConfig{Broker: "localhost", Port: 1883},
			StatusTopic:         "meatmarket.order-status",
			OverrideTopic:       "meatmarket.order-override",
			OutboxDrainInterval: 5 * time.Second,
			InstanceID:          "pushd",
		},
		Client: ClientConfig{
			APIURL:           "http://localhost:8080/api",
			PushURL:          "ws://localhost:8090",
			SessionPath:      "meattrack.db",
			Timeout:          10 * time.Second,
			PollInterval:     10 * time.Second,
			MaxRetries:       5,
			RetryStep:        time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies a .env file in
// the working directory and MEATMARKET_* environment overrides. A missing
// config file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}
	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
		return nil
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DB_DRIVER", &c.Database.Driver)
	str("SQLITE_PATH", &c.Database.SQLite.Path)
	str("PG_HOST", &c.Database.Postgres.Host)
	str("PG_DATABASE", &c.Database.Postgres.Database)
	str("PG_USER", &c.Database.Postgres.User)
	str("PG_PASSWORD", &c.Database.Postgres.Password)
	str("REDIS_ADDR", &c.Redis.Address)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("SESSION_SECRET", &c.Web.SessionSecret)
	str("MESSAGING_BACKEND", &c.Messaging.Backend)
	str("MQTT_BROKER", &c.Messaging.MQTT.Broker)
	str("API_URL", &c.Client.APIURL)
	str("PUSH_URL", &c.Client.PushURL)
	str("SESSION_PATH", &c.Client.SessionPath)
	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok && v != "" {
		c.Messaging.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := lookup(EnvPrefix + "REDIS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_ENABLED: %w", EnvPrefix, err)
		}
		c.Redis.Enabled = b
	}
	if err := integer("PG_PORT", &c.Database.Postgres.Port); err != nil {
		return err
	}
	return integer("WEB_PORT", &c.Web.Port)
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
