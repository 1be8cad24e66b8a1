package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	AWS         AWSConfig         `yaml:"aws"`
	APNS        APNSConfig        `yaml:"apns"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration.
// Driver "memory" keeps everything in process, for local development.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	DBName       string        `yaml:"dbname"`
	SSLMode      string        `yaml:"sslmode"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	Migrate      bool          `yaml:"migrate"`
}

// RedisConfig holds listing cache configuration, empty Addr disables the cache
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NATSConfig holds change feed configuration, empty URL keeps the feed in process
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// AWSConfig holds AWS configuration
type AWSConfig struct {
	Region     string `yaml:"region"`
	S3Bucket   string `yaml:"s3_bucket"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Endpoint   string `yaml:"endpoint"`
	PublicBase string `yaml:"public_base"`
}

// APNSConfig holds push notification configuration, empty KeyPath disables pushes
type APNSConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// MarketplaceConfig holds the business constants
type MarketplaceConfig struct {
	InitialBalance     int64         `yaml:"initial_balance"`
	BoostCost          int64         `yaml:"boost_cost"`
	BoostDuration      time.Duration `yaml:"boost_duration"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	MessageWindow      int           `yaml:"message_window"`
	MaxMessageLength   int           `yaml:"max_message_length"`
	UploadURLExpiresIn time.Duration `yaml:"upload_url_expires_in"`
}

// Load reads configuration from a YAML file, then applies .env and environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Database.Password, "DATABASE_PASSWORD")
	override(&c.JWT.Secret, "JWT_SECRET")
	override(&c.AWS.AccessKey, "AWS_ACCESS_KEY")
	override(&c.AWS.SecretKey, "AWS_SECRET_KEY")
	override(&c.Redis.Password, "REDIS_PASSWORD")
	override(&c.NATS.URL, "NATS_URL")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = 5 * time.Second
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "services-market-backend"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	m := &c.Marketplace
	if m.InitialBalance == 0 {
		m.InitialBalance = 1000
	}
	if m.BoostCost == 0 {
		m.BoostCost = 500
	}
	if m.BoostDuration == 0 {
		m.BoostDuration = time.Minute
	}
	if m.SweepInterval == 0 {
		m.SweepInterval = 60 * time.Second
	}
	if m.MessageWindow == 0 {
		m.MessageWindow = 100
	}
	if m.MaxMessageLength == 0 {
		m.MaxMessageLength = 5000
	}
	if m.UploadURLExpiresIn == 0 {
		m.UploadURLExpiresIn = 5 * time.Minute
	}
}

// Validate reports configuration that the server cannot start with
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Marketplace.BoostCost < 0 {
		return fmt.Errorf("marketplace.boost_cost must not be negative")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
