package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Sheet     SheetConfig
	Cache     CacheConfig
	RabbitMQ  RabbitMQConfig
	JWT       JWTConfig
	Inventory InventoryConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// SheetConfig holds the spreadsheet backend endpoint configuration
type SheetConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ListLimit int           `mapstructure:"list_limit"`
}

// Validate checks that the sheet backend is reachable by configuration.
// In production/staging environments the URL must be set and absolute.
func (c *SheetConfig) Validate(environment string) error {
	if c.URL == "" {
		if environment == EnvProduction || environment == EnvStaging {
			return errors.New("NURSE_SHEET_URL required in " + environment)
		}
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid sheet url %q", c.URL)
	}
	if c.Timeout <= 0 {
		return errors.New("sheet timeout must be positive")
	}
	return nil
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	ListTTL      time.Duration `mapstructure:"list_ttl"`
	AggregateTTL time.Duration `mapstructure:"aggregate_ttl"`
	MaxEntries   int           `mapstructure:"max_entries"`
}

// RabbitMQConfig holds RabbitMQ connection configuration.
// An empty URL disables event publishing.
type RabbitMQConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret       string        `mapstructure:"secret"`
	AccessExpiry time.Duration `mapstructure:"access_expiry"`
	Issuer       string        `mapstructure:"issuer"`
}

// SharedMedicineConfig describes one family of catalog names that share a
// single stock pool.
type SharedMedicineConfig struct {
	Canonical string   `mapstructure:"canonical"`
	Aliases   []string `mapstructure:"aliases"`
	Groups    []string `mapstructure:"groups"`
}

// InventoryConfig holds inventory domain configuration
type InventoryConfig struct {
	SharedMedicines []SharedMedicineConfig `mapstructure:"shared_medicines"`
	// AlertInterval is how often stock alerts are scanned; zero disables
	// the scheduler.
	AlertInterval     time.Duration `mapstructure:"alert_interval"`
	ExpiryWarningDays int           `mapstructure:"expiry_warning_days"`
}

// Load loads configuration from environment and config files.
// This function applies development defaults and is suitable for local development.
// For production use, prefer LoadWithValidation which enforces required configuration.
func Load(serviceName string) (*Config, error) {
	return loadConfig(serviceName)
}

// LoadWithValidation loads configuration and validates it for the current environment.
// In production/staging environments, this will fail if required configuration is missing.
func LoadWithValidation(serviceName string) (*Config, error) {
	cfg, err := loadConfig(serviceName)
	if err != nil {
		return nil, err
	}

	if err := cfg.Sheet.Validate(cfg.Server.Environment); err != nil {
		return nil, fmt.Errorf("sheet configuration error: %w", err)
	}

	if cfg.Server.Environment == EnvProduction || cfg.Server.Environment == EnvStaging {
		if cfg.JWT.Secret == "" || cfg.JWT.Secret == devJWTSecret {
			return nil, errors.New("NURSE_JWT_SECRET must be set to a secure value in " + cfg.Server.Environment)
		}
	}

	for i, rule := range cfg.Inventory.SharedMedicines {
		if strings.TrimSpace(rule.Canonical) == "" {
			return nil, fmt.Errorf("inventory.shared_medicines[%d]: canonical name required", i)
		}
	}

	return cfg, nil
}

const devJWTSecret = "dev-secret-change-in-production"

func loadConfig(serviceName string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NURSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/nurse-station")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Server.Environment = strings.ToLower(cfg.Server.Environment)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.cors_origins", []string{"*"})

	// The backend is a spreadsheet script; it is slow, so the client waits long.
	v.SetDefault("sheet.url", "")
	v.SetDefault("sheet.timeout", 30*time.Second)
	v.SetDefault("sheet.list_limit", 5000)

	v.SetDefault("cache.list_ttl", 20*time.Second)
	v.SetDefault("cache.aggregate_ttl", 60*time.Second)
	v.SetDefault("cache.max_entries", 512)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.reconnect_delay", 5*time.Second)
	v.SetDefault("rabbitmq.max_retries", 5)

	v.SetDefault("inventory.alert_interval", time.Hour)
	v.SetDefault("inventory.expiry_warning_days", 90)

	v.SetDefault("jwt.secret", devJWTSecret)
	v.SetDefault("jwt.access_expiry", 12*time.Hour)
	v.SetDefault("jwt.issuer", "nurse-station")
}
