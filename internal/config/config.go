// Package config loads the billing service configuration from YAML and
// environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/cypher-asi/z-billing/internal/pricing"
)

// Config captures the runtime configuration for the billing service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payments      PaymentsConfig      `mapstructure:"payments"`
	Analytics     AnalyticsConfig     `mapstructure:"analytics"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions"`
	Pricing       PricingConfig       `mapstructure:"pricing"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	MaxBodyBytes          int           `mapstructure:"max_body_bytes"`
	RequestTimeoutSeconds int           `mapstructure:"request_timeout_seconds"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	FrontendURL           string        `mapstructure:"frontend_url"`
}

// RequestTimeout returns the per-request timeout as a duration.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type AuthConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Audience      string `mapstructure:"audience"`
	ServiceAPIKey string `mapstructure:"service_api_key"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type PaymentsConfig struct {
	ChargeURL     string        `mapstructure:"charge_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type AnalyticsConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	QueueSize     int           `mapstructure:"queue_size"`
}

type SubscriptionsConfig struct {
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	PastDueGraceDays int           `mapstructure:"past_due_grace_days"`
}

// PastDueGrace returns the grace period as a duration.
func (s SubscriptionsConfig) PastDueGrace() time.Duration {
	return time.Duration(s.PastDueGraceDays) * 24 * time.Hour
}

// PricingConfig carries rate overrides layered over the built-in table.
type PricingConfig struct {
	CPUHourCredits       int64               `mapstructure:"cpu_hour_credits"`
	MemoryGBHourCredits  int64               `mapstructure:"memory_gb_hour_credits"`
	StorageGBHourCredits int64               `mapstructure:"storage_gb_hour_credits"`
	Models               []ModelPricingEntry `mapstructure:"models"`
}

type ModelPricingEntry struct {
	Provider                string `mapstructure:"provider"`
	Model                   string `mapstructure:"model"`
	InputCreditsPerMillion  int64  `mapstructure:"input_credits_per_million"`
	OutputCreditsPerMillion int64  `mapstructure:"output_credits_per_million"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// BuildPricing merges the configured overrides over the default table.
func (c *Config) BuildPricing() *pricing.Config {
	cfg := pricing.Default()
	if c.Pricing.CPUHourCredits > 0 {
		cfg.CPUHourCredits = c.Pricing.CPUHourCredits
	}
	if c.Pricing.MemoryGBHourCredits > 0 {
		cfg.MemoryGBHourCredits = c.Pricing.MemoryGBHourCredits
	}
	if c.Pricing.StorageGBHourCredits > 0 {
		cfg.StorageGBHourCredits = c.Pricing.StorageGBHourCredits
	}
	for _, entry := range c.Pricing.Models {
		cfg.LLMPricing[pricing.ModelKey{Provider: entry.Provider, Model: entry.Model}] = pricing.LLMPricing{
			InputCreditsPerMillion:  entry.InputCreditsPerMillion,
			OutputCreditsPerMillion: entry.OutputCreditsPerMillion,
		}
	}
	return cfg
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("ZBILLING_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("billing")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ZBILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set.
func (c *Config) Validate() error {
	var missing []string

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		missing = append(missing, "ZBILLING_STORAGE_DATA_DIR")
	}
	if strings.TrimSpace(c.Auth.ServiceAPIKey) == "" {
		missing = append(missing, "ZBILLING_AUTH_SERVICE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.Analytics.MaxRetries < 0 {
		return fmt.Errorf("analytics.max_retries must be >= 0")
	}
	if c.Analytics.QueueSize < 0 {
		return fmt.Errorf("analytics.queue_size must be >= 0")
	}
	if c.Subscriptions.PastDueGraceDays <= 0 {
		return fmt.Errorf("subscriptions.past_due_grace_days must be > 0")
	}

	for i, entry := range c.Pricing.Models {
		if entry.Provider == "" || entry.Model == "" {
			return fmt.Errorf("pricing.models[%d] requires provider and model", i)
		}
		if entry.InputCreditsPerMillion < 0 || entry.OutputCreditsPerMillion < 0 {
			return fmt.Errorf("pricing.models[%d] rates must be >= 0", i)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("analytics.timeout", "5s")
	v.SetDefault("analytics.max_retries", 3)
	v.SetDefault("analytics.queue_size", 1024)

	v.SetDefault("payments.timeout", "15s")

	v.SetDefault("subscriptions.sweep_interval", "1h")
	v.SetDefault("subscriptions.past_due_grace_days", 14)

	v.SetDefault("observability.enable_metrics", true)
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
