package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/money"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field maps 1:1 to an env var.
type Config struct {
	// Server
	Port int    `mapstructure:"PORT"`
	Env  string `mapstructure:"APP_ENV"` // development | production

	// Storage
	DBPath string `mapstructure:"DB_PATH"`

	// Redis (memo cache); empty keeps the cache in process
	RedisAddr string        `mapstructure:"REDIS_ADDR"`
	CacheTTL  time.Duration `mapstructure:"CACHE_TTL"`

	// Fiscal
	TaxRatePercent        string `mapstructure:"TAX_RATE_PERCENT"`
	ForeignCashTaxEnabled bool   `mapstructure:"FOREIGN_CASH_TAX_ENABLED"`
	ForeignCashTaxRate    string `mapstructure:"FOREIGN_CASH_TAX_RATE"`

	// Engine
	StreamThreshold int           `mapstructure:"STREAM_THRESHOLD"`
	RegisterID      string        `mapstructure:"REGISTER_ID"`
	ResealInterval  time.Duration `mapstructure:"RESEAL_INTERVAL"` // 0 disables the background reseal
}

// Load reads configuration from environment variables (and optional .env file).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Sensible defaults for development
	v.SetDefault("PORT", 8080)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_PATH", "fiscal.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("TAX_RATE_PERCENT", "16")
	v.SetDefault("FOREIGN_CASH_TAX_ENABLED", false)
	v.SetDefault("FOREIGN_CASH_TAX_RATE", "3")
	v.SetDefault("STREAM_THRESHOLD", fiscal.DefaultStreamThreshold)
	v.SetDefault("REGISTER_ID", "caja-1")
	v.SetDefault("RESEAL_INTERVAL", "10m")

	// Optional .env file for local development, does not fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if money.Parse(c.TaxRatePercent).IsNegative() {
		return fmt.Errorf("invalid TAX_RATE_PERCENT %q", c.TaxRatePercent)
	}
	if money.Parse(c.ForeignCashTaxRate).IsNegative() {
		return fmt.Errorf("invalid FOREIGN_CASH_TAX_RATE %q", c.ForeignCashTaxRate)
	}
	if c.ResealInterval < 0 {
		return fmt.Errorf("invalid RESEAL_INTERVAL %s", c.ResealInterval)
	}
	if c.RegisterID == "" {
		return fmt.Errorf("REGISTER_ID must not be empty")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

// Fiscal projects the settings the engine reads. Unparsable rates fall back
// to the engine defaults.
func (c *Config) Fiscal() fiscal.Config {
	fc := fiscal.DefaultConfig()
	if c.TaxRatePercent != "" {
		fc.TaxRatePercent = money.Parse(c.TaxRatePercent)
	}
	if c.ForeignCashTaxRate != "" {
		fc.ForeignCashTaxRatePercent = money.Parse(c.ForeignCashTaxRate)
	}
	fc.ForeignCashTaxEnabled = c.ForeignCashTaxEnabled
	return fc
}
