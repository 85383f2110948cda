// Package config handles configuration loading for FinSage.
// It supports YAML config files with environment variable overrides and
// loads credentials from a .env file when one is present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	AI      AIConfig      `mapstructure:"ai"      yaml:"ai"`
	Broker  BrokerConfig  `mapstructure:"broker"  yaml:"broker"`
	Data    DataConfig    `mapstructure:"data"    yaml:"data"`
	Trading TradingConfig `mapstructure:"trading" yaml:"trading"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// AIConfig holds LLM provider configuration.
type AIConfig struct {
	Provider       string  `mapstructure:"provider"        yaml:"provider"` // "openai" or "anthropic"
	OpenAIKey      string  `mapstructure:"openai_key"      yaml:"openai_key"`
	AnthropicKey   string  `mapstructure:"anthropic_key"   yaml:"anthropic_key"`
	OpenAIModel    string  `mapstructure:"openai_model"    yaml:"openai_model"`
	AnthropicModel string  `mapstructure:"anthropic_model" yaml:"anthropic_model"`
	MaxTokens      int     `mapstructure:"max_tokens"      yaml:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"     yaml:"temperature"`
	TimeoutSec     int     `mapstructure:"timeout_sec"     yaml:"timeout_sec"`
}

// BrokerConfig holds brokerage integration configuration.
type BrokerConfig struct {
	Provider string       `mapstructure:"provider" yaml:"provider"` // "alpaca" or "paper"
	Alpaca   AlpacaConfig `mapstructure:"alpaca"   yaml:"alpaca"`
}

// AlpacaConfig holds Alpaca API credentials and endpoint.
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"    yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
	BaseURL   string `mapstructure:"base_url"   yaml:"base_url"`
}

// DataConfig holds market data fetching settings.
type DataConfig struct {
	QuoteCacheTTLSec int `mapstructure:"quote_cache_ttl_sec" yaml:"quote_cache_ttl_sec"`
	ChainCacheTTLSec int `mapstructure:"chain_cache_ttl_sec" yaml:"chain_cache_ttl_sec"`
	RequestsPerSec   int `mapstructure:"requests_per_sec"    yaml:"requests_per_sec"`
}

// TradingConfig holds trading safety settings.
type TradingConfig struct {
	DefaultQty          int  `mapstructure:"default_qty"          yaml:"default_qty"`
	MaxOrderQty         int  `mapstructure:"max_order_qty"        yaml:"max_order_qty"`
	RequireConfirmation bool `mapstructure:"require_confirmation" yaml:"require_confirmation"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// A .env file in the working directory or ~/.finsage is loaded first.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.finsage/config.yaml (home directory)
//  3. /etc/finsage/config.yaml (system)
//
// Environment variables override config file values.
// Format: FINSAGE_<SECTION>_<KEY>, e.g., FINSAGE_AI_OPENAI_KEY
func Load() (*Config, error) {
	loadDotEnv()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".finsage"))
	v.AddConfigPath("/etc/finsage")

	v.SetEnvPrefix("FINSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("FINSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// loadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are never overwritten.
func loadDotEnv() {
	for _, path := range []string{".env", filepath.Join(homeDir(), ".finsage", ".env")} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.openai_model", "gpt-4")
	v.SetDefault("ai.anthropic_model", "claude-3-opus-20240229")
	v.SetDefault("ai.max_tokens", 1000)
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.timeout_sec", 120)

	// Broker defaults (paper trading endpoint)
	v.SetDefault("broker.provider", "alpaca")
	v.SetDefault("broker.alpaca.base_url", "https://paper-api.alpaca.markets/v2")

	// Data defaults
	v.SetDefault("data.quote_cache_ttl_sec", 15)
	v.SetDefault("data.chain_cache_ttl_sec", 60)
	v.SetDefault("data.requests_per_sec", 5)

	// Trading defaults (safety-first)
	v.SetDefault("trading.default_qty", 1)
	v.SetDefault("trading.max_order_qty", 10000)
	v.SetDefault("trading.require_confirmation", true)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment
// variables. The vendor-standard names (OPENAI_API_KEY, ANTHROPIC_API_KEY,
// ALPACA_API_KEY) and the legacy OPENBB_ALPACA_* names are honored as
// fallbacks when the prefixed variables are not set.
func overrideFromEnv(cfg *Config) {
	if key := firstEnv("FINSAGE_AI_OPENAI_KEY", "OPENAI_API_KEY"); key != "" {
		cfg.AI.OpenAIKey = key
	}
	if key := firstEnv("FINSAGE_AI_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); key != "" {
		cfg.AI.AnthropicKey = key
	}
	if key := firstEnv("FINSAGE_BROKER_ALPACA_API_KEY", "ALPACA_API_KEY", "OPENBB_ALPACA_API_KEY"); key != "" {
		cfg.Broker.Alpaca.APIKey = key
	}
	if key := firstEnv("FINSAGE_BROKER_ALPACA_API_SECRET", "ALPACA_SECRET_KEY", "OPENBB_ALPACA_SECRET_KEY"); key != "" {
		cfg.Broker.Alpaca.APISecret = key
	}
	if url := os.Getenv("FINSAGE_BROKER_ALPACA_BASE_URL"); url != "" {
		cfg.Broker.Alpaca.BaseURL = url
	}
}

// firstEnv returns the first non-empty value among the given env vars.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
