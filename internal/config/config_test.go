package config

import (
	"os"
	"path/filepath"
	"testing"
)

var secretEnvVars = []string{
	"FINSAGE_AI_OPENAI_KEY", "OPENAI_API_KEY",
	"FINSAGE_AI_ANTHROPIC_KEY", "ANTHROPIC_API_KEY",
	"FINSAGE_BROKER_ALPACA_API_KEY", "ALPACA_API_KEY", "OPENBB_ALPACA_API_KEY",
	"FINSAGE_BROKER_ALPACA_API_SECRET", "ALPACA_SECRET_KEY", "OPENBB_ALPACA_SECRET_KEY",
	"FINSAGE_BROKER_ALPACA_BASE_URL",
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, e := range secretEnvVars {
		if v, ok := os.LookupEnv(e); ok {
			os.Unsetenv(e)
			t.Cleanup(func() { os.Setenv(e, v) })
		}
	}
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearSecretEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// AI defaults
	if cfg.AI.Provider != "openai" {
		t.Errorf("AI.Provider: got %q, want %q", cfg.AI.Provider, "openai")
	}
	if cfg.AI.OpenAIModel != "gpt-4" {
		t.Errorf("AI.OpenAIModel: got %q, want %q", cfg.AI.OpenAIModel, "gpt-4")
	}
	if cfg.AI.AnthropicModel != "claude-3-opus-20240229" {
		t.Errorf("AI.AnthropicModel: got %q", cfg.AI.AnthropicModel)
	}
	if cfg.AI.MaxTokens != 1000 {
		t.Errorf("AI.MaxTokens: got %d, want 1000", cfg.AI.MaxTokens)
	}

	// Broker defaults
	if cfg.Broker.Provider != "alpaca" {
		t.Errorf("Broker.Provider: got %q, want %q", cfg.Broker.Provider, "alpaca")
	}
	if cfg.Broker.Alpaca.BaseURL != "https://paper-api.alpaca.markets/v2" {
		t.Errorf("Broker.Alpaca.BaseURL: got %q", cfg.Broker.Alpaca.BaseURL)
	}

	// Data defaults
	if cfg.Data.QuoteCacheTTLSec != 15 {
		t.Errorf("Data.QuoteCacheTTLSec: got %d, want 15", cfg.Data.QuoteCacheTTLSec)
	}
	if cfg.Data.RequestsPerSec != 5 {
		t.Errorf("Data.RequestsPerSec: got %d, want 5", cfg.Data.RequestsPerSec)
	}

	// Trading defaults
	if cfg.Trading.DefaultQty != 1 {
		t.Errorf("Trading.DefaultQty: got %d, want 1", cfg.Trading.DefaultQty)
	}
	if cfg.Trading.MaxOrderQty != 10000 {
		t.Errorf("Trading.MaxOrderQty: got %d, want 10000", cfg.Trading.MaxOrderQty)
	}
	if !cfg.Trading.RequireConfirmation {
		t.Error("Trading.RequireConfirmation should be true by default")
	}

	// API defaults
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host: got %q, want %q", cfg.API.Host, "0.0.0.0")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	clearSecretEnv(t)

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
ai:
  provider: "anthropic"
  anthropic_model: "claude-3-opus-20240229"
  max_tokens: 2000
broker:
  provider: "paper"
  alpaca:
    api_key: "test_key_12345678901234"
    api_secret: "test_secret_1234567890"
trading:
  default_qty: 10
  max_order_qty: 500
api:
  port: 9090
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.AI.Provider != "anthropic" {
		t.Errorf("AI.Provider: got %q, want %q", cfg.AI.Provider, "anthropic")
	}
	if cfg.AI.MaxTokens != 2000 {
		t.Errorf("AI.MaxTokens: got %d, want 2000", cfg.AI.MaxTokens)
	}
	if cfg.Broker.Provider != "paper" {
		t.Errorf("Broker.Provider: got %q, want %q", cfg.Broker.Provider, "paper")
	}
	if cfg.Broker.Alpaca.APIKey != "test_key_12345678901234" {
		t.Errorf("Broker.Alpaca.APIKey: got %q", cfg.Broker.Alpaca.APIKey)
	}
	// Defaults still apply for values the file omits.
	if cfg.Broker.Alpaca.BaseURL != "https://paper-api.alpaca.markets/v2" {
		t.Errorf("Broker.Alpaca.BaseURL: got %q", cfg.Broker.Alpaca.BaseURL)
	}
	if cfg.Trading.DefaultQty != 10 {
		t.Errorf("Trading.DefaultQty: got %d, want 10", cfg.Trading.DefaultQty)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port: got %d, want 9090", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	clearSecretEnv(t)

	cfg := &Config{}

	os.Setenv("FINSAGE_AI_OPENAI_KEY", "sk-test-openai-key-123456")
	os.Setenv("FINSAGE_AI_ANTHROPIC_KEY", "sk-ant-test")
	os.Setenv("FINSAGE_BROKER_ALPACA_API_KEY", "alpaca-api-key")
	os.Setenv("FINSAGE_BROKER_ALPACA_API_SECRET", "alpaca-secret")
	defer func() {
		os.Unsetenv("FINSAGE_AI_OPENAI_KEY")
		os.Unsetenv("FINSAGE_AI_ANTHROPIC_KEY")
		os.Unsetenv("FINSAGE_BROKER_ALPACA_API_KEY")
		os.Unsetenv("FINSAGE_BROKER_ALPACA_API_SECRET")
	}()

	overrideFromEnv(cfg)

	if cfg.AI.OpenAIKey != "sk-test-openai-key-123456" {
		t.Errorf("OpenAIKey: got %q", cfg.AI.OpenAIKey)
	}
	if cfg.AI.AnthropicKey != "sk-ant-test" {
		t.Errorf("AnthropicKey: got %q", cfg.AI.AnthropicKey)
	}
	if cfg.Broker.Alpaca.APIKey != "alpaca-api-key" {
		t.Errorf("Alpaca.APIKey: got %q", cfg.Broker.Alpaca.APIKey)
	}
	if cfg.Broker.Alpaca.APISecret != "alpaca-secret" {
		t.Errorf("Alpaca.APISecret: got %q", cfg.Broker.Alpaca.APISecret)
	}
}

func TestOverrideFromEnvFallbackNames(t *testing.T) {
	clearSecretEnv(t)

	// The legacy OPENBB_ prefixed names should still work.
	os.Setenv("OPENBB_ALPACA_API_KEY", "legacy-key")
	os.Setenv("OPENBB_ALPACA_SECRET_KEY", "legacy-secret")
	defer func() {
		os.Unsetenv("OPENBB_ALPACA_API_KEY")
		os.Unsetenv("OPENBB_ALPACA_SECRET_KEY")
	}()

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.Broker.Alpaca.APIKey != "legacy-key" {
		t.Errorf("Alpaca.APIKey from legacy env: got %q", cfg.Broker.Alpaca.APIKey)
	}
	if cfg.Broker.Alpaca.APISecret != "legacy-secret" {
		t.Errorf("Alpaca.APISecret from legacy env: got %q", cfg.Broker.Alpaca.APISecret)
	}
}

func TestOverrideFromEnvPrefersPrefixed(t *testing.T) {
	clearSecretEnv(t)

	os.Setenv("FINSAGE_BROKER_ALPACA_API_KEY", "prefixed-key")
	os.Setenv("OPENBB_ALPACA_API_KEY", "legacy-key")
	defer func() {
		os.Unsetenv("FINSAGE_BROKER_ALPACA_API_KEY")
		os.Unsetenv("OPENBB_ALPACA_API_KEY")
	}()

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.Broker.Alpaca.APIKey != "prefixed-key" {
		t.Errorf("Alpaca.APIKey: got %q, want %q", cfg.Broker.Alpaca.APIKey, "prefixed-key")
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	clearSecretEnv(t)

	cfg := &Config{
		AI: AIConfig{OpenAIKey: "from-config"},
	}
	overrideFromEnv(cfg)

	// Should retain the original value when env is not set
	if cfg.AI.OpenAIKey != "from-config" {
		t.Errorf("OpenAIKey should stay as 'from-config' when env is unset, got %q", cfg.AI.OpenAIKey)
	}
}

// ── maskKey ──

func TestMaskKeyShort(t *testing.T) {
	// Keys with 8 or fewer characters should be fully masked
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"a", "***"},
		{"abcd", "***"},
		{"12345678", "***"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMaskKeyLong(t *testing.T) {
	// Keys with more than 8 characters show first 3 + ... + last 3
	tests := []struct {
		input string
		want  string
	}{
		{"123456789", "123...789"},
		{"sk-abcdef1234567890xyz", "sk-...xyz"},
		{"ABCDEFGHIJKLMNOP", "ABC...NOP"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

// ── CheckAPIKeys / checkKey ──

func TestCheckAPIKeysAllEmpty(t *testing.T) {
	clearSecretEnv(t)

	cfg := &Config{}
	statuses := CheckAPIKeys(cfg)

	if len(statuses) != 4 {
		t.Fatalf("CheckAPIKeys: got %d statuses, want 4", len(statuses))
	}
	for _, s := range statuses {
		if s.IsSet {
			t.Errorf("Key %q should not be set", s.Name)
		}
		if s.Source != KeySourceNone {
			t.Errorf("Key %q source: got %q, want %q", s.Name, s.Source, KeySourceNone)
		}
	}
}

func TestCheckAPIKeysFromConfig(t *testing.T) {
	clearSecretEnv(t)

	cfg := &Config{
		AI: AIConfig{
			OpenAIKey: "sk-test-very-long-key-value",
		},
	}
	statuses := CheckAPIKeys(cfg)

	found := false
	for _, s := range statuses {
		if s.Name == "OpenAI API Key" {
			found = true
			if !s.IsSet {
				t.Error("OpenAI key should be set")
			}
			if s.Source != KeySourceConfig {
				t.Errorf("Source: got %q, want %q", s.Source, KeySourceConfig)
			}
			if s.Masked != "sk-...lue" {
				t.Errorf("Masked: got %q, want %q", s.Masked, "sk-...lue")
			}
		}
	}
	if !found {
		t.Error("OpenAI API Key status not found")
	}
}

func TestCheckAPIKeysFromEnv(t *testing.T) {
	clearSecretEnv(t)

	os.Setenv("FINSAGE_AI_OPENAI_KEY", "sk-env-key-for-testing")
	defer os.Unsetenv("FINSAGE_AI_OPENAI_KEY")

	cfg := &Config{
		AI: AIConfig{
			OpenAIKey: "sk-env-key-for-testing",
		},
	}
	statuses := CheckAPIKeys(cfg)

	for _, s := range statuses {
		if s.Name == "OpenAI API Key" {
			if s.Source != KeySourceEnv {
				t.Errorf("Source: got %q, want %q", s.Source, KeySourceEnv)
			}
		}
	}
}

func TestCheckKeySourceDetection(t *testing.T) {
	// No env, no value
	os.Unsetenv("TEST_VAR")
	s := checkKey("Test", "", "TEST_VAR")
	if s.Source != KeySourceNone {
		t.Errorf("empty value: got source %q, want %q", s.Source, KeySourceNone)
	}
	if s.IsSet {
		t.Error("empty value should not be set")
	}

	// Value from config (no env)
	s = checkKey("Test", "config-value-long-enough", "TEST_VAR")
	if s.Source != KeySourceConfig {
		t.Errorf("config value: got source %q, want %q", s.Source, KeySourceConfig)
	}
	if !s.IsSet {
		t.Error("config value should be set")
	}

	// Value from env
	os.Setenv("TEST_VAR", "env-value-long-enough")
	defer os.Unsetenv("TEST_VAR")
	s = checkKey("Test", "env-value-long-enough", "TEST_VAR")
	if s.Source != KeySourceEnv {
		t.Errorf("env value: got source %q, want %q", s.Source, KeySourceEnv)
	}
}

// ── firstEnv ──

func TestFirstEnv(t *testing.T) {
	os.Unsetenv("TEST_FIRST_A")
	os.Setenv("TEST_FIRST_B", "b-value")
	defer os.Unsetenv("TEST_FIRST_B")

	if got := firstEnv("TEST_FIRST_A", "TEST_FIRST_B"); got != "b-value" {
		t.Errorf("firstEnv: got %q, want %q", got, "b-value")
	}
	if got := firstEnv("TEST_FIRST_A"); got != "" {
		t.Errorf("firstEnv with nothing set: got %q, want empty", got)
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	h := homeDir()
	if h == "" {
		t.Error("homeDir() should not return empty string")
	}
}
