// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Prices    PricesConfig    `yaml:"prices"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// ChainConfig contains RPC endpoints, contract addresses and the hot wallet.
type ChainConfig struct {
	RPCURL           string  `yaml:"rpc_url"` // HTTP endpoint for reads and broadcasts
	WSURL            string  `yaml:"ws_url"`  // Websocket endpoint for subscriptions
	ChainID          int64   `yaml:"chain_id"`
	Factory          string  `yaml:"factory"`            // CoolerFactory address
	Clearinghouse    string  `yaml:"clearinghouse"`      // Clearinghouse address
	PrivateKey       Secret  `yaml:"private_key"`        // Hex, no 0x prefix
	QueriesPerSecond float64 `yaml:"queries_per_second"` // 0 disables throttling
}

// StrategyConfig contains the profitability decision parameters.
type StrategyConfig struct {
	// MinProfit is denominated in whole quote units (e.g. USD); it is
	// scaled to 18 decimals at wiring time.
	MinProfit float64 `yaml:"min_profit"`

	// RewardPeriodTargetPct holds claims back until this share of the
	// 7-day reward ramp has elapsed.
	RewardPeriodTargetPct uint64 `yaml:"reward_period_target_pct"`

	RewardAsset string `yaml:"reward_asset"` // price-source id, e.g. governance-ohm
	NativeAsset string `yaml:"native_asset"` // price-source id, e.g. ethereum
}

// PricesConfig contains the spot price API settings.
type PricesConfig struct {
	BaseURL        string `yaml:"base_url"`        // empty uses the DefiLlama default
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BackfillConfig contains worker pool settings for the startup sync.
type BackfillConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel              string `yaml:"log_level"`
	StatusIntervalSeconds int    `yaml:"status_interval_seconds"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// AlertsConfig contains notification channel settings. Empty values disable
// the channel.
type AlertsConfig struct {
	SlackWebhookURL Secret `yaml:"slack_webhook_url"`
	TelegramToken   Secret `yaml:"telegram_token"`
	TelegramChatID  string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Strategy.RewardAsset == "" {
		c.Strategy.RewardAsset = "governance-ohm"
	}
	if c.Strategy.NativeAsset == "" {
		c.Strategy.NativeAsset = "ethereum"
	}
	if c.Prices.TimeoutSeconds <= 0 {
		c.Prices.TimeoutSeconds = 10
	}
	if c.Backfill.Workers <= 0 {
		c.Backfill.Workers = 8
	}
	if c.Backfill.QueueSize <= 0 {
		c.Backfill.QueueSize = 256
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.StatusIntervalSeconds <= 0 {
		c.System.StatusIntervalSeconds = 60
	}
	if c.Telemetry.MetricsPort <= 0 {
		c.Telemetry.MetricsPort = 9090
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateChainConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateAlertsConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateChainConfig() error {
	if c.Chain.RPCURL == "" {
		return ValidationError{
			Field:   "chain.rpc_url",
			Message: "RPC endpoint is required",
		}
	}
	if c.Chain.WSURL == "" {
		return ValidationError{
			Field:   "chain.ws_url",
			Message: "websocket endpoint is required",
		}
	}
	if c.Chain.ChainID <= 0 {
		return ValidationError{
			Field:   "chain.chain_id",
			Value:   c.Chain.ChainID,
			Message: "chain id must be positive",
		}
	}
	if !common.IsHexAddress(c.Chain.Factory) {
		return ValidationError{
			Field:   "chain.factory",
			Value:   c.Chain.Factory,
			Message: "must be a hex contract address",
		}
	}
	if !common.IsHexAddress(c.Chain.Clearinghouse) {
		return ValidationError{
			Field:   "chain.clearinghouse",
			Value:   c.Chain.Clearinghouse,
			Message: "must be a hex contract address",
		}
	}
	if c.Chain.PrivateKey == "" {
		return ValidationError{
			Field:   "chain.private_key",
			Message: "signing key is required",
		}
	}
	return nil
}

func (c *Config) validateStrategyConfig() error {
	if c.Strategy.MinProfit < 0 {
		return ValidationError{
			Field:   "strategy.min_profit",
			Value:   c.Strategy.MinProfit,
			Message: "minimum profit cannot be negative",
		}
	}
	if c.Strategy.RewardPeriodTargetPct > 100 {
		return ValidationError{
			Field:   "strategy.reward_period_target_pct",
			Value:   c.Strategy.RewardPeriodTargetPct,
			Message: "percentage must be between 0 and 100",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateAlertsConfig() error {
	if c.Alerts.TelegramToken != "" && c.Alerts.TelegramChatID == "" {
		return ValidationError{
			Field:   "alerts.telegram_chat_id",
			Message: "chat id is required when a telegram token is set",
		}
	}
	return nil
}

// FactoryAddress returns the parsed factory contract address.
func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Chain.Factory)
}

// ClearinghouseAddress returns the parsed clearinghouse contract address.
func (c *Config) ClearinghouseAddress() common.Address {
	return common.HexToAddress(c.Chain.Clearinghouse)
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		Chain: ChainConfig{
			RPCURL:           "http://localhost:8545",
			WSURL:            "ws://localhost:8546",
			ChainID:          1,
			Factory:          "0x0000000000000000000000000000000000000fac",
			Clearinghouse:    "0x00000000000000000000000000000000c1ea4109",
			PrivateKey:       "ad6c1247f211d7c83b0fd59561d8f82e55eafe9c6518594425e5d2b1c73630d8",
			QueriesPerSecond: 10,
		},
		Strategy: StrategyConfig{
			MinProfit:             100,
			RewardPeriodTargetPct: 50,
			RewardAsset:           "governance-ohm",
			NativeAsset:           "ethereum",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}
