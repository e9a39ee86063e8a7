// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"grid_trader/internal/core"
)

// Config represents the complete configuration structure
type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	System    SystemConfig    `yaml:"system"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Alert     AlertConfig     `yaml:"alert"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ExchangeConfig contains exchange connection settings
type ExchangeConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"` // Optional override for REST API URL
	WsURL     string `yaml:"ws_url"`   // Optional override for push stream URL
}

// StrategyConfig contains the immutable per-run trading parameters.
// ContractID and TickSize may be resolved from the exchange at startup when
// left empty.
type StrategyConfig struct {
	Ticker     string          `yaml:"ticker"`
	ContractID string          `yaml:"contract_id"`
	Quantity   decimal.Decimal `yaml:"quantity"`
	TakeProfit decimal.Decimal `yaml:"take_profit"` // percent
	TickSize   decimal.Decimal `yaml:"tick_size"`
	Direction  core.Side       `yaml:"direction"`
	MaxOrders  int             `yaml:"max_orders"`  // advisory cap on active close orders
	WaitTime   int             `yaml:"wait_time"`   // base cooldown between entries, seconds
	GridStep   decimal.Decimal `yaml:"grid_step"`   // percent
	StopPrice  decimal.Decimal `yaml:"stop_price"`  // -1 disables the stop guard
	PausePrice decimal.Decimal `yaml:"pause_price"` // -1 disables the pause guard
	BoostMode  bool            `yaml:"boost_mode"`  // market-order closes instead of limit closes
}

// CloseSide returns the close order side for the configured direction.
func (s *StrategyConfig) CloseSide() core.Side {
	return s.Direction.Opposite()
}

// Tag returns the EXCHANGE_TICKER label used in logs and alert messages.
func (s *StrategyConfig) Tag(exchangeName string) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(exchangeName), strings.ToUpper(s.Ticker))
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// LedgerConfig selects the transaction ledger backend
type LedgerConfig struct {
	Backend string `yaml:"backend"` // csv or sqlite
	Path    string `yaml:"path"`
}

// AlertConfig contains outbound notification settings
type AlertConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
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

	expandedData := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateExchange(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategy(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateLedger(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateExchange() error {
	validExchanges := []string{"backpack", "mock"}
	if !contains(validExchanges, strings.ToLower(c.Exchange.Name)) {
		return ValidationError{
			Field:   "exchange.name",
			Value:   c.Exchange.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}
	}

	if strings.ToLower(c.Exchange.Name) == "mock" {
		return nil
	}

	if c.Exchange.APIKey == "" {
		return ValidationError{
			Field:   "exchange.api_key",
			Message: "API key is required",
		}
	}
	if c.Exchange.SecretKey == "" {
		return ValidationError{
			Field:   "exchange.secret_key",
			Message: "secret key is required",
		}
	}

	return nil
}

func (c *Config) validateStrategy() error {
	s := &c.Strategy

	if s.Ticker == "" {
		return ValidationError{
			Field:   "strategy.ticker",
			Message: "ticker is required",
		}
	}
	if !s.Direction.Valid() {
		return ValidationError{
			Field:   "strategy.direction",
			Value:   s.Direction,
			Message: "must be buy or sell",
		}
	}
	if !s.Quantity.IsPositive() {
		return ValidationError{
			Field:   "strategy.quantity",
			Value:   s.Quantity,
			Message: "quantity must be positive",
		}
	}
	if !s.TakeProfit.IsPositive() {
		return ValidationError{
			Field:   "strategy.take_profit",
			Value:   s.TakeProfit,
			Message: "take profit percentage must be positive",
		}
	}
	if s.GridStep.IsNegative() {
		return ValidationError{
			Field:   "strategy.grid_step",
			Value:   s.GridStep,
			Message: "grid step percentage cannot be negative",
		}
	}
	if s.MaxOrders <= 0 {
		return ValidationError{
			Field:   "strategy.max_orders",
			Value:   s.MaxOrders,
			Message: "max orders must be positive",
		}
	}
	if s.WaitTime < 0 {
		return ValidationError{
			Field:   "strategy.wait_time",
			Value:   s.WaitTime,
			Message: "wait time cannot be negative",
		}
	}

	// -1 disables a price guard; any enabled guard needs a real price.
	if err := validateGuardPrice("strategy.stop_price", s.StopPrice); err != nil {
		return err
	}
	if err := validateGuardPrice("strategy.pause_price", s.PausePrice); err != nil {
		return err
	}

	return nil
}

func validateGuardPrice(field string, price decimal.Decimal) error {
	if price.Equal(GuardDisabled) || price.IsPositive() {
		return nil
	}
	return ValidationError{
		Field:   field,
		Value:   price,
		Message: "must be a positive price or -1 to disable",
	}
}

func (c *Config) validateSystem() error {
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

func (c *Config) validateLedger() error {
	validBackends := []string{"csv", "sqlite"}
	if !contains(validBackends, strings.ToLower(c.Ledger.Backend)) {
		return ValidationError{
			Field:   "ledger.backend",
			Value:   c.Ledger.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validBackends, ", ")),
		}
	}
	if c.Ledger.Path == "" {
		return ValidationError{
			Field:   "ledger.path",
			Message: "ledger path is required",
		}
	}
	return nil
}

// GuardDisabled is the sentinel price that disables a stop or pause guard.
var GuardDisabled = decimal.NewFromInt(-1)

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = maskString(c.Exchange.APIKey)
	configCopy.Exchange.SecretKey = maskString(c.Exchange.SecretKey)
	configCopy.Alert.TelegramBotToken = maskString(c.Alert.TelegramBotToken)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a configuration with safe defaults; file values
// override it field by field.
func DefaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name: "mock",
		},
		Strategy: StrategyConfig{
			Ticker:     "ETH",
			Quantity:   decimal.NewFromInt(1),
			TakeProfit: decimal.NewFromFloat(0.5),
			TickSize:   decimal.NewFromFloat(0.01),
			Direction:  core.SideBuy,
			MaxOrders:  10,
			WaitTime:   60,
			GridStep:   decimal.NewFromFloat(0.5),
			StopPrice:  GuardDisabled,
			PausePrice: GuardDisabled,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Ledger: LedgerConfig{
			Backend: "csv",
			Path:    "logs/transactions.csv",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
	}
}
