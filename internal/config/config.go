// Package config handles application configuration from environment variables.
//
// Configuration is read exactly once at startup into an immutable Config
// value that the caller passes to every component. No package reads the
// environment after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain settings
	ChainRPCURL      string
	PackageID        string // Move package that owns the wheelz_nft module
	CoinType         string // fully qualified coin type accepted for payments
	TreasuryAddress  string // address that receives payments and funds withdrawals
	TreasuryKey      string // private key: bech32 (bwprivkey...), hex or base64
	TreasuryMnemonic string // alternative to TreasuryKey

	// Currency settings
	WheelzPerToken decimal.Decimal // conversion rate: wheelz per 1 on-chain token
	WelcomeBonus   decimal.Decimal // wheelz credited on registration
	MinTopUp       decimal.Decimal
	MaxWithdrawal  decimal.Decimal

	// Security
	AdminSecret  string
	RateLimitRPS int

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultCoinType       = "0x2::bwz::BWZ"
	DefaultWheelzPerToken = "100"
	DefaultWelcomeBonus   = "500"
	DefaultMinTopUp       = "1"
	DefaultMaxWithdrawal  = "100000"
	DefaultRateLimit      = 100
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	wheelzPerToken, err := decimal.NewFromString(getEnv("WHEELZ_PER_TOKEN", DefaultWheelzPerToken))
	if err != nil {
		return nil, fmt.Errorf("WHEELZ_PER_TOKEN must be a decimal number: %w", err)
	}
	welcomeBonus, err := decimal.NewFromString(getEnv("WELCOME_BONUS", DefaultWelcomeBonus))
	if err != nil {
		return nil, fmt.Errorf("WELCOME_BONUS must be a decimal number: %w", err)
	}
	minTopUp, err := decimal.NewFromString(getEnv("MIN_TOPUP", DefaultMinTopUp))
	if err != nil {
		return nil, fmt.Errorf("MIN_TOPUP must be a decimal number: %w", err)
	}
	maxWithdrawal, err := decimal.NewFromString(getEnv("MAX_WITHDRAWAL", DefaultMaxWithdrawal))
	if err != nil {
		return nil, fmt.Errorf("MAX_WITHDRAWAL must be a decimal number: %w", err)
	}

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ChainRPCURL:      os.Getenv("CHAIN_RPC_URL"),
		PackageID:        os.Getenv("PACKAGE_ID"),
		CoinType:         getEnv("COIN_TYPE", DefaultCoinType),
		TreasuryAddress:  os.Getenv("TREASURY_ADDRESS"),
		TreasuryKey:      os.Getenv("TREASURY_KEY"),
		TreasuryMnemonic: os.Getenv("TREASURY_MNEMONIC"),
		WheelzPerToken:   wheelzPerToken,
		WelcomeBonus:     welcomeBonus,
		MinTopUp:         minTopUp,
		MaxWithdrawal:    maxWithdrawal,
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ChainRPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL is required")
	}
	if c.TreasuryAddress == "" {
		return fmt.Errorf("TREASURY_ADDRESS is required")
	}
	if c.TreasuryKey == "" && c.TreasuryMnemonic == "" {
		return fmt.Errorf("one of TREASURY_KEY or TREASURY_MNEMONIC is required")
	}
	if c.PackageID == "" {
		return fmt.Errorf("PACKAGE_ID is required")
	}
	if !c.WheelzPerToken.IsPositive() {
		return fmt.Errorf("WHEELZ_PER_TOKEN must be positive")
	}
	if c.WelcomeBonus.IsNegative() {
		return fmt.Errorf("WELCOME_BONUS must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
