// Package config aggregates gridtrader's runtime configuration: per-symbol
// engine parameters plus the ambient server/redis/database/vault/auth/logging
// layers, loaded from a JSON file with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gridtrader/internal/engine"
)

// Config is the top-level aggregate loaded at process start.
type Config struct {
	Symbols  []SymbolConfig `json:"symbols"`
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Database DatabaseConfig `json:"database"`
	Vault    VaultConfig    `json:"vault"`
	Auth     AuthConfig     `json:"auth"`
	Logging  LoggingConfig  `json:"logging"`
}

// SymbolConfig is one traded symbol's exchange and strategy parameters.
type SymbolConfig struct {
	Symbol         string                `json:"symbol"`
	Exchange       string                `json:"exchange"`
	TestNet        bool                  `json:"testnet"`
	TickInterval   time.Duration         `json:"tick_interval"`
	ExchangeParams engine.ExchangeParams `json:"exchange_params"`
	Long           engine.SideConfig     `json:"long"`
	Short          engine.SideConfig     `json:"short"`
}

// ServerConfig holds control-plane HTTP server configuration.
type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	ProductionMode bool     `json:"production_mode"`
	CORSOrigins    []string `json:"cors_origins"`
}

// RedisConfig holds snapshot-store connection parameters.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds audit-log (Postgres) connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// VaultConfig holds exchange-credential secrets-store parameters.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// AuthConfig holds control-plane JWT/operator authentication parameters.
type AuthConfig struct {
	JWTSecret            string        `json:"jwt_secret"`
	OperatorUsername     string        `json:"operator_username"`
	OperatorPasswordHash string        `json:"operator_password_hash"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
	MinPasswordLength    int           `json:"min_password_length"`
}

// LoggingConfig holds zerolog output configuration.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// Load reads config.json if present, then applies environment overrides
// that always take precedence (matching the teacher's layering).
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = getEnvIntOrDefault("GRIDTRADER_PORT", cfg.Server.Port)
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.Host = getEnvOrDefault("GRIDTRADER_HOST", cfg.Server.Host)
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	cfg.Server.ProductionMode = getEnvOrDefault("GRIDTRADER_PRODUCTION", boolString(cfg.Server.ProductionMode)) == "true"

	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.Redis.PoolSize)
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}

	cfg.Database.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolString(cfg.Database.Enabled)) == "true"
	cfg.Database.Host = getEnvOrDefault("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DATABASE_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DATABASE_SSL_MODE", orString(cfg.Database.SSLMode, "disable"))

	cfg.Vault.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.Vault.Enabled)) == "true"
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", boolString(cfg.Vault.TLSEnabled)) == "true"

	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.OperatorUsername = getEnvOrDefault("AUTH_OPERATOR_USERNAME", cfg.Auth.OperatorUsername)
	cfg.Auth.OperatorPasswordHash = getEnvOrDefault("AUTH_OPERATOR_PASSWORD_HASH", cfg.Auth.OperatorPasswordHash)
	cfg.Auth.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", orDuration(cfg.Auth.AccessTokenDuration, 15*time.Minute))
	cfg.Auth.RefreshTokenDuration = getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_DURATION", orDuration(cfg.Auth.RefreshTokenDuration, 7*24*time.Hour))
	cfg.Auth.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", cfg.Auth.MinPasswordLength)
	if cfg.Auth.MinPasswordLength == 0 {
		cfg.Auth.MinPasswordLength = 8
	}

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.Logging.Level, "INFO"))
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.Logging.Output, "stdout"))
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.Logging.JSONFormat)) == "true"
	cfg.Logging.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", boolString(cfg.Logging.IncludeFile)) == "true"
}

func orString(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func orDuration(value, def time.Duration) time.Duration {
	if value == 0 {
		return def
	}
	return value
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes an example config.json with one symbol and
// conservative defaults across every sub-config, for operators bootstrapping
// a deployment.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		Symbols: []SymbolConfig{
			{
				Symbol:       "BTCUSDT",
				Exchange:     "binance",
				TestNet:      true,
				TickInterval: 5 * time.Second,
				ExchangeParams: engine.ExchangeParams{
					QtyStep:   0.001,
					PriceStep: 0.1,
					MinQty:    0.001,
					MinCost:   5.0,
					CMult:     1.0,
					Inverse:   false,
				},
			},
		},
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ProductionMode: false,
			CORSOrigins:    []string{"http://localhost:5173"},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			User:     "gridtrader",
			Database: "gridtrader",
			SSLMode:  "disable",
		},
		Vault: VaultConfig{
			Enabled: false,
			Address: "http://localhost:8200",
		},
		Auth: AuthConfig{
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
			MinPasswordLength:    8,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
