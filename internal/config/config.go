// Package config defines the top-level configuration for the coinduel
// escrow engine and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COINDUEL_* environment variables.
type Config struct {
	Wager    WagerConfig    `toml:"wager"`
	Chain    ChainConfig    `toml:"chain"`
	Operator OperatorConfig `toml:"operator"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Server   ServerConfig   `toml:"server"`
	Settler  SettlerConfig  `toml:"settler"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WagerConfig holds the fixed wager parameters shared by every bet: the
// settlement window, the two per-leg deposit amounts in token base units,
// and the winning price threshold in whole units.
type WagerConfig struct {
	Window            duration `toml:"window"`
	StableAmount      string   `toml:"stable_amount"`
	VolatileAmount    string   `toml:"volatile_amount"`
	Threshold         int64    `toml:"threshold"`
	StableTokenAddr   string   `toml:"stable_token_addr"`
	VolatileTokenAddr string   `toml:"volatile_token_addr"`
	PriceFeedAddr     string   `toml:"price_feed_addr"`
}

// ChainConfig holds the EVM endpoint and chain parameters.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// OperatorConfig holds the escrow operator's signing key. The key's address
// is the custody account holding escrowed deposits.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for bet archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds event broker parameters.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AuthSkewMax bounds how old or future-dated a signed request timestamp
	// may be before it is rejected.
	AuthSkewMax duration `toml:"auth_skew_max"`
	// RateLimit is requests per party address per minute; zero disables.
	RateLimit int `toml:"rate_limit"`
}

// SettlerConfig holds the background settlement sweeper parameters.
type SettlerConfig struct {
	Interval duration `toml:"interval"`
	// ArchiveAfter is how long after settlement a bet becomes eligible for
	// S3 archival; zero disables archival sweeps.
	ArchiveAfter duration `toml:"archive_after"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "2160h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Wager: WagerConfig{
			Window:         duration{90 * 24 * time.Hour},
			StableAmount:   "10000000000", // 10,000 USDC at 6 decimals
			VolatileAmount: "10000000",    // 0.1 WBTC at 8 decimals
			Threshold:      100_000,
		},
		Chain: ChainConfig{
			RPCURL:  "http://localhost:8545",
			ChainID: 1,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "coinduel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "coinduel-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "coinduel.bets",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			AuthSkewMax: duration{5 * time.Minute},
			RateLimit:   120,
		},
		Settler: SettlerConfig{
			Interval:     duration{1 * time.Minute},
			ArchiveAfter: duration{30 * 24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"bet_activated", "bet_settled", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"settler": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// StableAmountInt parses the stable leg deposit amount into base units.
func (c *WagerConfig) StableAmountInt() (*big.Int, bool) {
	return new(big.Int).SetString(c.StableAmount, 10)
}

// VolatileAmountInt parses the volatile leg deposit amount into base units.
func (c *WagerConfig) VolatileAmountInt() (*big.Int, bool) {
	return new(big.Int).SetString(c.VolatileAmount, 10)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, settler, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wager
	if c.Wager.Window.Duration <= 0 {
		errs = append(errs, "wager: window must be positive")
	}
	if amt, ok := c.Wager.StableAmountInt(); !ok || amt.Sign() <= 0 {
		errs = append(errs, fmt.Sprintf("wager: stable_amount %q must be a positive integer in base units", c.Wager.StableAmount))
	}
	if amt, ok := c.Wager.VolatileAmountInt(); !ok || amt.Sign() <= 0 {
		errs = append(errs, fmt.Sprintf("wager: volatile_amount %q must be a positive integer in base units", c.Wager.VolatileAmount))
	}
	if c.Wager.Threshold <= 0 {
		errs = append(errs, "wager: threshold must be positive")
	}
	if c.Wager.StableTokenAddr == "" {
		errs = append(errs, "wager: stable_token_addr must not be empty")
	}
	if c.Wager.VolatileTokenAddr == "" {
		errs = append(errs, "wager: volatile_token_addr must not be empty")
	}
	if c.Wager.PriceFeedAddr == "" {
		errs = append(errs, "wager: price_feed_addr must not be empty")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	// Operator — at least one key source must be specified.
	if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		errs = append(errs, "operator: either private_key or encrypted_key_path must be set")
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AuthSkewMax.Duration <= 0 {
			errs = append(errs, "server: auth_skew_max must be positive")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Settler
	if (c.Mode == "settler" || c.Mode == "full") && c.Settler.Interval.Duration <= 0 {
		errs = append(errs, "settler: interval must be positive for mode "+c.Mode)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
