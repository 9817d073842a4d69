package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COINDUEL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COINDUEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wager ──
	setDuration(&cfg.Wager.Window, "COINDUEL_WAGER_WINDOW")
	setStr(&cfg.Wager.StableAmount, "COINDUEL_WAGER_STABLE_AMOUNT")
	setStr(&cfg.Wager.VolatileAmount, "COINDUEL_WAGER_VOLATILE_AMOUNT")
	setInt64(&cfg.Wager.Threshold, "COINDUEL_WAGER_THRESHOLD")
	setStr(&cfg.Wager.StableTokenAddr, "COINDUEL_WAGER_STABLE_TOKEN_ADDR")
	setStr(&cfg.Wager.VolatileTokenAddr, "COINDUEL_WAGER_VOLATILE_TOKEN_ADDR")
	setStr(&cfg.Wager.PriceFeedAddr, "COINDUEL_WAGER_PRICE_FEED_ADDR")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "COINDUEL_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "COINDUEL_CHAIN_CHAIN_ID")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "COINDUEL_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "COINDUEL_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "COINDUEL_OPERATOR_KEY_PASSWORD")

	// ── Database ──
	setStr(&cfg.Database.DSN, "COINDUEL_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "COINDUEL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "COINDUEL_DATABASE_HOST")
	setInt(&cfg.Database.Port, "COINDUEL_DATABASE_PORT")
	setStr(&cfg.Database.Database, "COINDUEL_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "COINDUEL_DATABASE_USER")
	setStr(&cfg.Database.Password, "COINDUEL_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "COINDUEL_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "COINDUEL_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "COINDUEL_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "COINDUEL_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COINDUEL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COINDUEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COINDUEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COINDUEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COINDUEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COINDUEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COINDUEL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COINDUEL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COINDUEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COINDUEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "COINDUEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COINDUEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COINDUEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COINDUEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COINDUEL_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "COINDUEL_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "COINDUEL_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "COINDUEL_KAFKA_TOPIC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COINDUEL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COINDUEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COINDUEL_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.AuthSkewMax, "COINDUEL_SERVER_AUTH_SKEW_MAX")
	setInt(&cfg.Server.RateLimit, "COINDUEL_SERVER_RATE_LIMIT")

	// ── Settler ──
	setDuration(&cfg.Settler.Interval, "COINDUEL_SETTLER_INTERVAL")
	setDuration(&cfg.Settler.ArchiveAfter, "COINDUEL_SETTLER_ARCHIVE_AFTER")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COINDUEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COINDUEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COINDUEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COINDUEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COINDUEL_MODE")
	setStr(&cfg.LogLevel, "COINDUEL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
