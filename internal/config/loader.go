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
// built-in defaults, applies DMBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DMBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── DMarket ──
	setStr(&cfg.DMarket.ApiHost, "DMBOT_DMARKET_API_HOST")
	setStr(&cfg.DMarket.WsHost, "DMBOT_DMARKET_WS_HOST")
	setStr(&cfg.DMarket.PublicKey, "DMBOT_DMARKET_PUBLIC_KEY")
	setStr(&cfg.DMarket.SecretKey, "DMBOT_DMARKET_SECRET_KEY")
	setStr(&cfg.DMarket.EncryptedKeyPath, "DMBOT_DMARKET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.DMarket.KeyPassword, "DMBOT_DMARKET_KEY_PASSWORD")
	setDuration(&cfg.DMarket.RequestTimeout, "DMBOT_DMARKET_REQUEST_TIMEOUT")
	setInt(&cfg.DMarket.MaxRetries, "DMBOT_DMARKET_MAX_RETRIES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DMBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DMBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DMBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DMBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DMBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DMBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DMBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DMBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DMBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DMBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DMBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DMBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DMBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DMBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DMBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DMBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DMBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DMBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DMBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DMBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DMBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DMBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DMBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DMBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DMBOT_S3_FORCE_PATH_STYLE")

	// ── Targets ──
	setStringSlice(&cfg.Targets.Games, "DMBOT_TARGETS_GAMES")
	setFloat64(&cfg.Targets.MinPrice, "DMBOT_TARGETS_MIN_PRICE")
	setFloat64(&cfg.Targets.MaxPrice, "DMBOT_TARGETS_MAX_PRICE")
	setInt(&cfg.Targets.MaxConditions, "DMBOT_TARGETS_MAX_CONDITIONS")
	setFloat64(&cfg.Targets.DuplicateTolerance, "DMBOT_TARGETS_DUPLICATE_TOLERANCE")
	setFloat64(&cfg.Targets.SellFeePercent, "DMBOT_TARGETS_SELL_FEE_PERCENT")
	setBool(&cfg.Targets.CheckDuplicates, "DMBOT_TARGETS_CHECK_DUPLICATES")
	setInt(&cfg.Targets.RetentionDays, "DMBOT_TARGETS_RETENTION_DAYS")

	// ── Overbid ──
	setBool(&cfg.Overbid.Enabled, "DMBOT_OVERBID_ENABLED")
	setDuration(&cfg.Overbid.CheckInterval, "DMBOT_OVERBID_CHECK_INTERVAL")
	setFloat64(&cfg.Overbid.MaxOverbidPercent, "DMBOT_OVERBID_MAX_OVERBID_PERCENT")
	setInt(&cfg.Overbid.MaxOverbidsPerDay, "DMBOT_OVERBID_MAX_OVERBIDS_PER_DAY")
	setFloat64(&cfg.Overbid.MinPriceGap, "DMBOT_OVERBID_MIN_PRICE_GAP")

	// ── Relist ──
	setBool(&cfg.Relist.Enabled, "DMBOT_RELIST_ENABLED")
	setInt(&cfg.Relist.MaxRelists, "DMBOT_RELIST_MAX_RELISTS")
	setDuration(&cfg.Relist.ResetPeriod, "DMBOT_RELIST_RESET_PERIOD")
	setStr(&cfg.Relist.Action, "DMBOT_RELIST_ACTION")
	setFloat64(&cfg.Relist.LowerPricePercent, "DMBOT_RELIST_LOWER_PRICE_PERCENT")

	// ── PriceRange ──
	setBool(&cfg.PriceRange.Enabled, "DMBOT_PRICE_RANGE_ENABLED")
	setFloat64(&cfg.PriceRange.BandPercent, "DMBOT_PRICE_RANGE_BAND_PERCENT")
	setStr(&cfg.PriceRange.Action, "DMBOT_PRICE_RANGE_ACTION")
	setDuration(&cfg.PriceRange.PollInterval, "DMBOT_PRICE_RANGE_POLL_INTERVAL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.OverbidInterval, "DMBOT_SCHEDULER_OVERBID_INTERVAL")
	setDuration(&cfg.Scheduler.RangeInterval, "DMBOT_SCHEDULER_RANGE_INTERVAL")
	setDuration(&cfg.Scheduler.CleanupInterval, "DMBOT_SCHEDULER_CLEANUP_INTERVAL")
	setDuration(&cfg.Scheduler.LockTTL, "DMBOT_SCHEDULER_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DMBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DMBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DMBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DMBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DMBOT_MODE")
	setStr(&cfg.LogLevel, "DMBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
