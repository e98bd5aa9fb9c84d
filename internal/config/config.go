// Package config defines the top-level configuration for the dmbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DMBOT_* environment variables.
type Config struct {
	DMarket    DMarketConfig    `toml:"dmarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Targets    TargetsConfig    `toml:"targets"`
	Overbid    OverbidConfig    `toml:"overbid"`
	Relist     RelistConfig     `toml:"relist"`
	PriceRange PriceRangeConfig `toml:"price_range"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// DMarketConfig holds marketplace API endpoints and credentials.
type DMarketConfig struct {
	ApiHost          string   `toml:"api_host"`
	WsHost           string   `toml:"ws_host"`
	PublicKey        string   `toml:"public_key"`
	SecretKey        string   `toml:"secret_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	RequestTimeout   duration `toml:"request_timeout"`
	MaxRetries       int      `toml:"max_retries"`
}

// PostgresConfig holds PostgreSQL connection parameters for the event journal.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history archives.
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

// TargetsConfig holds validation limits and creation-workflow parameters.
type TargetsConfig struct {
	Games              []string `toml:"games"`
	MinPrice           float64  `toml:"min_price"`
	MaxPrice           float64  `toml:"max_price"`
	MaxConditions      int      `toml:"max_conditions"`
	DuplicateTolerance float64  `toml:"duplicate_tolerance"`
	SellFeePercent     float64  `toml:"sell_fee_percent"`
	CheckDuplicates    bool     `toml:"check_duplicates"`
	RetentionDays      int      `toml:"retention_days"`
}

// OverbidConfig holds competition-chasing parameters.
type OverbidConfig struct {
	Enabled           bool     `toml:"enabled"`
	CheckInterval     duration `toml:"check_interval"`
	MaxOverbidPercent float64  `toml:"max_overbid_percent"`
	MaxOverbidsPerDay int      `toml:"max_overbids_per_day"`
	MinPriceGap       float64  `toml:"min_price_gap"`
}

// RelistConfig holds relist-budget parameters.
type RelistConfig struct {
	Enabled           bool     `toml:"enabled"`
	MaxRelists        int      `toml:"max_relists"`
	ResetPeriod       duration `toml:"reset_period"`
	Action            string   `toml:"action"`
	LowerPricePercent float64  `toml:"lower_price_percent"`
}

// PriceRangeConfig holds market-price band monitoring parameters.
type PriceRangeConfig struct {
	Enabled      bool     `toml:"enabled"`
	BandPercent  float64  `toml:"band_percent"`
	Action       string   `toml:"action"`
	PollInterval duration `toml:"poll_interval"`
}

// SchedulerConfig holds background-loop intervals.
type SchedulerConfig struct {
	OverbidInterval duration `toml:"overbid_interval"`
	RangeInterval   duration `toml:"range_interval"`
	CleanupInterval duration `toml:"cleanup_interval"`
	LockTTL         duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		DMarket: DMarketConfig{
			ApiHost:        "https://api.dmarket.com",
			WsHost:         "wss://ws.dmarket.com",
			RequestTimeout: duration{15 * time.Second},
			MaxRetries:     4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dmbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
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
			Bucket:         "dmbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Targets: TargetsConfig{
			Games:              []string{"csgo"},
			MinPrice:           0.01,
			MaxPrice:           100000,
			MaxConditions:      10,
			DuplicateTolerance: 0.05,
			SellFeePercent:     5,
			CheckDuplicates:    true,
			RetentionDays:      30,
		},
		Overbid: OverbidConfig{
			Enabled:           true,
			CheckInterval:     duration{5 * time.Minute},
			MaxOverbidPercent: 10,
			MaxOverbidsPerDay: 5,
			MinPriceGap:       0.01,
		},
		Relist: RelistConfig{
			Enabled:     true,
			MaxRelists:  3,
			ResetPeriod: duration{24 * time.Hour},
			Action:      "notify",
		},
		PriceRange: PriceRangeConfig{
			Enabled:      true,
			BandPercent:  20,
			Action:       "notify",
			PollInterval: duration{5 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			OverbidInterval: duration{time.Minute},
			RangeInterval:   duration{time.Minute},
			CleanupInterval: duration{6 * time.Hour},
			LockTTL:         duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"target_created", "overbid_executed", "relist_limit", "price_breach", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"manage":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validGames = map[string]bool{
	"csgo":  true,
	"dota2": true,
	"rust":  true,
	"tf2":   true,
}

var validLimitActions = map[string]bool{
	"pause":       true,
	"cancel":      true,
	"lower_price": true,
	"notify":      true,
}

var validBreachActions = map[string]bool{
	"cancel": true,
	"adjust": true,
	"notify": true,
	"keep":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: manage, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Mutating modes need signing credentials from exactly one source.
	mode := strings.ToLower(c.Mode)
	needsKeys := mode == "manage" || mode == "full"
	if needsKeys {
		if c.DMarket.SecretKey == "" && c.DMarket.EncryptedKeyPath == "" {
			errs = append(errs, "dmarket: either secret_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.DMarket.EncryptedKeyPath != "" && c.DMarket.KeyPassword == "" {
			errs = append(errs, "dmarket: key_password is required when encrypted_key_path is set")
		}
		if c.DMarket.PublicKey == "" {
			errs = append(errs, "dmarket: public_key must be set for mode "+c.Mode)
		}
	}
	if c.DMarket.ApiHost == "" {
		errs = append(errs, "dmarket: api_host must not be empty")
	}
	if c.DMarket.MaxRetries < 0 {
		errs = append(errs, "dmarket: max_retries must be >= 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
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

	// Targets
	if len(c.Targets.Games) == 0 {
		errs = append(errs, "targets: at least one game must be configured")
	}
	for _, g := range c.Targets.Games {
		if !validGames[g] {
			errs = append(errs, fmt.Sprintf("targets: unknown game %q (valid: csgo, dota2, rust, tf2)", g))
		}
	}
	if c.Targets.MinPrice <= 0 {
		errs = append(errs, "targets: min_price must be > 0")
	}
	if c.Targets.MaxPrice <= c.Targets.MinPrice {
		errs = append(errs, "targets: max_price must exceed min_price")
	}
	if c.Targets.MaxConditions < 1 {
		errs = append(errs, "targets: max_conditions must be >= 1")
	}
	if c.Targets.DuplicateTolerance < 0 {
		errs = append(errs, "targets: duplicate_tolerance must be >= 0")
	}
	if c.Targets.SellFeePercent < 0 || c.Targets.SellFeePercent >= 100 {
		errs = append(errs, "targets: sell_fee_percent must be in [0, 100)")
	}

	// Overbid
	if c.Overbid.Enabled {
		if c.Overbid.MaxOverbidPercent <= 0 {
			errs = append(errs, "overbid: max_overbid_percent must be > 0 when enabled")
		}
		if c.Overbid.MaxOverbidsPerDay < 1 {
			errs = append(errs, "overbid: max_overbids_per_day must be >= 1 when enabled")
		}
		if c.Overbid.MinPriceGap <= 0 {
			errs = append(errs, "overbid: min_price_gap must be > 0 when enabled")
		}
	}

	// Relist
	if c.Relist.Enabled {
		if c.Relist.MaxRelists < 1 {
			errs = append(errs, "relist: max_relists must be >= 1 when enabled")
		}
		if !validLimitActions[c.Relist.Action] {
			errs = append(errs, fmt.Sprintf("relist: unknown action %q (valid: pause, cancel, lower_price, notify)", c.Relist.Action))
		}
		if c.Relist.Action == "lower_price" && (c.Relist.LowerPricePercent <= 0 || c.Relist.LowerPricePercent >= 100) {
			errs = append(errs, "relist: lower_price_percent must be in (0, 100) for the lower_price action")
		}
	}

	// PriceRange
	if c.PriceRange.Enabled {
		if c.PriceRange.BandPercent <= 0 || c.PriceRange.BandPercent >= 100 {
			errs = append(errs, "price_range: band_percent must be in (0, 100) when enabled")
		}
		if !validBreachActions[c.PriceRange.Action] {
			errs = append(errs, fmt.Sprintf("price_range: unknown action %q (valid: cancel, adjust, notify, keep)", c.PriceRange.Action))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
