package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/targetlab/dmbot/internal/blob/s3"
	"github.com/targetlab/dmbot/internal/cache/redis"
	"github.com/targetlab/dmbot/internal/config"
	"github.com/targetlab/dmbot/internal/crypto"
	"github.com/targetlab/dmbot/internal/domain"
	"github.com/targetlab/dmbot/internal/notify"
	"github.com/targetlab/dmbot/internal/platform/dmarket"
	"github.com/targetlab/dmbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Lifecycle journal
	EventStore domain.TargetEventStore

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Marketplace
	Exchange domain.Exchange

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that journal target lifecycle events.
func needsPostgres(mode string) bool {
	switch mode {
	case "manage", "full":
		return true
	default:
		return false
	}
}

// needsExchange returns true for modes that place or cancel orders.
func needsExchange(mode string) bool {
	switch mode {
	case "manage", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL (only for modes that journal) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.EventStore = postgres.NewTargetEventStore(pgClient.Pool())
	}

	// --- S3 blob storage (archives, only when enabled) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.EventStore)
	}

	// --- Marketplace client (only for modes that mutate) ---
	if needsExchange(cfg.Mode) {
		secretHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.DMarket.SecretKey,
			EncryptedKeyPath: cfg.DMarket.EncryptedKeyPath,
			KeyPassword:      cfg.DMarket.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load secret key: %w", err)
		}
		signer, err := crypto.NewSigner(cfg.DMarket.PublicKey, secretHex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}

		deps.Exchange = dmarket.NewClient(dmarket.ClientConfig{
			BaseURL:        cfg.DMarket.ApiHost,
			RequestTimeout: cfg.DMarket.RequestTimeout.Duration,
			MaxRetries:     cfg.DMarket.MaxRetries,
		}, signer, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
