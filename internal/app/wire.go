package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/coinduel/internal/blob/s3"
	"github.com/alanyoungcy/coinduel/internal/cache/redis"
	"github.com/alanyoungcy/coinduel/internal/config"
	"github.com/alanyoungcy/coinduel/internal/crypto"
	"github.com/alanyoungcy/coinduel/internal/domain"
	"github.com/alanyoungcy/coinduel/internal/escrow"
	"github.com/alanyoungcy/coinduel/internal/events"
	"github.com/alanyoungcy/coinduel/internal/notify"
	"github.com/alanyoungcy/coinduel/internal/oracle"
	"github.com/alanyoungcy/coinduel/internal/platform/evm"
	"github.com/alanyoungcy/coinduel/internal/registry"
	"github.com/alanyoungcy/coinduel/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Persistence
	BetStore   domain.BetStore
	AuditStore domain.AuditStore

	// Redis-backed collaborators; nil when Redis is disabled.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Chain collaborators
	Chain  *evm.Client
	Ledger *escrow.Ledger
	Oracle *oracle.Adapter

	// Core state machine
	Registry *registry.Registry

	// Event broker; nil when Kafka is disabled.
	Producer *events.Producer

	// Blob archival; nil when S3 is disabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode needs the bet store) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.BetStore = postgres.NewBetStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis (optional: locks, rate limiting, signal bus) ---
	if cfg.Redis.Enabled {
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

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- Chain: operator key, tokens, price feed ---
	operatorKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: operator key: %w", err)
	}

	chain, err := evm.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, operatorKey, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chain.Close)
	deps.Chain = chain

	stableToken, err := evm.NewERC20(chain, cfg.Wager.StableTokenAddr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: stable token: %w", err)
	}
	volatileToken, err := evm.NewERC20(chain, cfg.Wager.VolatileTokenAddr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: volatile token: %w", err)
	}
	feed, err := evm.NewAggregator(chain, cfg.Wager.PriceFeedAddr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: price feed: %w", err)
	}

	stableAmt, ok := cfg.Wager.StableAmountInt()
	if !ok {
		cleanup()
		return nil, nil, fmt.Errorf("wire: invalid stable_amount %q", cfg.Wager.StableAmount)
	}
	volatileAmt, ok := cfg.Wager.VolatileAmountInt()
	if !ok {
		cleanup()
		return nil, nil, fmt.Errorf("wire: invalid volatile_amount %q", cfg.Wager.VolatileAmount)
	}

	deps.Ledger = escrow.New(stableToken, volatileToken, chain.Operator().Hex(), stableAmt, volatileAmt, logger)
	deps.Oracle = oracle.New(feed)

	// --- Kafka event broker (optional) ---
	if cfg.Kafka.Enabled {
		deps.Producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() { _ = deps.Producer.Close() })
	}

	// --- S3 blob archival (optional) ---
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

		betStore, ok := deps.BetStore.(s3blob.BetArchiveStore)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bet store does not support archival")
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), betStore, deps.AuditStore)
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

	// --- Registry (the bet lifecycle state machine) ---
	regDeps := registry.Deps{
		Store:     deps.BetStore,
		Ledger:    deps.Ledger,
		Oracle:    deps.Oracle,
		Clock:     domain.SystemClock{},
		Window:    cfg.Wager.Window.Duration,
		Threshold: cfg.Wager.Threshold,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
		DLocks:    deps.LockManager,
		Logger:    logger,
	}
	// Assign the broker only when enabled so the registry's nil check works;
	// a typed-nil *events.Producer inside the interface would not be nil.
	if deps.Producer != nil {
		regDeps.Producer = deps.Producer
	}
	deps.Registry = registry.New(regDeps)

	return deps, cleanup, nil
}
