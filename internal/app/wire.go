package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/mathidot/polymarket-bot/internal/blob/s3"
	"github.com/mathidot/polymarket-bot/internal/cache/redis"
	"github.com/mathidot/polymarket-bot/internal/config"
	"github.com/mathidot/polymarket-bot/internal/crypto"
	"github.com/mathidot/polymarket-bot/internal/domain"
	"github.com/mathidot/polymarket-bot/internal/notify"
	"github.com/mathidot/polymarket-bot/internal/platform/polymarket"
	"github.com/mathidot/polymarket-bot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes need. Optional pieces
// (persistence, Redis mirror, object storage) are nil when disabled in the
// configuration; the modes degrade gracefully around them.
type Dependencies struct {
	Clob   *polymarket.ClobClient
	Gamma  *polymarket.GammaClient
	Signer *crypto.Signer // nil outside trade mode

	PositionStore domain.PositionStore

	PriceMirror *redis.PriceMirror
	SnapshotPub *redis.SnapshotPublisher
	Locks       *redis.LockManager

	Archiver      *s3blob.Archiver
	ArchiveReader *s3blob.Reader

	Notifier *notify.Notifier
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

	// --- Wallet signer (trade mode only) ---
	if cfg.Mode == "trade" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
	}

	// --- Polymarket API clients ---
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Signer, nil)
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	// --- PostgreSQL position store ---
	if cfg.Postgres.Enabled {
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

		deps.PositionStore = postgres.NewPositionStore(pgClient.Pool())
	}

	// --- Redis observer mirror ---
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

		deps.PriceMirror = redis.NewPriceMirror(redisClient)
		deps.SnapshotPub = redis.NewSnapshotPublisher(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 closed-position archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.ArchiveReader = reader

		// The archiver drains the position store; without one there is
		// nothing to archive.
		if deps.PositionStore != nil {
			retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
			deps.Archiver = s3blob.NewArchiver(
				deps.PositionStore, writer, reader,
				retention, cfg.S3.SweepInterval.Duration, logger,
			)
		}
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
