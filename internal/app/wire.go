package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/routeengine/internal/blob/s3"
	"github.com/alanyoungcy/routeengine/internal/cache/redis"
	"github.com/alanyoungcy/routeengine/internal/config"
	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/notify"
	"github.com/alanyoungcy/routeengine/internal/server/handler"
	"github.com/alanyoungcy/routeengine/internal/service"
	"github.com/alanyoungcy/routeengine/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine runs on. Optional
// backends are nil when disabled in the configuration.
type Dependencies struct {
	// Stores
	SegmentStore   domain.SegmentStore
	SnapshotStore  domain.SnapshotStore
	ExecutionStore domain.ExecutionStore

	// Caches
	SegmentCache domain.SegmentCache
	LockManager  domain.LockManager
	RateLimiter  domain.RateLimiter
	MessageBus   domain.MessageBus

	// Blob storage
	ResultArchive service.ResultArchiver

	// Notifications
	Notifier *notify.Notifier

	// Checks are probed by GET /healthz.
	Checks map[string]handler.Check
}

// Wire constructs every enabled backend and returns the bundle together with
// a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
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

		pool := pgClient.Pool()
		deps.SegmentStore = postgres.NewSegmentStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		deps.SegmentStore = service.NewMemorySegmentStore()
		logger.Info("postgres disabled, keeping segments in memory")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SegmentCache = redis.NewSegmentCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.MessageBus = redis.NewMessageBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.ResultArchive = s3blob.NewResultArchive(writer, reader)
		// Snapshots go to the bucket only when there is no database to hold them.
		if deps.SnapshotStore == nil {
			deps.SnapshotStore = s3blob.NewSnapshotStore(writer, reader)
		}
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
