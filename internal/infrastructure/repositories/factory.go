package repositories

import (
	"context"

	"meshlink/internal/core/ports"
	"meshlink/internal/infrastructure/repositories/memory"
	redisrepo "meshlink/internal/infrastructure/repositories/redis"
	"meshlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates the signaling registries with Redis fallback.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory. When Redis is
// enabled but unreachable, it degrades to memory registries.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory registries",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis user directory")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory registries")
	}

	return factory, nil
}

// CreateUserDirectory creates the user directory (Redis when available).
func (f *RepositoryFactory) CreateUserDirectory() ports.UserDirectory {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisUserDirectory(f.redisClient)
	}
	return memory.NewMemoryUserDirectory()
}

// CreateOfferTable creates the offer table. Offers are negotiation state
// tied to live connections on this instance, so the table is always
// in-process memory.
func (f *RepositoryFactory) CreateOfferTable() ports.OfferTable {
	return memory.NewMemoryOfferTable()
}

// CreateRoomDirectory creates the room directory. Rooms close when their
// host's connection drops, so they live and die with the process too.
func (f *RepositoryFactory) CreateRoomDirectory() ports.RoomDirectory {
	return memory.NewMemoryRoomDirectory()
}

// Close closes the Redis connection if used.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
