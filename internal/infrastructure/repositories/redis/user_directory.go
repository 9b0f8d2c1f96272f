package redis

import (
	"context"
	"fmt"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisUserDirectory keeps the user → endpoint mapping in Redis so that a
// fleet of signaling instances can share presence. Endpoint entries carry
// no TTL: the owning instance removes them on disconnect, and a process
// restart starts from a clean keyspace slice per instance prefix.
type RedisUserDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisUserDirectory(client *redis.Client) ports.UserDirectory {
	return &RedisUserDirectory{
		client: client,
		prefix: "meshlink:endpoint:",
	}
}

func (d *RedisUserDirectory) userKey(id domain.UserID) string {
	return d.prefix + string(id)
}

func (d *RedisUserDirectory) Upsert(ctx context.Context, userID domain.UserID, endpointID domain.EndpointID) error {
	key := d.userKey(userID)
	if err := d.client.Set(ctx, key, string(endpointID), 0).Err(); err != nil {
		return fmt.Errorf("failed to set endpoint in Redis: %w", err)
	}
	if err := d.client.SAdd(ctx, "meshlink:users", string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to add user to set: %w", err)
	}
	return nil
}

func (d *RedisUserDirectory) Resolve(ctx context.Context, userID domain.UserID) (domain.EndpointID, error) {
	endpoint, err := d.client.Get(ctx, d.userKey(userID)).Result()
	if err == redis.Nil {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get endpoint from Redis: %w", err)
	}
	return domain.EndpointID(endpoint), nil
}

func (d *RedisUserDirectory) Remove(ctx context.Context, userID domain.UserID) error {
	removed, err := d.client.Del(ctx, d.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete endpoint from Redis: %w", err)
	}
	if err := d.client.SRem(ctx, "meshlink:users", string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to remove user from set: %w", err)
	}
	if removed == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (d *RedisUserDirectory) ConnectedUsers(ctx context.Context) ([]domain.UserID, error) {
	members, err := d.client.SMembers(ctx, "meshlink:users").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get users from Redis: %w", err)
	}

	users := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		users = append(users, domain.UserID(m))
	}
	return users, nil
}
