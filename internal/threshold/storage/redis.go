package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on top of Redis. Sessions are stored as JSON
// under a TTL; locks use SET NX.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) SaveSession(ctx context.Context, session *SigningSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	key := "threshold:session:" + session.SessionID
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	return nil
}

func (c *RedisCache) GetSession(ctx context.Context, sessionID string) (*SigningSession, error) {
	key := "threshold:session:" + sessionID
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "failed to get session")
	}

	var session SigningSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session")
	}
	return &session, nil
}

func (c *RedisCache) DeleteSession(ctx context.Context, sessionID string) error {
	key := "threshold:session:" + sessionID
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := "threshold:lock:" + key
	acquired, err := c.client.SetNX(ctx, lockKey, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire lock")
	}
	return acquired, nil
}

func (c *RedisCache) ReleaseLock(ctx context.Context, key string) error {
	lockKey := "threshold:lock:" + key
	if err := c.client.Del(ctx, lockKey).Err(); err != nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}
