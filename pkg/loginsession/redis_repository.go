package loginsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisMaxRetries = 4

// ErrRedisBackend wraps failures talking to redis.
var ErrRedisBackend = errors.New("login session backend unavailable")

// RedisRepository stores each session as a JSON value under a tenant
// prefixed key. Sessions with an expiry get a matching key TTL, so expired
// workflows are garbage collected by redis itself.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRepository creates a repository on client. prefix defaults to "ls".
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "ls"
	}
	return &RedisRepository{
		redis:  client,
		prefix: prefix,
	}
}

func (r *RedisRepository) key(tenantID, id string) string {
	return r.prefix + ":" + tenantID + ":" + id
}

func ttlFor(s *LoginSession) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		// keep expired sessions briefly so callers can still observe them
		return time.Second
	}
	return ttl
}

func (r *RedisRepository) Create(ctx context.Context, tenantID string, session LoginSession) (*LoginSession, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session = prepareCreate(tenantID, session, time.Now().UTC())

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login session: %w", err)
	}
	ok, err := r.redis.SetNX(ctx, r.key(tenantID, session.ID), data, ttlFor(&session)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisBackend, err)
	}
	if !ok {
		return nil, fmt.Errorf("login session already exists: %s", session.ID)
	}
	return &session, nil
}

func (r *RedisRepository) Get(ctx context.Context, tenantID, id string) (*LoginSession, error) {
	data, err := r.redis.Get(ctx, r.key(tenantID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisBackend, err)
	}

	var s LoginSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login session: %w", err)
	}
	if s.PipelineState.Context == nil {
		s.PipelineState.Context = map[string]any{}
	}
	return &s, nil
}

// Update applies patch inside WATCH/MULTI. A concurrent writer aborts the
// transaction; unconditional patches are retried, conditional ones re-check
// the version on the next attempt and fail with a conflict.
func (r *RedisRepository) Update(ctx context.Context, tenantID, id string, patch Patch) error {
	key := r.key(tenantID, id)

	for i := 0; i < redisMaxRetries; i++ {
		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var s LoginSession
			if err := json.Unmarshal(data, &s); err != nil {
				return fmt.Errorf("failed to unmarshal login session: %w", err)
			}
			if err := checkVersion(&s, patch); err != nil {
				return err
			}

			patch.apply(&s, time.Now().UTC())
			updated, err := json.Marshal(s)
			if err != nil {
				return fmt.Errorf("failed to marshal login session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if ttl := ttlFor(&s); ttl > 0 {
					pipe.Set(ctx, key, updated, ttl)
				} else {
					pipe.Set(ctx, key, updated, redis.KeepTTL)
				}
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if IsVersionConflict(err) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrRedisBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: too many concurrent updates to %s", ErrRedisBackend, id)
}

func (r *RedisRepository) Delete(ctx context.Context, tenantID, id string) error {
	if err := r.redis.Del(ctx, r.key(tenantID, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisBackend, err)
	}
	return nil
}
