package redis

import (
	"context"
	"errors"
	"time"

	"evaliq-attempt-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps each attempt session in one Redis hash:
//
//	HSET attempt:session:{quizID}:{sessionID} {key} {value}
//
// Every write refreshes the hash TTL, so abandoned sessions expire on their own
// while an active participant never loses state on reload or restart.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Session(namespace string) app.SessionStore {
	return &sessionHash{client: s.client, key: "attempt:session:" + namespace, ttl: s.ttl}
}

type sessionHash struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func (h *sessionHash) Get(ctx context.Context, key app.Key) (string, bool, error) {
	v, err := h.client.HGet(ctx, h.key, string(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (h *sessionHash) Set(ctx context.Context, key app.Key, value string) error {
	pipe := h.client.TxPipeline()
	pipe.HSet(ctx, h.key, string(key), value)
	if h.ttl > 0 {
		pipe.Expire(ctx, h.key, h.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (h *sessionHash) Incr(ctx context.Context, key app.Key) (int64, error) {
	pipe := h.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, h.key, string(key), 1)
	if h.ttl > 0 {
		pipe.Expire(ctx, h.key, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (h *sessionHash) Delete(ctx context.Context, keys ...app.Key) error {
	if len(keys) == 0 {
		return nil
	}
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, string(k))
	}
	// Redis drops the hash once its last field is gone.
	return h.client.HDel(ctx, h.key, fields...).Err()
}
