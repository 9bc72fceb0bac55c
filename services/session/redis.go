package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediaconv/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (r *RedisStore) Open(ctx context.Context, s *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	stamp(s, r.now().UTC(), ttl)

	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}

	key := rediskey.BuildSessionKey(s.AccountID)
	if err := r.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		zap.L().Error("failed to store session", zap.Int64("account_id", s.AccountID), zap.Error(err))
		return err
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, accountID int64) (*Session, error) {
	raw, err := r.rdb.Get(ctx, rediskey.BuildSessionKey(accountID)).Bytes()
	return r.decode(accountID, raw, err)
}

// TakeAndClear uses GETDEL so concurrent callers race on the server and only
// one of them receives the value.
func (r *RedisStore) TakeAndClear(ctx context.Context, accountID int64) (*Session, error) {
	raw, err := r.rdb.GetDel(ctx, rediskey.BuildSessionKey(accountID)).Bytes()
	return r.decode(accountID, raw, err)
}

// Restore is SET NX with the time the session has left, so a newer upload
// stored meanwhile wins.
func (r *RedisStore) Restore(ctx context.Context, s *Session) (bool, error) {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return false, nil
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	return r.rdb.SetNX(ctx, rediskey.BuildSessionKey(s.AccountID), payload, ttl).Result()
}

func (r *RedisStore) Cancel(ctx context.Context, accountID int64) error {
	n, err := r.rdb.Del(ctx, rediskey.BuildSessionKey(accountID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisStore) decode(accountID int64, raw []byte, err error) (*Session, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		zap.L().Error("failed to read session", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		zap.L().Warn("dropping unreadable session", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, ErrSessionNotFound
	}
	if s.Expired(r.now()) {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}
