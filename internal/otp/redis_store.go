package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront/internal/models"
)

const redisKeyPrefix = "otp:"

// compareAndDelete deletes KEYS[1] only while its code field equals ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("HGET", KEYS[1], "code") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares challenges between every instance pointed at the same
// redis. Each challenge is a hash {code, expiresAt} that redis evicts once
// retention ends.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

func (s *RedisStore) Put(ctx context.Context, c models.OTPChallenge) error {
	k := redisKey(c.Key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, "code", c.Code, "expiresAt", c.ExpiresAt.UnixMilli())
	pipe.PExpireAt(ctx, k, c.ExpiresAt.Add(RetainAfterExpiry))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("otp: store challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (models.OTPChallenge, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.OTPChallenge{}, false, nil
		}
		return models.OTPChallenge{}, false, fmt.Errorf("otp: load challenge: %w", err)
	}
	code, ok := fields["code"]
	if !ok {
		return models.OTPChallenge{}, false, nil
	}
	ms, err := strconv.ParseInt(fields["expiresAt"], 10, 64)
	if err != nil {
		return models.OTPChallenge{}, false, fmt.Errorf("otp: corrupt expiry for %s: %w", key, err)
	}
	return models.OTPChallenge{Key: key, Code: code, ExpiresAt: time.UnixMilli(ms).UTC()}, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("otp: delete challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, code string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{redisKey(key)}, code).Int()
	if err != nil {
		return false, fmt.Errorf("otp: consume challenge: %w", err)
	}
	return n == 1, nil
}
