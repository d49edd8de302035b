package refreshtokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/server/models"
)

const keyPrefix = "refresh:"

func tokenKey(tokenID string) string {
	return keyPrefix + tokenID
}

// userKey names the per-user set of live token ids, which backs
// DeleteByUser. Members of TTL-evicted tokens may linger; they point at
// nothing and deleting them is a no-op.
func userKey(userID int64) string {
	return fmt.Sprintf("%suser:%d", keyPrefix, userID)
}

// RedisRepository stores refresh-token records in Redis with a TTL matching
// the record's expiry, so expired records vanish on their own. Validity is
// still decided by the service's expiry check, same as the Postgres path.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository constructs a repository bound to the given client.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Save(ctx context.Context, token *models.RefreshToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tokenKey(token.TokenID), payload, safeTTL(token.ExpiresAt))
	pipe.SAdd(ctx, userKey(token.UserID), token.TokenID)
	pipe.Expire(ctx, userKey(token.UserID), safeTTL(token.ExpiresAt))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) Find(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	val, err := r.client.Get(ctx, tokenKey(tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	token := &models.RefreshToken{}
	if err := json.Unmarshal(val, token); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	return token, nil
}

func (r *RedisRepository) Delete(ctx context.Context, tokenID string) error {
	token, err := r.Find(ctx, tokenID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, tokenKey(tokenID))
	pipe.SRem(ctx, userKey(token.UserID), tokenID)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteByUser revokes every outstanding token the user owns by walking the
// per-user id set.
func (r *RedisRepository) DeleteByUser(ctx context.Context, userID int64) error {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, tokenKey(id))
	}
	pipe.Del(ctx, userKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

// Rotate deletes the old record and writes the replacement in one pipelined
// round-trip. Unlike the Postgres path this is not transactional, but the
// new record carries a fresh token id, so the worst case is a short-lived
// duplicate whose predecessor's hash no other holder knows.
func (r *RedisRepository) Rotate(ctx context.Context, oldTokenID string, next *models.RefreshToken) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, tokenKey(oldTokenID))
	pipe.Set(ctx, tokenKey(next.TokenID), payload, safeTTL(next.ExpiresAt))
	pipe.SRem(ctx, userKey(next.UserID), oldTokenID)
	pipe.SAdd(ctx, userKey(next.UserID), next.TokenID)
	pipe.Expire(ctx, userKey(next.UserID), safeTTL(next.ExpiresAt))
	_, err = pipe.Exec(ctx)
	return err
}

// safeTTL keeps an already-expired record around briefly so the key still
// disappears instead of being stored forever by a zero/negative TTL.
func safeTTL(exp time.Time) time.Duration {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return time.Minute
	}
	return ttl
}
