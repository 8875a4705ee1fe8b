package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/marketpulse/simulator/pkg/models"
)

const keyPrefix = "account:"

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// RedisStore persists each account as one JSON document under account:<id>.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Load(ctx context.Context, userID string) (*models.UserAccount, error) {
	raw, err := r.client.Get(ctx, keyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}

	var acct models.UserAccount
	if err := json.Unmarshal([]byte(raw), &acct); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", userID, err)
	}
	return &acct, nil
}

func (r *RedisStore) Save(ctx context.Context, acct *models.UserAccount) error {
	payload, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", acct.ID, err)
	}
	if err := r.client.Set(ctx, keyPrefix+acct.ID, payload, 0).Err(); err != nil {
		return fmt.Errorf("save account %s: %w", acct.ID, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
