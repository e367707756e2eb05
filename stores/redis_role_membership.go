package stores

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/bugtrack"
)

// RedisRoleMembershipStore stores user->roles in Redis sets (key: {prefix}rolemem:{userID})
type RedisRoleMembershipStore struct {
	client *redis.Client
	keyFmt string
}

func NewRedisRoleMembershipStore(client *redis.Client, prefix string) *RedisRoleMembershipStore {
	return &RedisRoleMembershipStore{client: client, keyFmt: prefix + "rolemem:%s"}
}

// NewRedisClient builds a client from the redis section of the config.
func NewRedisClient(cfg bugtrack.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (r *RedisRoleMembershipStore) key(userID string) string {
	return fmt.Sprintf(r.keyFmt, userID)
}

func (r *RedisRoleMembershipStore) AssignRole(ctx context.Context, userID, role string) error {
	return r.client.SAdd(ctx, r.key(userID), role).Err()
}

func (r *RedisRoleMembershipStore) RevokeRole(ctx context.Context, userID, role string) error {
	return r.client.SRem(ctx, r.key(userID), role).Err()
}

func (r *RedisRoleMembershipStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	res, err := r.client.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(res)
	return res, nil
}
