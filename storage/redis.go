package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// indexPrefix namespaces the per-root key-set indexes away from the
// cached entries themselves.
const indexPrefix = "idx:"

// RedisStore implements the shared cache layer on Redis. Every cached
// key is also registered in a per-root set so prefix invalidation
// enumerates only the keys under that root instead of scanning the
// keyspace.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore creates a new Redis-based store. namespace prefixes
// every key this store owns and scopes Clear to them.
func NewRedisStore(addr, password string, db int, namespace string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{
		client:    client,
		namespace: namespace,
	}, nil
}

// Get retrieves a value from Redis.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := rs.client.Get(ctx, rs.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with the given TTL and registers the key
// in its root index set. The index set carries its own expiry, bumped
// past the entry TTL on every write; members of expired entries linger
// until the next prefix delete and are harmless to re-delete.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	indexKey := rs.indexKey(types.KeyRoot(key))

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.namespace+key, value, ttl)
	pipe.SAdd(ctx, indexKey, key)
	if ttl > 0 {
		pipe.Expire(ctx, indexKey, ttl+time.Minute)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes values from Redis and unregisters them from their
// root index sets.
func (rs *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := rs.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, rs.namespace+key)
		pipe.SRem(ctx, rs.indexKey(types.KeyRoot(key)), key)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteByPrefix removes every key under prefix, using the root index
// set to enumerate candidates in O(keys under root).
func (rs *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	indexKey := rs.indexKey(types.KeyRoot(prefix))

	members, err := rs.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	var matching []string
	for _, key := range members {
		if types.MatchesPrefix(key, prefix) {
			matching = append(matching, key)
		}
	}
	if len(matching) == 0 {
		return 0, nil
	}

	if err := rs.Delete(ctx, matching...); err != nil {
		return 0, err
	}
	return len(matching), nil
}

// Clear removes every key owned by this store's namespace.
func (rs *RedisStore) Clear(ctx context.Context) error {
	iter := rs.client.Scan(ctx, 0, rs.namespace+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return rs.client.Del(ctx, keys...).Err()
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// Client returns the underlying Redis client, used by the pub/sub
// synchronizer.
func (rs *RedisStore) Client() *redis.Client {
	return rs.client
}

func (rs *RedisStore) indexKey(root string) string {
	return rs.namespace + indexPrefix + root
}

// ErrNotFound is returned when a key is not found.
var ErrNotFound = errors.New("key not found")
