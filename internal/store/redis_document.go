package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"phonesim-core/internal/models"

	"github.com/go-redis/redis/v8"
)

type documentEnvelope struct {
	Version int64           `json:"version"`
	Data    models.Document `json:"data"`
}

// RedisDocumentStore 基于 Redis 的文档存储
// 每个文档保存为一个 JSON 信封 {"version": n, "data": {...}}，
// 写入使用 WATCH/MULTI 保证版本检查与写入的原子性。
type RedisDocumentStore struct {
	client *redis.Client
	prefix string
}

// NewRedisDocumentStore creates a document store under the given key prefix
func NewRedisDocumentStore(client *redis.Client, prefix string) *RedisDocumentStore {
	return &RedisDocumentStore{client: client, prefix: prefix}
}

func (s *RedisDocumentStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisDocumentStore) Get(ctx context.Context, name string) (models.Document, int64, error) {
	env, err := readEnvelope(ctx, s.client, s.key(name))
	if err != nil {
		return nil, 0, err
	}
	return env.Data, env.Version, nil
}

func (s *RedisDocumentStore) Put(ctx context.Context, name string, doc models.Document, expectedVersion int64) (int64, error) {
	key := s.key(name)
	newVersion := expectedVersion + 1

	txf := func(tx *redis.Tx) error {
		current, err := readEnvelope(ctx, tx, key)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return &ConflictError{Name: name, Expected: expectedVersion, Current: current.Version}
		}

		payload, err := json.Marshal(documentEnvelope{Version: newVersion, Data: doc})
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", name, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return 0, &ConflictError{Name: name, Expected: expectedVersion, Current: -1}
		}
		return 0, err
	}
	return newVersion, nil
}

// Delete 删除文档
func (s *RedisDocumentStore) Delete(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.key(name)).Err()
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readEnvelope(ctx context.Context, c stringGetter, key string) (documentEnvelope, error) {
	raw, err := c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return documentEnvelope{Data: models.Document{}}, nil
		}
		return documentEnvelope{}, fmt.Errorf("failed to get document %s: %w", key, err)
	}

	var env documentEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return documentEnvelope{}, fmt.Errorf("failed to unmarshal document %s: %w", key, err)
	}
	if env.Data == nil {
		env.Data = models.Document{}
	}
	return env, nil
}
