package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores each document as one string value.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps a Redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: "docstore"}
}

func (r *Redis) key(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, collection, id)
}

// GetByID loads the document stored at collection/id.
func (r *Redis) GetByID(ctx context.Context, collection, id string) ([]byte, error) {
	if err := validKey(collection, id); err != nil {
		return nil, err
	}
	raw, err := r.client.Get(ctx, r.key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore/redis: get: %w", err)
	}
	return raw, nil
}

// AddWithID replaces the document at collection/id without expiry.
func (r *Redis) AddWithID(ctx context.Context, collection, id string, doc []byte) error {
	if err := validKey(collection, id); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(collection, id), doc, 0).Err(); err != nil {
		return fmt.Errorf("docstore/redis: set: %w", err)
	}
	return nil
}
