package cache

import (
	"context"
	"time"
)

// Cache is what the services depend on; nil is a valid value and means
// "no caching".
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
