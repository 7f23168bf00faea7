// Package cache is a small JSON cache used to short-circuit expensive
// lookups, primarily media URL resolution.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// MediaURLKey keys the cached HLS URL for one room.
func MediaURLKey(roomURL string) string { return "media_url:" + roomURL }
