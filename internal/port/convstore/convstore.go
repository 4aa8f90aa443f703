// Package convstore defines the port interface for the conversation-id
// key-value store backing the vendor continuity policy.
package convstore

import (
	"context"
	"time"
)

// Store is a minimal KV surface. Get returns ok=false for missing keys.
// TTL of zero means "no expiry" (or bucket-level TTL for remote backends).
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
