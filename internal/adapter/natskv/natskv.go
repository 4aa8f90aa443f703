// Package natskv implements the conversation store port on a NATS
// JetStream key-value bucket, so vendor conversation ids survive process
// restarts and are shared across replicas.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Store wraps a JetStream KeyValue bucket. Entry TTL is managed at the
// bucket level; the per-call TTL argument is ignored.
type Store struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// Connect dials NATS and ensures the bucket exists with the given TTL.
func Connect(ctx context.Context, url, bucket string, ttl time.Duration) (*Store, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream kv bucket: %w", err)
	}
	return &Store{nc: nc, kv: kv}, nil
}

// NewFromBucket wraps an existing bucket (used by tests).
func NewFromBucket(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value; missing keys return ok=false.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return string(entry.Value()), true, nil
}

// Set stores a value. TTL is bucket-level.
func (s *Store) Set(ctx context.Context, key, value string, _ time.Duration) error {
	if _, err := s.kv.Put(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Delete removes a key; deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Close drops the NATS connection.
func (s *Store) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
