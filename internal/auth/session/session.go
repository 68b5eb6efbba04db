// Package session provides the server-side, per-browser-session
// key/value store. It holds the durable user_id/auth_state pair and the
// short-lived ceremony state (WebAuthn challenges, PGP challenges) that
// must be consumed exactly once.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoValue is returned when a key is absent or expired.
var ErrNoValue = errors.New("session: no value")

// Store is a session-scoped key/value store with per-key TTL. Keys are
// namespaced by session id, so all state vanishes with the session.
type Store interface {
	// Get returns the value for key, or ErrNoValue.
	Get(ctx context.Context, sid, key string) ([]byte, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, sid, key string, value []byte, ttl time.Duration) error

	// Take atomically reads and removes the value, or returns
	// ErrNoValue. This is the only safe way to consume ceremony state:
	// the value is gone even if validation of it later fails.
	Take(ctx context.Context, sid, key string) ([]byte, error)

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, sid, key string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, sid, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, sid, key, raw, ttl)
}

// GetJSON reads and unmarshals the value for key.
func GetJSON[T any](ctx context.Context, s Store, sid, key string) (T, error) {
	var v T

	raw, err := s.Get(ctx, sid, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

// TakeJSON consumes and unmarshals the value for key.
func TakeJSON[T any](ctx context.Context, s Store, sid, key string) (T, error) {
	var v T

	raw, err := s.Take(ctx, sid, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}
