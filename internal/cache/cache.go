// Package cache provides the key/value store behind the appointment
// cache-aside and the OTP resend cooldown.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCache = errors.New("cache error")

// Cache stores JSON-encoded values with an expiry.
type Cache interface {
	// Get decodes the value at key into dest and reports whether it existed.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key, or zero when it is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}
