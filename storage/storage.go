// Package storage defines the credential store the grant layer and the
// refresher persist session material in, together with an in-memory and a
// sqlite-backed implementation.
package storage

import (
	"context"
	"errors"
)

// Keys under which the session's credential material is persisted. The core
// treats all values as opaque strings.
const (
	KeyClientId      = "client_id"
	KeyClientSecret  = "client_secret"
	KeyTokenEndpoint = "token_endpoint"
	KeyDPoPKeyPair   = "dpop_key_pair"
	KeyRefreshToken  = "refresh_token"
	KeyIdp           = "idp"
	KeyJwksUri       = "jwks_uri"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("not found")

	// ErrNotInitialized is returned when the store is used before Init or
	// after Close.
	ErrNotInitialized = errors.New("store is not initialized")
)

// Store is an async key-value credential store. A store is opened with Init
// and released with Close per usage; the refresher's in-flight-refresh mutex
// guarantees no two refreshes hold it open concurrently.
type Store interface {
	// Init prepares the store for use. It must be safe to call again after
	// Close.
	Init(ctx context.Context) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value string) error

	// Delete removes the value stored under key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all stored values.
	Clear(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
