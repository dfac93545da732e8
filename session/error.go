package session

import (
	"errors"
)

var (
	ErrNilParameter = errors.New("nil parameter")

	// ErrNoCredentialStore is returned by Restore when the session has no
	// persistent store configured: without one there is nothing a restore
	// could renew tokens from.
	ErrNoCredentialStore = errors.New("no credential store configured")

	// ErrRefreshFailed is the default rejection for a pending restore when a
	// background refresh fails while a session exists.
	ErrRefreshFailed = errors.New("Token refresh failed")

	// ErrNoSession rejects a pending restore when the refresh failed and no
	// session was ever established.
	ErrNoSession = errors.New("No session to restore")

	// ErrLogoutDuringRefresh rejects a pending restore that is abandoned by
	// an explicit logout.
	ErrLogoutDuringRefresh = errors.New("Logout during token refresh.")
)
