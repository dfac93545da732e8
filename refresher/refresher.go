package refresher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/uvdsl/solid-oidc-client-go/oidc"
	"github.com/uvdsl/solid-oidc-client-go/storage"
)

// GrantClient performs the network exchange to obtain new tokens given stored
// credentials. It fails with an error carrying a human-readable message on
// any validation or network failure.
type GrantClient interface {
	RenewTokens(ctx context.Context, store storage.Store) (*oidc.TokenDetails, error)
}

const (
	// DefaultMinRefreshDelay is the minimum proactive-refresh delay: when
	// 80% of the token lifetime does not exceed it, no refresh timer is
	// armed and only the hard-expiration path applies.
	DefaultMinRefreshDelay = 30 * time.Second

	// DefaultLogoutGrace is subtracted from the token lifetime when arming
	// the hard-expiration timer.
	DefaultLogoutGrace = 5 * time.Second
)

// refreshKey is the single singleflight key: there is at most one token
// generation being refreshed at a time.
const refreshKey = "refresh"

// Refresher is the single authority, per Hub, for deciding when tokens must
// be renewed and for preventing duplicate network refreshes triggered by
// multiple clients. All its state is guarded by mu; timer callbacks and
// client requests interleave through it.
type Refresher struct {
	mu sync.Mutex

	logger    hclog.Logger
	grants    GrantClient
	store     storage.Store
	broadcast func(Message)
	nowFunc   func() time.Time

	// ctx is used for grant calls triggered by timers, where no caller
	// context exists.
	ctx context.Context

	tokens        *oidc.TokenDetails
	exp           time.Time
	refreshTimer  *time.Timer
	logoutTimer   *time.Timer
	timersRunning bool

	minRefreshDelay time.Duration
	logoutGrace     time.Duration

	group singleflight.Group
}

// NewRefresher creates a coordinator. The broadcast func fans a message out
// to every connected client; ctx bounds grant calls triggered by timers.
//
// Supported options: WithLogger, WithNow
func NewRefresher(ctx context.Context, grants GrantClient, store storage.Store, broadcast func(Message), opt ...Option) (*Refresher, error) {
	const op = "refresher.NewRefresher"
	if grants == nil {
		return nil, fmt.Errorf("%s: grant client is nil: %w", op, ErrNilParameter)
	}
	if broadcast == nil {
		return nil, fmt.Errorf("%s: broadcast func is nil: %w", op, ErrNilParameter)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opts := getRefresherOpts(opt...)
	r := &Refresher{
		logger:          opts.withLogger,
		grants:          grants,
		store:           store,
		broadcast:       broadcast,
		nowFunc:         opts.withNowFunc,
		ctx:             ctx,
		minRefreshDelay: DefaultMinRefreshDelay,
		logoutGrace:     DefaultLogoutGrace,
	}
	return r, nil
}

// Schedule caches freshly obtained tokens, parses their expiry, immediately
// broadcasts a TokenUpdate so the initiating client and any others see the
// new state, and (re-)arms both timers. Existing timers are always cleared
// first; they never layer.
func (r *Refresher) Schedule(tokens *oidc.TokenDetails) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduleLocked(tokens)
}

func (r *Refresher) scheduleLocked(tokens *oidc.TokenDetails) {
	r.tokens = tokens
	r.exp = time.Time{}
	if tokens != nil {
		claims, err := oidc.ParseAccessTokenClaims(tokens.AccessToken)
		if err != nil {
			r.logger.Warn("unable to parse access token expiry", "error", err)
		} else {
			r.exp = claims.ExpiresAt()
		}
	}
	r.broadcast(&TokenUpdate{Tokens: tokens})
	if tokens != nil {
		r.armTimersLocked(tokens.ExpiresIn)
	}
}

// Refresh answers a client's request for current valid tokens. When cached
// tokens exist and their exp has not passed (zero buffer: exactly at expiry
// counts as expired), the cached details are sent to the requesting client
// only, without touching the network or broadcasting. Otherwise a refresh
// runs (joining one already in flight) and its outcome is broadcast.
func (r *Refresher) Refresh(reply func(Message)) {
	r.mu.Lock()
	if r.tokens.Valid() && r.now().Before(r.exp) {
		tokens := r.tokens
		r.mu.Unlock()
		if reply != nil {
			reply(&TokenUpdate{Tokens: tokens})
		}
		return
	}
	r.mu.Unlock()
	r.refresh()
}

// refresh performs the network refresh, shared by the manual-miss and
// automatic-timer paths. Concurrent callers join the in-flight call instead
// of issuing a second grant invocation; the result is broadcast exactly once.
// Grant errors are converted to a RefreshError broadcast and never propagate:
// the previously armed logout timer, the cached tokens and exp all stay
// untouched on failure.
func (r *Refresher) refresh() {
	_, _, _ = r.group.Do(refreshKey, func() (interface{}, error) {
		tokens, err := r.grants.RenewTokens(r.ctx, r.store)
		if err != nil {
			r.logger.Warn("token refresh failed", "error", err)
			r.mu.Lock()
			r.broadcast(&RefreshError{Reason: err.Error()})
			r.mu.Unlock()
			return nil, nil
		}
		r.mu.Lock()
		r.scheduleLocked(tokens)
		r.mu.Unlock()
		return tokens, nil
	})
}

// Stop clears the cached tokens, their expiry and the in-flight refresh
// marker, and cancels both timers. It is idempotent: safe with no timers
// scheduled and safe to call repeatedly.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = nil
	r.exp = time.Time{}
	r.clearTimersLocked()
	r.group.Forget(refreshKey)
}

// expire fires when the hard-expiration timer elapses: it unconditionally
// clears the cached tokens and broadcasts Expired, regardless of whether a
// refresh succeeded earlier.
func (r *Refresher) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = nil
	r.exp = time.Time{}
	r.clearTimersLocked()
	r.broadcast(&Expired{})
}

// armTimersLocked schedules both timers from the token lifetime: the refresh
// timer at 80% of the lifetime, armed only when that delay strictly exceeds
// the minimum refresh delay, and the logout timer at lifetime minus the
// grace period, always armed (a non-positive delay fires immediately).
func (r *Refresher) armTimersLocked(lifetime time.Duration) {
	r.clearTimersLocked()
	refreshDelay := lifetime * 4 / 5
	if refreshDelay > r.minRefreshDelay {
		r.refreshTimer = time.AfterFunc(refreshDelay, r.refresh)
	}
	r.logoutTimer = time.AfterFunc(lifetime-r.logoutGrace, r.expire)
	r.timersRunning = true
}

func (r *Refresher) clearTimersLocked() {
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
		r.refreshTimer = nil
	}
	if r.logoutTimer != nil {
		r.logoutTimer.Stop()
		r.logoutTimer = nil
	}
	r.timersRunning = false
}

// Tokens returns the currently cached token details, or nil when none are
// scheduled, stopped or expired.
func (r *Refresher) Tokens() *oidc.TokenDetails {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

// TimersRunning reports whether the hard-expiration timer is currently armed.
func (r *Refresher) TimersRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timersRunning
}

func (r *Refresher) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}
