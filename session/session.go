package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/uvdsl/solid-oidc-client-go/dpop"
	"github.com/uvdsl/solid-oidc-client-go/oidc"
	"github.com/uvdsl/solid-oidc-client-go/refresher"
	"github.com/uvdsl/solid-oidc-client-go/storage"
)

// CodeGrant is the authorization code flow collaborator a session delegates
// login to. HandleRedirect returns (nil, nil) when the url carries no
// authorization response at all.
type CodeGrant interface {
	AuthUrl(ctx context.Context) (string, error)
	HandleRedirect(ctx context.Context, redirectUrl string) (*oidc.TokenDetails, error)
}

// Information is the session's metadata: the relying party details, the
// identity provider and the current token bundle. Logout clears everything
// except dereferenceable client details.
type Information struct {
	Client oidc.ClientDetails
	Idp    string
	Tokens *oidc.TokenDetails
}

// restoreCall correlates one outstanding Restore with the eventual
// asynchronous coordinator reply. Concurrent Restore calls join it.
type restoreCall struct {
	done chan struct{}
	err  error
}

// Session is one client's session state machine. All derived state (active,
// webid, expiry, token hash) comes from the current token details' access
// token claims; it is never set independently.
type Session struct {
	logger  hclog.Logger
	conn    *refresher.Conn
	grant   CodeGrant
	store   storage.Store
	client  *http.Client
	nowFunc func() time.Time

	mu         sync.Mutex
	active     bool
	webId      string
	exp        time.Time
	currentAth string
	info       Information
	pending    *restoreCall

	callbacks   []func(bool)
	subscribers map[int]chan Event
	nextSubId   int

	// done is closed when the message-handling loop exits.
	done chan struct{}
}

// New creates a session on an established Hub connection. The grant handles
// login; the optional credential store backs Restore.
//
// Supported options: WithLogger, WithCredentialStore, WithNow,
// WithHttpClient, WithClientDetails, WithIdp
func New(conn *refresher.Conn, grant CodeGrant, opt ...Option) (*Session, error) {
	const op = "session.New"
	if conn == nil {
		return nil, fmt.Errorf("%s: connection is nil: %w", op, ErrNilParameter)
	}
	if grant == nil {
		return nil, fmt.Errorf("%s: code grant is nil: %w", op, ErrNilParameter)
	}
	opts := getSessionOpts(opt...)
	s := &Session{
		logger:  opts.withLogger,
		conn:    conn,
		grant:   grant,
		store:   opts.withStore,
		client:  opts.withHttpClient,
		nowFunc: opts.withNowFunc,
		info: Information{
			Client: opts.withClientDetails,
			Idp:    opts.withIdp,
		},
		subscribers: map[int]chan Event{},
		done:        make(chan struct{}),
	}
	if s.client == nil {
		s.client = cleanhttp.DefaultPooledClient()
	}
	go s.listen()
	return s, nil
}

// Login starts the authorization code flow and returns the URL the user must
// be navigated to. No local state changes until the redirect comes back.
func (s *Session) Login(ctx context.Context) (string, error) {
	const op = "Session.Login"
	url, err := s.grant.AuthUrl(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return url, nil
}

// HandleRedirect completes a login from the url the provider redirected back
// to. It reports true when a login actually completed; false with a nil
// error means the url wasn't a login redirect and the session stays as it
// was. On success the session becomes active and the tokens are handed to
// the coordinator for scheduling.
func (s *Session) HandleRedirect(ctx context.Context, redirectUrl string) (bool, error) {
	const op = "Session.HandleRedirect"
	tokens, err := s.grant.HandleRedirect(ctx, redirectUrl)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if tokens == nil {
		return false, nil
	}
	if err := s.applyTokenDetails(tokens); err != nil {
		s.logger.Error("discarding unusable tokens from login", "error", err)
		return false, nil
	}
	if err := s.conn.Send(&refresher.Schedule{Tokens: tokens}); err != nil {
		return true, fmt.Errorf("%s: unable to schedule token refresh: %w", op, err)
	}
	return true, nil
}

// Restore asks the coordinator for current valid tokens, re-establishing the
// session from the credential store when needed. A second Restore while one
// is pending joins it rather than issuing a second request; the result
// arrives exclusively through the coordinator's asynchronous reply. Without a
// configured credential store, Restore fails immediately.
func (s *Session) Restore(ctx context.Context) error {
	const op = "Session.Restore"
	s.mu.Lock()
	if s.store == nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNoCredentialStore)
	}
	call := s.pending
	if call == nil {
		call = &restoreCall{done: make(chan struct{})}
		s.pending = call
		s.mu.Unlock()
		if err := s.conn.Send(&refresher.Refresh{}); err != nil {
			s.settleRestore(fmt.Errorf("%s: unable to request refresh: %w", op, err))
		}
	} else {
		s.mu.Unlock()
	}

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logout tears the session down. The coordinator's session-global timers and
// cache are stopped before local cleanup completes; a pending restore is
// rejected; client details survive only when dereferenceable; the credential
// store is cleared. The state-change notification fires only when the
// session was actually active.
func (s *Session) Logout(ctx context.Context) error {
	var result *multierror.Error
	if err := s.conn.Send(&refresher.Stop{}); err != nil && !errors.Is(err, refresher.ErrConnClosed) {
		result = multierror.Append(result, fmt.Errorf("unable to stop coordinator: %w", err))
	}
	s.settleRestore(ErrLogoutDuringRefresh)

	s.mu.Lock()
	wasActive := s.clearSessionLocked()
	s.info.Idp = ""
	if !s.info.Client.IsDereferenceable() {
		s.info.Client = oidc.ClientDetails{}
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Init(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to open credential store: %w", err))
		} else {
			if err := s.store.Clear(ctx); err != nil {
				result = multierror.Append(result, fmt.Errorf("unable to clear credential store: %w", err))
			}
			if err := s.store.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("unable to close credential store: %w", err))
			}
		}
	}

	if wasActive {
		s.emit(Event{Kind: StateChanged, Active: false})
	}
	return result.ErrorOrNil()
}

// Fetch performs an authenticated request. When the locally tracked access
// token is expired, a restore runs (or an already pending one is joined)
// first. Active sessions attach a DPoP proof bound to the access token;
// otherwise Fetch degrades to a plain request.
func (s *Session) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	const op = "Session.Fetch"
	s.mu.Lock()
	expired := s.info.Tokens != nil && !s.now().Before(s.exp)
	s.mu.Unlock()
	if expired {
		if err := s.Restore(ctx); err != nil {
			return nil, fmt.Errorf("%s: unable to restore session: %w", op, err)
		}
	}

	s.mu.Lock()
	active := s.active
	tokens := s.info.Tokens
	ath := s.currentAth
	s.mu.Unlock()

	req = req.Clone(ctx)
	if active && tokens != nil && tokens.Key != nil {
		proof, err := tokens.Key.Proof(req.Method, req.URL.String(), dpop.WithAccessTokenHash(ath))
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create dpop proof: %w", op, err)
		}
		req.Header.Set("DPoP", proof)
		req.Header.Set("Authorization", "DPoP "+string(tokens.AccessToken))
	}
	return s.client.Do(req)
}

// Close disconnects the session from the Hub and waits for its
// message-handling loop to drain.
func (s *Session) Close() error {
	err := s.conn.Close()
	<-s.done
	return err
}

// IsActive reports whether the session is active.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// WebId returns the authenticated webid, or "" for an inactive session.
func (s *Session) WebId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webId
}

// ExpiresAt returns the locally tracked access token expiry.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exp
}

// Info returns a copy of the session's metadata.
func (s *Session) Info() Information {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// listen consumes coordinator messages until the connection's event channel
// closes. Handling a message completes before the next one is processed;
// handler errors are logged, never allowed to crash the loop.
func (s *Session) listen() {
	defer close(s.done)
	for m := range s.conn.Events() {
		if err := s.handle(m); err != nil {
			s.logger.Error("error handling coordinator message", "error", err)
		}
	}
}

// handle applies one coordinator message to the local state machine and
// settles any pending restore.
func (s *Session) handle(m refresher.Message) error {
	const op = "Session.handle"
	switch v := m.(type) {
	case *refresher.TokenUpdate:
		if v.Tokens == nil {
			return nil
		}
		if err := s.applyTokenDetails(v.Tokens); err != nil {
			s.settleRestore(err)
			return fmt.Errorf("%s: %w", op, err)
		}
		s.settleRestore(nil)

	case *refresher.RefreshError:
		s.mu.Lock()
		active := s.active
		webId := s.webId
		s.mu.Unlock()
		if active {
			s.emit(Event{Kind: ExpirationWarning, Active: true, WebId: webId, Reason: v.Reason})
			s.settleRestore(refreshError(v.Reason))
		} else {
			s.settleRestore(ErrNoSession)
		}

	case *refresher.Expired:
		s.settleRestore(refreshError(v.Reason))
		s.mu.Lock()
		active := s.active
		webId := s.webId
		s.mu.Unlock()
		if active {
			s.emit(Event{Kind: SessionExpired, Active: true, WebId: webId, Reason: v.Reason})
			if err := s.Logout(context.Background()); err != nil {
				return fmt.Errorf("%s: logout after expiration: %w", op, err)
			}
		}
	}
	return nil
}

// applyTokenDetails derives the session state from a token bundle's access
// token claims. A token the claims cannot be extracted from is treated like
// no session at all: the state clears and the error is reported to the
// caller, not thrown further.
func (s *Session) applyTokenDetails(t *oidc.TokenDetails) error {
	const op = "Session.applyTokenDetails"
	s.mu.Lock()
	claims, err := oidc.ParseAccessTokenClaims(t.AccessToken)
	if err != nil {
		flipped := s.clearSessionLocked()
		s.mu.Unlock()
		if flipped {
			s.emit(Event{Kind: StateChanged, Active: false})
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	s.info.Tokens = t
	s.webId = claims.WebID
	s.exp = claims.ExpiresAt()
	s.currentAth = dpop.AccessTokenHash(string(t.AccessToken))
	flipped := !s.active
	s.active = true
	webId := s.webId
	s.mu.Unlock()

	if flipped {
		s.emit(Event{Kind: StateChanged, Active: true, WebId: webId})
	}
	return nil
}

// clearSessionLocked resets the token-derived state and reports whether the
// active value actually flipped.
func (s *Session) clearSessionLocked() bool {
	flipped := s.active
	s.active = false
	s.webId = ""
	s.exp = time.Time{}
	s.currentAth = ""
	s.info.Tokens = nil
	return flipped
}

// settleRestore resolves (err == nil) or rejects the pending restore, if any.
func (s *Session) settleRestore(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return
	}
	s.pending.err = err
	close(s.pending.done)
	s.pending = nil
}

func (s *Session) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// refreshError converts a coordinator-carried reason into the error a pending
// restore rejects with.
func refreshError(reason string) error {
	if reason == "" {
		return ErrRefreshFailed
	}
	return errors.New(reason)
}
