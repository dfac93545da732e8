package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"

	"github.com/uvdsl/solid-oidc-client-go/dpop"
	"github.com/uvdsl/solid-oidc-client-go/storage"
)

// RefreshGrant performs the refresh token grant using credential material
// held in a Store: it reads the refresh token, client id, token endpoint and
// DPoP keypair persisted by an earlier authorization code exchange, requests
// new tokens DPoP-bound to the same keypair, and persists the rotated refresh
// token. Each call opens and closes the store; callers must serialize renewals
// (the refresher's in-flight dedup does this).
type RefreshGrant struct {
	logger hclog.Logger
}

// NewRefreshGrant creates a grant client for renewing tokens from stored
// credentials.
//
// Supported options: WithRefreshLogger
func NewRefreshGrant(opt ...Option) *RefreshGrant {
	opts := getRefreshGrantOpts(opt...)
	g := &RefreshGrant{
		logger: opts.withLogger,
	}
	if g.logger == nil {
		g.logger = hclog.NewNullLogger()
	}
	return g
}

// RenewTokens implements the refresh token grant against the stored token
// endpoint. It fails with a descriptive error when any required credential is
// missing from the store or when the token endpoint rejects the request.
func (g *RefreshGrant) RenewTokens(ctx context.Context, store storage.Store) (details *TokenDetails, err error) {
	const op = "RefreshGrant.RenewTokens"
	if store == nil {
		return nil, fmt.Errorf("%s: credential store is nil: %w", op, ErrNilParameter)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("%s: unable to open credential store: %w", op, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("%s: unable to close credential store: %w", op, closeErr)).ErrorOrNil()
			details = nil
		}
	}()

	clientId, err := store.Get(ctx, storage.KeyClientId)
	if err != nil {
		return nil, fmt.Errorf("%s: no client id in credential store: %w", op, err)
	}
	tokenEndpoint, err := store.Get(ctx, storage.KeyTokenEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%s: no token endpoint in credential store: %w", op, err)
	}
	refreshToken, err := store.Get(ctx, storage.KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: no refresh token in credential store: %w", op, ErrMissingRefreshToken)
	}
	keyJson, err := store.Get(ctx, storage.KeyDPoPKeyPair)
	if err != nil {
		return nil, fmt.Errorf("%s: no dpop keypair in credential store: %w", op, err)
	}
	key, err := dpop.UnmarshalKeyPair([]byte(keyJson))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to restore dpop keypair: %w", op, err)
	}
	clientSecret, err := store.Get(ctx, storage.KeyClientSecret)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: unable to read client secret: %w", op, err)
	}

	client := cleanhttp.DefaultPooledClient()
	client.Transport = &dpop.Transport{Key: key, Base: client.Transport}
	oidcCtx := HttpClientContext(ctx, client)

	conf := &oauth2.Config{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tokenSource := conf.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: refreshToken})
	oauth2Token, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to renew tokens: %w", op, err)
	}

	details, err = NewTokenDetails(oauth2Token, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if details.RefreshToken != "" && string(details.RefreshToken) != refreshToken {
		if setErr := store.Set(ctx, storage.KeyRefreshToken, string(details.RefreshToken)); setErr != nil {
			return nil, fmt.Errorf("%s: unable to persist rotated refresh token: %w", op, setErr)
		}
		g.logger.Debug("rotated refresh token persisted")
	}
	return details, nil
}

// refreshGrantOptions is the set of available options for RefreshGrant
// functions
type refreshGrantOptions struct {
	withLogger hclog.Logger
}

// refreshGrantDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func refreshGrantDefaults() refreshGrantOptions {
	return refreshGrantOptions{}
}

// getRefreshGrantOpts gets the defaults and applies the opt overrides passed
// in.
func getRefreshGrantOpts(opt ...Option) refreshGrantOptions {
	opts := refreshGrantDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRefreshLogger provides an optional logger for the refresh grant.
func WithRefreshLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*refreshGrantOptions); ok {
			o.withLogger = l
		}
	}
}
