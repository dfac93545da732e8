package oidc

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"

	"github.com/uvdsl/solid-oidc-client-go/dpop"
	strutil "github.com/uvdsl/solid-oidc-client-go/oidc/internal/strutils"
	"github.com/uvdsl/solid-oidc-client-go/storage"
)

// DefaultRequestExpiry is how long an authorization code Request stays
// redeemable after AuthUrl issued it.
const DefaultRequestExpiry = 10 * time.Minute

// solidScopes are requested on every authorization request: "openid" is
// required for oidc flows, "offline_access" for a refresh token and "webid"
// for the webid claim on the access token.
var solidScopes = []string{oidc.ScopeOpenID, "offline_access", "webid"}

// AuthorizationCodeGrant implements the PKCE-hardened 3-legged authorization
// code flow. It tracks issued Requests so the redirect back can be correlated
// with the flow that started it, and persists the obtained credential
// material in the credential store for the refresh token grant to pick up.
type AuthorizationCodeGrant struct {
	provider *Provider
	store    storage.Store

	mu       sync.Mutex
	requests map[string]*Request

	requestExpiry time.Duration
}

// NewAuthorizationCodeGrant creates a grant for the provider. The store is
// optional: without one the obtained credentials live only in the returned
// TokenDetails and no session restore across processes is possible.
func NewAuthorizationCodeGrant(p *Provider, store storage.Store) (*AuthorizationCodeGrant, error) {
	const op = "oidc.NewAuthorizationCodeGrant"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	}
	return &AuthorizationCodeGrant{
		provider:      p,
		store:         store,
		requests:      map[string]*Request{},
		requestExpiry: DefaultRequestExpiry,
	}, nil
}

// AuthUrl generates a URL the caller can use to kick off the authorization
// code flow with the provider, carrying a fresh state, nonce and PKCE
// challenge. The Request backing the URL is tracked until the redirect comes
// back or it expires.
func (g *AuthorizationCodeGrant) AuthUrl(ctx context.Context) (string, error) {
	const op = "AuthorizationCodeGrant.AuthUrl"
	c := g.provider.Config()
	if c.Client.Id == "" {
		return "", fmt.Errorf("%s: client id is empty (register the client first): %w", op, ErrInvalidParameter)
	}
	if c.Client.RedirectUri == "" {
		return "", fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter)
	}
	req, err := NewRequest(g.requestExpiry)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	g.mu.Lock()
	g.requests[req.State()] = req
	g.mu.Unlock()

	oauth2Config := g.oauth2Config()
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(req.Nonce()),
		oauth2.SetAuthURLParam("code_challenge", req.PKCEVerifier().Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(req.PKCEVerifier().Method())),
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	return oauth2Config.AuthCodeURL(req.State(), authCodeOpts...), nil
}

// HandleRedirect inspects the URL the provider redirected back to. When the
// URL carries no authorization response at all it returns (nil, nil): the
// page load simply wasn't a login redirect. Otherwise the authorization code
// is exchanged for tokens.
func (g *AuthorizationCodeGrant) HandleRedirect(ctx context.Context, redirectUrl string) (*TokenDetails, error) {
	const op = "AuthorizationCodeGrant.HandleRedirect"
	u, err := url.Parse(redirectUrl)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse redirect url: %w", op, ErrInvalidParameter)
	}
	q := u.Query()
	if errParam := q.Get("error"); errParam != "" {
		return nil, fmt.Errorf("%s: provider returned %q (%s): %w", op, errParam, q.Get("error_description"), ErrLoginFailed)
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" && code == "" {
		return nil, nil // not a login redirect
	}
	return g.Exchange(ctx, state, code)
}

// Exchange will request tokens from the provider's token endpoint using the
// authorization code and state received in an earlier successful
// authorization response. The request is DPoP-bound to a freshly generated
// keypair, the id_token is verified against the flow's nonce, and the
// resulting credentials are persisted when a store is configured.
func (g *AuthorizationCodeGrant) Exchange(ctx context.Context, responseState string, authorizationCode string) (*TokenDetails, error) {
	const op = "AuthorizationCodeGrant.Exchange"
	req, err := g.takeRequest(responseState)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if req.IsExpired() {
		return nil, fmt.Errorf("%s: %w", op, ErrExpiredRequest)
	}

	key, err := dpop.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a dpop keypair: %w", op, err)
	}
	client, err := g.provider.Config().HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	client.Transport = &dpop.Transport{Key: key, Base: client.Transport}
	oidcCtx := HttpClientContext(ctx, client)

	oauth2Config := g.oauth2Config()
	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode,
		oauth2.SetAuthURLParam("code_verifier", req.PKCEVerifier().Verifier()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIdToken)
	}
	if err := g.provider.VerifyIdToken(ctx, IdToken(idToken), req.Nonce()); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}

	details, err := NewTokenDetails(oauth2Token, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if g.store != nil {
		if err := g.persistCredentials(ctx, details); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return details, nil
}

// takeRequest removes and returns the tracked Request for the state.
func (g *AuthorizationCodeGrant) takeRequest(state string) (*Request, error) {
	const op = "AuthorizationCodeGrant.takeRequest"
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.requests[state]
	if !ok {
		return nil, fmt.Errorf("%s: no request for state %q: %w", op, state, ErrResponseStateInvalid)
	}
	delete(g.requests, state)
	return req, nil
}

// persistCredentials writes the credential material the refresh token grant
// needs into the store: client details, endpoints and the token/keypair
// material itself.
func (g *AuthorizationCodeGrant) persistCredentials(ctx context.Context, details *TokenDetails) (err error) {
	const op = "AuthorizationCodeGrant.persistCredentials"
	if err := g.store.Init(ctx); err != nil {
		return fmt.Errorf("%s: unable to open credential store: %w", op, err)
	}
	defer func() {
		if closeErr := g.store.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("%s: unable to close credential store: %w", op, closeErr)).ErrorOrNil()
		}
	}()

	keyJson, jsonErr := details.Key.MarshalJSON()
	if jsonErr != nil {
		return fmt.Errorf("%s: unable to serialize dpop keypair: %w", op, jsonErr)
	}
	c := g.provider.Config()
	values := map[string]string{
		storage.KeyClientId:      c.Client.Id,
		storage.KeyClientSecret:  string(c.Client.Secret),
		storage.KeyTokenEndpoint: g.provider.Endpoint().TokenURL,
		storage.KeyDPoPKeyPair:   string(keyJson),
		storage.KeyRefreshToken:  string(details.RefreshToken),
		storage.KeyIdp:           c.Issuer,
		storage.KeyJwksUri:       g.provider.JwksUri(),
	}
	for k, v := range values {
		if v == "" {
			continue
		}
		if setErr := g.store.Set(ctx, k, v); setErr != nil {
			return fmt.Errorf("%s: unable to persist %s: %w", op, k, setErr)
		}
	}
	return nil
}

// oauth2Config builds the oauth2 configuration for the provider and client.
func (g *AuthorizationCodeGrant) oauth2Config() oauth2.Config {
	c := g.provider.Config()
	scopes := strutil.RemoveDuplicatesStable(append(append([]string{}, solidScopes...), c.Scopes...), false)
	return oauth2.Config{
		ClientID:     c.Client.Id,
		ClientSecret: string(c.Client.Secret),
		RedirectURL:  c.Client.RedirectUri,
		Endpoint:     g.provider.Endpoint(),
		Scopes:       scopes,
	}
}
