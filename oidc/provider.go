package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	strutil "github.com/uvdsl/solid-oidc-client-go/oidc/internal/strutils"
)

// Provider provides integration with a Solid-OIDC identity provider: issuer
// discovery, id_token verification and optional dynamic client registration.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	metadata providerMetadata

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like refreshing JWKs key sets.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// providerMetadata holds the discovery claims go-oidc does not surface
// directly.
type providerMetadata struct {
	RegistrationEndpoint string `json:"registration_endpoint"`
	JwksUri              string `json:"jwks_uri"`
}

// NewProvider creates and initializes a Provider. Initializing the provider
// includes making an http request to the provider's issuer for discovery.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with its background ctx/cancel allows us to
	// use p.Done() to release any resources when returning errors from this
	// function.
	p := &Provider{
		config:              c,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HttpClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	provider, err := oidc.NewProvider(HttpClientContext(p.backgroundCtx, client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider
	if err := provider.Claims(&p.metadata); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: unable to retrieve discovery metadata: %w", op, err)
	}

	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's config.
func (p *Provider) Config() *Config {
	return p.config
}

// Endpoint returns the provider's discovered oauth2 endpoints.
func (p *Provider) Endpoint() oauth2.Endpoint {
	return p.provider.Endpoint()
}

// JwksUri returns the provider's discovered jwks_uri.
func (p *Provider) JwksUri() string {
	return p.metadata.JwksUri
}

// registrationRequest is the dynamic client registration payload (RFC 7591)
// sent to the provider's registration endpoint.
type registrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectUris            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// registrationResponse is the subset of the registration response the client
// needs.
type registrationResponse struct {
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// RegisterClient performs dynamic client registration against the provider's
// discovered registration endpoint and updates the config's client details
// with the registered client. Providers without a registration endpoint yield
// ErrRegistrationNotSupported.
func (p *Provider) RegisterClient(ctx context.Context, clientName string, redirectUri string) (*ClientDetails, error) {
	const op = "Provider.RegisterClient"
	if redirectUri == "" {
		return nil, fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter)
	}
	p.mu.Lock()
	endpoint := p.metadata.RegistrationEndpoint
	p.mu.Unlock()
	if endpoint == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrRegistrationNotSupported)
	}

	body, err := json.Marshal(registrationRequest{
		ClientName:              clientName,
		RedirectUris:            []string{redirectUri},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to marshal registration request: %w", op, err)
	}

	client, err := p.config.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create registration request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: registration request failed: %w", op, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read registration response: %w", op, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: registration endpoint returned status %d: %w", op, resp.StatusCode, ErrLoginFailed)
	}

	var registered registrationResponse
	if err := json.Unmarshal(respBody, &registered); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal registration response: %w", op, err)
	}
	if registered.ClientId == "" {
		return nil, fmt.Errorf("%s: registration response is missing a client id: %w", op, ErrLoginFailed)
	}

	details := &ClientDetails{
		Id:          registered.ClientId,
		Secret:      ClientSecret(registered.ClientSecret),
		RedirectUri: redirectUri,
	}
	p.mu.Lock()
	p.config.Client = *details
	p.mu.Unlock()
	return details, nil
}

// VerifyIdToken will verify the inbound IdToken. It verifies it's been signed
// by the provider, it validates the nonce, and performs any additional checks
// depending on the provider's config (audiences, etc).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIdToken(ctx context.Context, t IdToken, nonce string) error {
	const op = "Provider.VerifyIdToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if nonce == "" {
		return fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	algs := []string{}
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.Client.Id,
	}
	verifier := p.provider.Verifier(oidcConfig)

	oidcIdToken, err := verifier.Verify(ctx, string(t))
	if err != nil {
		return fmt.Errorf("%s: invalid id_token signature: %w", op, err)
	}

	if oidcIdToken.Nonce != nonce {
		return fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}

	if len(p.config.Audiences) > 0 {
		found := false
		for _, v := range p.config.Audiences {
			if strutil.StrListContains(oidcIdToken.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidParameter)
		}
	}
	return nil
}
