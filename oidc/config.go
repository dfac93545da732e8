package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	strutil "github.com/uvdsl/solid-oidc-client-go/oidc/internal/strutils"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// ClientDetails identifies the relying party at the provider. For Solid
// clients the Id is commonly a dereferenceable URI (a public client
// identifier document) and no secret is used; clients obtained via dynamic
// registration carry a provider-assigned opaque Id instead.
type ClientDetails struct {
	// Id is the relying party id
	Id string

	// Secret is the relying party secret; empty for public clients
	Secret ClientSecret

	// RedirectUri is the uri the provider redirects back to after
	// authentication/authorization completes
	RedirectUri string
}

// IsDereferenceable reports whether the client id parses as an absolute URI,
// i.e. whether it identifies a public client identifier document. Session
// logout preserves such client details across the teardown.
func (c ClientDetails) IsDereferenceable() bool {
	u, err := url.Parse(c.Id)
	return err == nil && u.IsAbs() && u.Host != ""
}

// Config represents the configuration for the Solid-OIDC grants against a
// single provider.
type Config struct {
	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// Client identifies the relying party. Client.Id may be empty when the
	// provider supports dynamic registration; see Provider.RegisterClient.
	Client ClientDetails

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid", "offline_access" and "webid" scopes are
	// requested by default and need not be part of this optional list.
	Scopes []string

	// SupportedSigningAlgs is a list of supported signing algorithms. List of
	// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512,
	// PS256, PS384, PS512
	SupportedSigningAlgs []Alg

	// Audiences is a list of optional case-sensitive strings used when
	// verifying an id_token's "aud" claim
	Audiences []string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// Logger is an optional logger
	Logger hclog.Logger
}

// NewConfig composes a new config for a provider. SupportedSigningAlgs
// defaults to RS256 and ES256 when none are provided.
//
// Supported options: WithConfigScopes, WithConfigAudiences, WithProviderCA,
// WithSigningAlgs, WithLogger
func NewConfig(issuer string, client ClientDetails, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		Client:               client,
		Scopes:               strutil.RemoveDuplicatesStable(opts.withScopes, false),
		SupportedSigningAlgs: opts.withSigningAlgs,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
		Logger:               opts.withLogger,
	}
	if len(c.SupportedSigningAlgs) == 0 {
		c.SupportedSigningAlgs = []Alg{RS256, ES256}
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	if !strutil.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s schema is not http or https: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	if c.Client.RedirectUri != "" {
		if _, err := url.Parse(c.Client.RedirectUri); err != nil {
			return fmt.Errorf("%s: redirect uri %s is invalid: %w", op, c.Client.RedirectUri, ErrInvalidParameter)
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		return fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrInvalidParameter)
		}
	}
	return nil
}

// HttpClient is a helper function that creates a new pooled http client for
// the provider configured, trusting the optional ProviderCA when set.
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options for Config functions
type configOptions struct {
	withScopes      []string
	withAudiences   []string
	withProviderCA  string
	withSigningAlgs []Alg
	withLogger      hclog.Logger
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the config defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithConfigScopes provides an optional list of scopes for the provider's
// config
func WithConfigScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithConfigAudiences provides an optional list of audiences for the
// provider's config
func WithConfigAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithSigningAlgs provides an optional list of signing algorithms for the
// provider's config
func WithSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSigningAlgs = algs
		}
	}
}

// WithLogger provides an optional logger for the provider's config
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}
