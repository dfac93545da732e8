package session

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/uvdsl/solid-oidc-client-go/oidc"
	"github.com/uvdsl/solid-oidc-client-go/storage"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// sessionOptions is the set of available options for New
type sessionOptions struct {
	withLogger        hclog.Logger
	withStore         storage.Store
	withNowFunc       func() time.Time
	withHttpClient    *http.Client
	withClientDetails oidc.ClientDetails
	withIdp           string
}

// sessionDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func sessionDefaults() sessionOptions {
	return sessionOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getSessionOpts gets the session defaults and applies the opt overrides
// passed in.
func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the session.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithCredentialStore provides the persistent credential store backing
// Restore and cleared by Logout. Sessions without one cannot be restored.
func WithCredentialStore(s storage.Store) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withStore = s
		}
	}
}

// WithNow provides an optional "now" function for determining the current
// time, used when checking the local token expiry.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithHttpClient provides the base http client Fetch delegates to.
func WithHttpClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok && c != nil {
			o.withHttpClient = c
		}
	}
}

// WithClientDetails seeds the session's client metadata. Dereferenceable
// client details (an absolute-URI client id) survive logout.
func WithClientDetails(c oidc.ClientDetails) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withClientDetails = c
		}
	}
}

// WithIdp seeds the session's identity provider metadata.
func WithIdp(idp string) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withIdp = idp
		}
	}
}
