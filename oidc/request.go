package oidc

import (
	"fmt"
	"time"
)

// Request represents one in-flight authorization code flow. It carries the
// data that ties the redirect back to the flow that started it: the state
// parameter, the id_token nonce and the PKCE code verifier. State and nonce
// cannot be equal; both are used to prevent CSRF and replay attacks.
type Request struct {
	// state is a unique identifier and an opaque value used to maintain state
	// between the authorization request and the redirect back.
	state string

	// nonce associates the client session with the issued id_token.
	nonce string

	// verifier is the PKCE code verifier generated for this flow.
	verifier *CodeVerifier

	// expiration is the expiration time for the Request.
	expiration time.Time

	// nowFunc is an optional function that returns the current time.
	nowFunc func() time.Time
}

// NewRequest creates a new authorization code Request with a fresh state,
// nonce and PKCE code verifier.
//
// Supported options: WithNow
func NewRequest(expireIn time.Duration, opt ...Option) (*Request, error) {
	const op = "oidc.NewRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getReqOpts(opt...)
	nonce, err := NewId("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
	}
	state, err := NewId("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a code verifier: %w", op, err)
	}
	r := &Request{
		state:    state,
		nonce:    nonce,
		verifier: verifier,
		nowFunc:  opts.withNowFunc,
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

func (r *Request) State() string                { return r.state }    // State implements the oidc state parameter
func (r *Request) Nonce() string                { return r.nonce }    // Nonce implements the oidc nonce parameter
func (r *Request) PKCEVerifier() *CodeVerifier  { return r.verifier } // PKCEVerifier returns the flow's code verifier

// IsExpired returns true if the request has expired.
func (r *Request) IsExpired() bool {
	return r.expiration.Before(r.now())
}

// now returns the current time using the optional nowFunc.
func (r *Request) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now() // fallback to standard library time
}

// reqOptions is the set of available options for Request functions
type reqOptions struct {
	withNowFunc func() time.Time
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
