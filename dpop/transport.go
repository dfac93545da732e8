package dpop

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// Transport is an http.RoundTripper that signs a fresh DPoP proof for every
// outgoing request. When an access token is set, the proof is bound to it via
// the ath claim and the request additionally carries an
// "Authorization: DPoP <token>" header; otherwise only the proof is attached
// (the shape token endpoints expect during a grant).
type Transport struct {
	// Key signs the proofs. Required.
	Key *KeyPair

	// AccessToken, when non-empty, is sent in the Authorization header and
	// bound into each proof.
	AccessToken string

	// Base is the underlying round tripper; http.DefaultTransport when nil.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper. The request is cloned before
// headers are attached.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	const op = "dpop.Transport.RoundTrip"
	if t.Key == nil {
		return nil, fmt.Errorf("%s: transport has no keypair: %w", op, ErrNilParameter)
	}
	proofOpts := []Option{}
	if t.AccessToken != "" {
		proofOpts = append(proofOpts, WithAccessToken(t.AccessToken))
	}
	proof, err := t.Key.Proof(req.Method, req.URL.String(), proofOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("DPoP", proof)
	if t.AccessToken != "" {
		clone.Header.Set("Authorization", "DPoP "+t.AccessToken)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// Client returns an http.Client whose requests carry DPoP proofs signed by
// key. The base transport is a pooled cleanhttp transport.
func Client(key *KeyPair) *http.Client {
	return &http.Client{
		Transport: &Transport{
			Key:  key,
			Base: cleanhttp.DefaultPooledTransport(),
		},
	}
}
