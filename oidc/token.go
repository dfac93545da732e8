package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/uvdsl/solid-oidc-client-go/dpop"
)

// TokenDetails is the credential bundle obtained from a token endpoint. It is
// immutable once issued: a refresh supersedes the whole bundle, individual
// fields are never rewritten.
type TokenDetails struct {
	// AccessToken is a DPoP-bound JWT access token.
	AccessToken AccessToken

	// RefreshToken is optional; only issued when offline_access was granted.
	RefreshToken RefreshToken

	// IdToken is the optional oidc id_token.
	IdToken IdToken

	// TokenType as reported by the token endpoint, typically "DPoP".
	TokenType string

	// ExpiresIn is the token lifetime relative to issuance, as reported by
	// the token endpoint. The refresher derives its timer schedule from it.
	ExpiresIn time.Duration

	// Key is the DPoP keypair the access token is bound to.
	Key *dpop.KeyPair
}

// Valid reports whether the details carry an access token at all. It says
// nothing about expiry, which is tracked via the access token's exp claim.
func (t *TokenDetails) Valid() bool {
	return t != nil && t.AccessToken != ""
}

// NewTokenDetails builds a TokenDetails bundle from an oauth2 token endpoint
// response and the DPoP keypair it is bound to.
func NewTokenDetails(t *oauth2.Token, key *dpop.KeyPair) (*TokenDetails, error) {
	const op = "oidc.NewTokenDetails"
	if t == nil {
		return nil, fmt.Errorf("%s: oauth2 token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}
	details := &TokenDetails{
		AccessToken:  AccessToken(t.AccessToken),
		RefreshToken: RefreshToken(t.RefreshToken),
		TokenType:    t.TokenType,
		Key:          key,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		details.IdToken = IdToken(idToken)
	}
	if !t.Expiry.IsZero() {
		details.ExpiresIn = time.Until(t.Expiry).Round(time.Second)
	}
	return details, nil
}

// AccessToken is a DPoP-bound JWT access token. Resource servers accept it
// only together with a proof signed by the keypair it is bound to. String and
// MarshalJSON redact it so it cannot leak through logs.
type AccessToken string

// RedactedAccessToken is the redacted string or json for an access_token
const RedactedAccessToken = "[REDACTED: access_token]"

func (t AccessToken) String() string {
	return RedactedAccessToken
}

func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is the long-lived credential the coordinator trades for fresh
// access tokens. It is persisted in the credential store and rotated on every
// refresh. String and MarshalJSON redact it.
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for a refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IdToken is the oidc id_token issued alongside the access token during the
// code exchange; the provider verifies its signature and nonce before the
// session accepts the bundle. String and MarshalJSON redact it.
type IdToken string

// RedactedIdToken is the redacted string or json for an id_token
const RedactedIdToken = "[REDACTED: id_token]"

func (t IdToken) String() string {
	return RedactedIdToken
}

func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims unpacks the id_token's claims without verifying its signature.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}
