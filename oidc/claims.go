package oidc

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
)

// UnmarshalClaims will retrieve the claims from the raw JWT provided. The
// signature is not verified; callers that need a verified token must verify it
// separately (for id_tokens the authorization code grant does this as part of
// the exchange).
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parsed, err := jwt.ParseSigned(rawToken, supportedJoseAlgorithms())
	if err != nil {
		return fmt.Errorf("%s: unable to parse jwt: %w", op, err)
	}
	if err := parsed.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("%s: unable to retrieve claims: %w", op, err)
	}
	return nil
}

// AccessTokenClaims are the claims of a Solid-OIDC access token the session
// layer cares about: the authenticated WebID and the token's expiry.
type AccessTokenClaims struct {
	WebID    string `json:"webid"`
	Subject  string `json:"sub"`
	Issuer   string `json:"iss"`
	ClientID string `json:"client_id"`
	Expiry   int64  `json:"exp"`
}

// ExpiresAt returns the exp claim as an absolute time.
func (c *AccessTokenClaims) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0)
}

// ParseAccessTokenClaims decodes the claims of an access token without
// verifying its signature. It requires the webid and exp claims to be present,
// since the session state machine is derived entirely from them.
func ParseAccessTokenClaims(t AccessToken) (*AccessTokenClaims, error) {
	const op = "oidc.ParseAccessTokenClaims"
	if t == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrMissingAccessToken)
	}
	var claims AccessTokenClaims
	if err := UnmarshalClaims(string(t), &claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if claims.WebID == "" {
		return nil, fmt.Errorf("%s: webid claim is missing: %w", op, ErrMissingClaim)
	}
	if claims.Expiry == 0 {
		return nil, fmt.Errorf("%s: exp claim is missing: %w", op, ErrMissingClaim)
	}
	return &claims, nil
}
