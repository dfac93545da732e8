package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/uvdsl/solid-oidc-client-go/dpop"
)

// TestSignJWT will bundle the provided claim sets into a test signed JWT,
// using a throwaway ES256 key.
func TestSignJWT(t *testing.T, claims ...interface{}) string {
	t.Helper()
	require := require.New(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	builder := jwt.Signed(sig)
	for _, c := range claims {
		builder = builder.Claims(c)
	}
	raw, err := builder.Serialize()
	require.NoError(err)
	return raw
}

// TestAccessToken mints a Solid-OIDC access token carrying the webid and exp
// claims the session layer derives its state from.
func TestAccessToken(t *testing.T, webId string, expiresAt time.Time) AccessToken {
	t.Helper()
	return AccessToken(TestSignJWT(t, map[string]interface{}{
		"webid": webId,
		"sub":   webId,
		"exp":   expiresAt.Unix(),
	}))
}

// TestTokenDetails mints a complete token bundle bound to a fresh DPoP
// keypair, expiring after lifetime.
func TestTokenDetails(t *testing.T, webId string, lifetime time.Duration) *TokenDetails {
	t.Helper()
	require := require.New(t)
	key, err := dpop.NewKeyPair()
	require.NoError(err)
	return &TokenDetails{
		AccessToken:  TestAccessToken(t, webId, time.Now().Add(lifetime)),
		RefreshToken: "test-refresh-token",
		TokenType:    "DPoP",
		ExpiresIn:    lifetime,
		Key:          key,
	}
}
