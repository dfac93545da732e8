package dpop

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseProof verifies a proof against the embedded jwk header and returns its
// claims together with the header.
func parseProof(t *testing.T, proof string) (proofClaims, jose.Header) {
	t.Helper()
	require := require.New(t)
	parsed, err := jwt.ParseSigned(proof, []jose.SignatureAlgorithm{jose.ES256})
	require.NoError(err)
	require.Len(parsed.Headers, 1)
	header := parsed.Headers[0]
	require.NotNil(header.JSONWebKey)

	var claims proofClaims
	require.NoError(parsed.Claims(header.JSONWebKey, &claims))
	return claims, header
}

func TestNewKeyPair(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	k, err := NewKeyPair()
	require.NoError(err)
	require.NotNil(k)

	tp, err := k.Thumbprint()
	require.NoError(err)
	assert.NotEmpty(tp)

	pub := k.PublicJWK()
	assert.Equal(tp, pub.KeyID)
	assert.True(pub.IsPublic())
}

func TestKeyPair_MarshalRoundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	k, err := NewKeyPair()
	require.NoError(err)

	data, err := json.Marshal(k)
	require.NoError(err)

	restored, err := UnmarshalKeyPair(data)
	require.NoError(err)

	tp, err := k.Thumbprint()
	require.NoError(err)
	restoredTp, err := restored.Thumbprint()
	require.NoError(err)
	assert.Equal(tp, restoredTp)

	// the restored key must still be able to sign
	_, err = restored.Proof(http.MethodGet, "https://pod.example/resource")
	require.NoError(err)
}

func TestUnmarshalKeyPair_InvalidKey(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	k, err := UnmarshalKeyPair([]byte(`{"kty":"oct","k":"c2VjcmV0"}`))
	require.Error(err)
	assert.Nil(k)
}

func TestKeyPair_Proof(t *testing.T) {
	t.Parallel()

	t.Run("claims", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := NewKeyPair()
		require.NoError(err)

		now := time.Now()
		proof, err := k.Proof("get", "https://pod.example/container/resource?version=2#frag",
			WithProofNow(func() time.Time { return now }),
		)
		require.NoError(err)

		claims, header := parseProof(t, proof)
		assert.Equal(ProofHeaderType, header.ExtraHeaders[jose.HeaderType])
		assert.NotEmpty(claims.ID)
		assert.Equal("GET", claims.Method)
		// htu is stripped of query and fragment
		assert.Equal("https://pod.example/container/resource", claims.URI)
		assert.Equal(now.Unix(), claims.IssuedAt)
		assert.Empty(claims.Hash)
		assert.Empty(claims.Nonce)
	})
	t.Run("ath-from-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := NewKeyPair()
		require.NoError(err)

		proof, err := k.Proof(http.MethodPost, "https://pod.example/inbox", WithAccessToken("some-access-token"))
		require.NoError(err)
		claims, _ := parseProof(t, proof)
		assert.Equal(AccessTokenHash("some-access-token"), claims.Hash)
	})
	t.Run("ath-precomputed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := NewKeyPair()
		require.NoError(err)

		proof, err := k.Proof(http.MethodGet, "https://pod.example/resource", WithAccessTokenHash("precomputed"))
		require.NoError(err)
		claims, _ := parseProof(t, proof)
		assert.Equal("precomputed", claims.Hash)
	})
	t.Run("nonce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := NewKeyPair()
		require.NoError(err)

		proof, err := k.Proof(http.MethodGet, "https://pod.example/resource", WithNonce("server-nonce"))
		require.NoError(err)
		claims, _ := parseProof(t, proof)
		assert.Equal("server-nonce", claims.Nonce)
	})
	t.Run("unique-jti", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := NewKeyPair()
		require.NoError(err)

		first, err := k.Proof(http.MethodGet, "https://pod.example/resource")
		require.NoError(err)
		second, err := k.Proof(http.MethodGet, "https://pod.example/resource")
		require.NoError(err)
		firstClaims, _ := parseProof(t, first)
		secondClaims, _ := parseProof(t, second)
		assert.NotEqual(firstClaims.ID, secondClaims.ID)
	})
	t.Run("missing-method", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := NewKeyPair()
		require.NoError(err)
		_, err = k.Proof("", "https://pod.example/resource")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestTransport(t *testing.T) {
	t.Parallel()

	t.Run("proof-only", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var gotProof, gotAuthorization string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			gotProof = req.Header.Get("DPoP")
			gotAuthorization = req.Header.Get("Authorization")
		}))
		defer srv.Close()

		k, err := NewKeyPair()
		require.NoError(err)
		resp, err := Client(k).Get(srv.URL + "/token")
		require.NoError(err)
		defer resp.Body.Close()

		claims, _ := parseProof(t, gotProof)
		assert.Equal("GET", claims.Method)
		assert.Empty(claims.Hash)
		assert.Empty(gotAuthorization)
	})
	t.Run("token-bound", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var gotProof, gotAuthorization string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			gotProof = req.Header.Get("DPoP")
			gotAuthorization = req.Header.Get("Authorization")
		}))
		defer srv.Close()

		k, err := NewKeyPair()
		require.NoError(err)
		client := &http.Client{Transport: &Transport{Key: k, AccessToken: "some-access-token"}}
		resp, err := client.Get(srv.URL + "/resource")
		require.NoError(err)
		defer resp.Body.Close()

		assert.Equal("DPoP some-access-token", gotAuthorization)
		claims, _ := parseProof(t, gotProof)
		assert.Equal(AccessTokenHash("some-access-token"), claims.Hash)
	})
	t.Run("missing-key", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		client := &http.Client{Transport: &Transport{}}
		_, err := client.Get("https://pod.example/resource")
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
	})
}
