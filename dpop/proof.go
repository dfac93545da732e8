package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
)

// ProofHeaderType is the typ header value of a DPoP proof JWT.
const ProofHeaderType = "dpop+jwt"

// proofClaims is the claim set of a DPoP proof (RFC 9449 §4.2).
type proofClaims struct {
	ID       string `json:"jti"`
	Method   string `json:"htm"`
	URI      string `json:"htu"`
	IssuedAt int64  `json:"iat"`
	Hash     string `json:"ath,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// Proof creates a signed proof JWT for the given HTTP method and uri. The
// proof carries the public key in its jwk header; the uri is normalized to
// scheme, host and path before signing.
//
// Supported options: WithAccessToken, WithNonce, WithProofNow
func (k *KeyPair) Proof(httpMethod string, httpUri string, opt ...Option) (string, error) {
	const op = "KeyPair.Proof"
	if k == nil || k.privateKey == nil {
		return "", fmt.Errorf("%s: keypair is missing its private key: %w", op, ErrNilParameter)
	}
	if httpMethod == "" || httpUri == "" {
		return "", fmt.Errorf("%s: http method or uri is empty: %w", op, ErrInvalidParameter)
	}
	opts := getProofOpts(opt...)
	now := time.Now
	if opts.withNowFunc != nil {
		now = opts.withNowFunc
	}
	htu, err := normalizeUri(httpUri)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	jti, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate proof id: %w", op, err)
	}
	claims := proofClaims{
		ID:       jti,
		Method:   strings.ToUpper(httpMethod),
		URI:      htu,
		IssuedAt: now().Unix(),
		Nonce:    opts.withNonce,
	}
	switch {
	case opts.withAccessTokenHash != "":
		claims.Hash = opts.withAccessTokenHash
	case opts.withAccessToken != "":
		claims.Hash = AccessTokenHash(opts.withAccessToken)
	}

	sOpts := &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"jwk": k.PublicJWK(),
		},
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: k.privateKey},
		sOpts.WithType(ProofHeaderType),
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize proof: %w", op, err)
	}
	return proof, nil
}

// AccessTokenHash computes the ath claim value for an access token:
// base64url(sha256(token)).
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// normalizeUri strips query and fragment from the uri, per the htu claim
// definition.
func normalizeUri(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unable to parse uri %q: %w", raw, ErrInvalidParameter)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
