package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

// S256 is the only challenge method supported: base64url(sha256(verifier))
const S256 ChallengeMethod = "S256"

// verifierLen is the length of the generated code verifier: 32 bytes of
// entropy, base64url encoded without padding.
const verifierLen = 43

// CodeVerifier represents an oauth PKCE code verifier as defined by RFC 7636.
// It holds the verifier secret, the challenge method and the derived
// challenge sent with the authorization request.
type CodeVerifier struct {
	verifier  string
	method    ChallengeMethod
	challenge string
}

// NewCodeVerifier creates a new CodeVerifier with a cryptographically random
// verifier and an S256 challenge derived from it.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		return nil, fmt.Errorf("%s: unable to generate verifier entropy: %w", op, err)
	}
	v := &CodeVerifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   S256,
	}
	var err error
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func (v *CodeVerifier) Verifier() string         { return v.verifier }  // Verifier returns the verifier secret
func (v *CodeVerifier) Method() ChallengeMethod  { return v.method }    // Method returns the challenge method
func (v *CodeVerifier) Challenge() string        { return v.challenge } // Challenge returns the derived challenge

// CreateCodeChallenge derives the code challenge from a verifier. Only the
// S256 method is supported.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	if method != S256 {
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	sum := sha256.Sum256([]byte(v.verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
