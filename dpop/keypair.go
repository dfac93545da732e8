package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// KeyPair is an asymmetric keypair access tokens are bound to. The private
// key never leaves the pair except through MarshalJSON, which the storage
// layer uses to persist the pair in the credential store.
type KeyPair struct {
	privateKey *ecdsa.PrivateKey
	jwk        jose.JSONWebKey
}

// NewKeyPair generates a new ECDSA P-256 keypair with its key id set to the
// public key's thumbprint.
func NewKeyPair() (*KeyPair, error) {
	const op = "dpop.NewKeyPair"
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate keypair: %w", op, ErrKeyGenerationFailed)
	}
	k := &KeyPair{
		privateKey: privateKey,
		jwk: jose.JSONWebKey{
			Key:       privateKey,
			Algorithm: string(jose.ES256),
			Use:       "sig",
		},
	}
	thumbprint, err := k.Thumbprint()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	k.jwk.KeyID = thumbprint
	return k, nil
}

// PublicJWK returns the public half of the keypair, suitable for embedding in
// a proof's jwk header.
func (k *KeyPair) PublicJWK() jose.JSONWebKey {
	return k.jwk.Public()
}

// Thumbprint returns the base64url-encoded SHA-256 JWK thumbprint of the
// public key (RFC 7638). Token endpoints bind access tokens to this value via
// the cnf.jkt claim.
func (k *KeyPair) Thumbprint() (string, error) {
	const op = "KeyPair.Thumbprint"
	pub := k.jwk.Public()
	tp, err := pub.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%s: unable to compute thumbprint: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// MarshalJSON serializes the keypair as a private JWK for persistence in the
// credential store.
func (k *KeyPair) MarshalJSON() ([]byte, error) {
	return k.jwk.MarshalJSON()
}

// UnmarshalKeyPair restores a keypair previously serialized with MarshalJSON.
func UnmarshalKeyPair(data []byte) (*KeyPair, error) {
	const op = "dpop.UnmarshalKeyPair"
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal jwk: %w", op, err)
	}
	privateKey, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: jwk does not hold an ecdsa private key: %w", op, ErrInvalidKey)
	}
	return &KeyPair{
		privateKey: privateKey,
		jwk:        jwk,
	}, nil
}
