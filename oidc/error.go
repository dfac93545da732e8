package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIdGeneratorFailed          = errors.New("id generation failed")
	ErrExpiredRequest             = errors.New("authentication request is expired")
	ErrResponseStateInvalid       = errors.New("oidc response state is invalid")
	ErrMissingIdToken             = errors.New("id_token is missing")
	ErrMissingAccessToken         = errors.New("access_token is missing")
	ErrMissingRefreshToken        = errors.New("refresh_token is missing")
	ErrMissingClaim               = errors.New("required claim is missing")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrNotFound                   = errors.New("not found")
	ErrLoginFailed                = errors.New("login failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
	ErrRegistrationNotSupported   = errors.New("dynamic client registration is not supported by the provider")
)
