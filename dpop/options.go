package dpop

import "time"

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// proofOptions is the set of available options for KeyPair.Proof
type proofOptions struct {
	withAccessToken     string
	withAccessTokenHash string
	withNonce           string
	withNowFunc         func() time.Time
}

// proofDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func proofDefaults() proofOptions {
	return proofOptions{}
}

// getProofOpts gets the proof defaults and applies the opt overrides passed in
func getProofOpts(opt ...Option) proofOptions {
	opts := proofDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAccessToken binds the proof to a specific access token by including its
// hash as the ath claim.
func WithAccessToken(accessToken string) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok {
			o.withAccessToken = accessToken
		}
	}
}

// WithAccessTokenHash binds the proof to an access token via an already
// computed ath value, saving the hash when the caller tracks it anyway.
func WithAccessTokenHash(hash string) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok {
			o.withAccessTokenHash = hash
		}
	}
}

// WithNonce includes a server-provided nonce claim in the proof (sent by
// authorization servers via the DPoP-Nonce response header).
func WithNonce(nonce string) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok {
			o.withNonce = nonce
		}
	}
}

// WithProofNow provides an optional "now" function for determining the
// proof's iat claim.
func WithProofNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok {
			o.withNowFunc = now
		}
	}
}
