package oidc

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

// WithNow provides an optional "now" function for determining the current
// time.  Supported by: Request.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}
