package refresher

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// refresherOptions is the set of available options shared by Hub and
// Refresher constructors.
type refresherOptions struct {
	withLogger  hclog.Logger
	withNowFunc func() time.Time
}

// refresherDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func refresherDefaults() refresherOptions {
	return refresherOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getRefresherOpts gets the defaults and applies the opt overrides passed in
func getRefresherOpts(opt ...Option) refresherOptions {
	opts := refresherDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*refresherOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional "now" function for determining the current
// time, used when deciding whether cached tokens are still valid.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*refresherOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}
