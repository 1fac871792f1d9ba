package cog

import "github.com/jasonmoo/cog/internal/logging"

// facadeOptions collects the construction-time knobs shared by Client,
// Worker, and Admin, replacing spec.md §9's "global mutable logging
// state" design note with an explicit, per-instance option passed at
// construction.
type facadeOptions struct {
	log     logging.Sink
	encoder DataEncoder
}

func defaultFacadeOptions() facadeOptions {
	return facadeOptions{log: logging.NewNoop(), encoder: DefaultEncoder()}
}

// Option configures a Client, Worker, or Admin at construction time.
type Option func(*facadeOptions)

// WithLogger installs a structured event sink. The zero value logs
// nothing.
func WithLogger(sink logging.Sink) Option {
	return func(o *facadeOptions) {
		if sink != nil {
			o.log = sink
		}
	}
}

// WithEncoder installs a non-default payload codec. The zero value is the
// identity codec on opaque byte strings.
func WithEncoder(enc DataEncoder) Option {
	return func(o *facadeOptions) {
		if enc != nil {
			o.encoder = enc
		}
	}
}
