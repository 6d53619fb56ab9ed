package writebatch

import "github.com/rs/zerolog"

// Option configures a Queue or Manager
type Option func(*options)

type options struct {
	logger zerolog.Logger
	name   string
}

func buildOptions(opts []Option) options {
	o := options{
		logger: zerolog.Nop(),
		name:   "default",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for flush diagnostics
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithName sets the database name used in metric labels and log fields
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}
