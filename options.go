package certd

import (
	"os"
	"time"

	"github.com/caasmo/certd/metrics"
)

type options struct {
	history Writer
	metrics *metrics.Metrics
	now     func() time.Time
	environ func() []string
}

// Option configures a Pipeline or a Daemon.
type Option func(*options)

// WithHistory records every issued certificate in w.
func WithHistory(w Writer) Option {
	return func(o *options) { o.history = w }
}

// WithMetrics reports pass and renewal outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEnviron replaces os.Environ as the source of cert_<name> definitions.
func WithEnviron(environ func() []string) Option {
	return func(o *options) { o.environ = environ }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, environ: os.Environ}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
