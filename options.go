package hloc

import (
	"io"
	"log/slog"

	"github.com/hupe1980/hloc/pose"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	workers          int
	rand             pose.Source
	output           io.Writer
}

// Option configures the Localizer constructor.
type Option func(*options)

// WithLogger sets the structured logger. If nil is passed, logging is
// disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel replaces the logger with a text logger at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector sets the metrics sink.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithWorkers overrides Config.Workers, the number of queries processed
// concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithRand sets the random source that seeds RANSAC. Results are
// reproducible for a given source and worker count.
func WithRand(src pose.Source) Option {
	return func(o *options) {
		o.rand = src
	}
}

// WithOutput streams result lines to w in query order as the batch
// progresses. Failed queries produce no line.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
