package websqlite3

import (
	"log/slog"
	"time"

	"github.com/webquery/websqlite3/internal/clock"
)

// Observer receives a notification after every Query/Execute call
// completes, letting an embedder (e.g. metrics.Collector) record
// duration and outcome without this package depending on any specific
// observability library.
type Observer interface {
	ObserveQuery(op string, elapsed time.Duration, err error)
}

// Options carries construction-time overrides that don't belong in
// the file-loadable Config — the clock seam used by tests, plus
// knobs that only make sense as code, not config-file, values.
type Options struct {
	Clock clock.Clock

	// WorkerCount overrides Config.Workers / the max_size default when
	// non-zero (spec §9 Open Question 3).
	WorkerCount int

	// ShutdownGrace bounds how long Close waits for the Executor's
	// workers to drain in-flight Requests before abandoning them.
	// Defaults to 5 seconds.
	ShutdownGrace time.Duration

	// Logger receives Config.Pool.Echo's per-statement Debug logs.
	// Defaults to slog.Default() when Echo is set and no Logger was
	// supplied.
	Logger *slog.Logger

	// Observer, if set, is notified after every submitted Request
	// completes.
	Observer Observer
}

// Option mutates an Options. The functional-options shape matches the
// one the teacher's core.Option constructors use.
type Option func(*Options)

// WithClock overrides the time source used by the Pool and Executor,
// for deterministic tests of idle/lifetime/deadline behavior.
func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithWorkerCount overrides the number of Executor worker goroutines.
func WithWorkerCount(n int) Option {
	return func(o *Options) { o.WorkerCount = n }
}

// WithShutdownGrace overrides how long Close waits for in-flight
// Requests to drain before abandoning them.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Options) { o.ShutdownGrace = d }
}

// WithLogger sets the logger Config.Pool.Echo writes per-statement
// Debug records to.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithObserver registers an Observer to be notified after every
// submitted Request completes.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}
