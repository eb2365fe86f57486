package api

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posture_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posture_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posture_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Backoff defaults.
const (
	// DefaultMaxRetries is the attempt ceiling per page request.
	DefaultMaxRetries = 5

	// DefaultDelayShift sets the base delay: 2^(attempt+shift) milliseconds,
	// so attempts back off 1s, 2s, 4s, 8s, 16s before jitter.
	DefaultDelayShift = 10

	// DefaultMaxDelay caps a single backoff sleep.
	DefaultMaxDelay = 60 * time.Second

	// jitterFraction is the maximum extra delay added on top of the
	// exponential base, as a fraction of it.
	jitterFraction = 0.10
)

// BackoffConfig tunes the retry gate. Zero values select defaults.
type BackoffConfig struct {
	// MaxRetries is the attempt ceiling.
	MaxRetries int

	// DelayShift sets the base delay to 2^(attempt+DelayShift) ms.
	DelayShift uint

	// MaxDelay caps a single sleep.
	MaxDelay time.Duration
}

// Backoff converts transient failure signals (429, 5xx, timeouts) into a
// sleep-then-retry decision with exponential growth and jitter. One
// instance is shared by all workers; only the jitter RNG is guarded, so
// concurrent callers sleep independently and outbound requests are never
// serialized here.
type Backoff struct {
	maxRetries int
	shift      uint
	maxDelay   time.Duration
	logger     zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a backoff gate with the given attempt ceiling and
// default delays. maxRetries <= 0 selects the default.
func NewBackoff(maxRetries int) *Backoff {
	return NewBackoffWithConfig(BackoffConfig{MaxRetries: maxRetries})
}

// NewBackoffWithConfig creates a backoff gate from an explicit config.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.DelayShift == 0 {
		cfg.DelayShift = DefaultDelayShift
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	return &Backoff{
		maxRetries: cfg.MaxRetries,
		shift:      cfg.DelayShift,
		maxDelay:   cfg.MaxDelay,
		logger:     log.With().Str("component", "backoff").Logger(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MaxRetries returns the configured attempt ceiling.
func (b *Backoff) MaxRetries() int {
	return b.maxRetries
}

// ShouldRetry reports whether a request that has already been attempted
// `attempt` times (1-based) may be retried, sleeping the backoff delay
// before returning true. Returns false immediately once the attempt
// ceiling is reached or the context is cancelled.
func (b *Backoff) ShouldRetry(ctx context.Context, attempt int, class ErrorClass) bool {
	if attempt >= b.maxRetries {
		retryExhaustedTotal.WithLabelValues(string(class)).Inc()
		b.logger.Warn().
			Str("error_class", string(class)).
			Int("max_retries", b.maxRetries).
			Msg("Retry attempts exhausted")
		return false
	}

	delay := b.delay(attempt)
	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

	b.logger.Debug().
		Str("error_class", string(class)).
		Int("attempt", attempt).
		Dur("backoff", delay).
		Msg("Backing off before retry")

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// delay computes 2^(attempt+shift) milliseconds plus up to 10% jitter,
// capped at maxDelay.
func (b *Backoff) delay(attempt int) time.Duration {
	base := time.Duration(1<<(uint(attempt)+b.shift)) * time.Millisecond
	if base > b.maxDelay {
		base = b.maxDelay
	}

	b.mu.Lock()
	j := b.rng.Float64()
	b.mu.Unlock()

	d := base + time.Duration(float64(base)*jitterFraction*j)
	if d > b.maxDelay {
		d = b.maxDelay
	}
	return d
}
