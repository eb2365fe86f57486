// Package pool runs independent sub-queries under a bounded worker pool
// with a minimum inter-request spacing per worker slot.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Defaults per coordinator role.
const (
	// DefaultAccountWorkers bounds the outer fan-out over accounts.
	DefaultAccountWorkers = 5

	// DefaultServiceWorkers bounds the inner fan-out over partitions
	// within one account.
	DefaultServiceWorkers = 10

	// DefaultSpacing is the minimum delay between requests issued from
	// one worker slot, applied even before any 429 is observed.
	DefaultSpacing = 50 * time.Millisecond
)

// Coordinator is a reusable bounded worker pool configuration. Two nested
// instances run in this tool: an outer one fanning out accounts and an
// inner one fanning out partitions, so total in-flight requests approach
// outer width x inner width.
type Coordinator struct {
	width   int
	spacing time.Duration
	logger  zerolog.Logger
}

// New creates a coordinator. Non-positive width or spacing select the
// service-level defaults.
func New(width int, spacing time.Duration) *Coordinator {
	if width <= 0 {
		width = DefaultServiceWorkers
	}
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	return &Coordinator{
		width:   width,
		spacing: spacing,
		logger:  log.With().Str("component", "pool").Logger(),
	}
}

// Width returns the worker count.
func (c *Coordinator) Width() int {
	return c.width
}

// Result pairs one task's outcome with its input position.
type Result[T any] struct {
	Value T
	Err   error
}

// Run executes tasks under the coordinator's width and spacing, returning
// results positionally aligned with tasks. Each outcome is collected
// independently: one task's error never cancels its siblings. Context
// cancellation stops workers picking up new tasks; unstarted tasks report
// the context error.
func Run[T any](ctx context.Context, c *Coordinator, tasks []func(context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	width := c.width
	if width > len(tasks) {
		width = len(tasks)
	}

	queue := make(chan int, len(tasks))
	for i := range tasks {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < width; w++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			// One limiter per slot keeps request spacing local to the
			// worker instead of serializing the whole pool.
			limiter := rate.NewLimiter(rate.Every(c.spacing), 1)

			for idx := range queue {
				if err := limiter.Wait(ctx); err != nil {
					results[idx] = Result[T]{Err: ctx.Err()}
					continue
				}

				value, err := tasks[idx](ctx)
				results[idx] = Result[T]{Value: value, Err: err}
				if err != nil {
					c.logger.Debug().
						Int("slot", slot).
						Int("task", idx).
						Err(err).
						Msg("Task failed, siblings unaffected")
				}
			}
		}(w)
	}
	wg.Wait()

	return results
}
