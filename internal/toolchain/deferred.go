package toolchain

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Deferred is a value that is computed on first demand. Concurrent readers share a single
// computation and, once it has completed, every later read returns the same result.
type Deferred struct {
	compute func(ctx context.Context) (string, error)
	// retryable errors are returned without being remembered.
	retryable func(err error) bool

	group singleflight.Group

	mu       sync.Mutex
	realized bool
	value    string
	err      error
}

func newDeferred(compute func(ctx context.Context) (string, error), retryable func(error) bool) *Deferred {
	return &Deferred{compute: compute, retryable: retryable}
}

// Get returns the value, computing it if this is the first read. A computation runs with the context
// of the reader that started it. Readers that joined it, and whose own context is still live, start
// a new computation when it is abandoned because that context was cancelled.
func (d *Deferred) Get(ctx context.Context) (string, error) {
	for {
		if v, ok, err := d.load(); ok {
			return v, err
		}

		var led bool
		v, err, _ := d.group.Do("", func() (any, error) {
			led = true
			// A previous flight may have completed between load and Do.
			if v, ok, err := d.load(); ok {
				return v, err
			}

			v, err := d.compute(ctx)
			if err != nil && d.retryable != nil && d.retryable(err) {
				return "", err
			}

			d.mu.Lock()
			defer d.mu.Unlock()
			d.realized, d.value, d.err = true, v, err
			return v, err
		})
		if !led && ctx.Err() == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			continue
		}
		return v.(string), err
	}
}

// Realized reports whether the value has been computed.
func (d *Deferred) Realized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.realized
}

func (d *Deferred) load() (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.realized, d.err
}
