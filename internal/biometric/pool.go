package biometric

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"time"
)

// DefaultTimeout bounds one capture's detection and embedding.
const DefaultTimeout = 20 * time.Second

// Pool bounds how many captures are processed at once and how long each may take.
type Pool struct {
	slots   chan struct{}
	timeout time.Duration
}

// NewPool creates a pool. Non-positive workers default to the CPU count and a
// non-positive timeout to DefaultTimeout.
func NewPool(workers int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pool{slots: make(chan struct{}, workers), timeout: timeout}
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return cap(p.slots)
}

// Timeout returns the per-job budget.
func (p *Pool) Timeout() time.Duration {
	return p.timeout
}

// Run executes fn on the pool. Waiting for a slot and running fn both count
// against ctx; fn additionally gets the pool timeout. When the budget runs out
// Run returns a timeout error immediately, while the slot stays occupied until
// fn actually returns so abandoned work still counts against the bound.
func Run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, timeoutError(ctx.Err())
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-p.slots }()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: face pipeline panicked: %v", r)
				done <- result{err: newError(KindEncoding, ReasonEncodingFailed, fmt.Errorf("panic: %v", r))}
			}
		}()
		v, err := fn(jobCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && (errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled)) {
			var be *Error
			if !errors.As(r.err, &be) {
				return zero, timeoutError(r.err)
			}
		}
		return r.value, r.err
	case <-jobCtx.Done():
		return zero, timeoutError(jobCtx.Err())
	}
}
