package table

import "context"

// SerialExecutor is the single-writer mutex held exclusively by whichever
// goroutine is currently allowed to mutate a table: appending to its
// memtable, advancing last_sequence, scheduling a flush, or altering its
// schema. Acquisition is asynchronous (it can be cancelled via context) and
// fair: Go's runtime queues blocked channel receivers in the order they
// started waiting, so waiters are served FIFO.
type SerialExecutor struct {
	ticket chan struct{}
}

// NewSerialExecutor returns an executor with its single ticket available.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{ticket: make(chan struct{}, 1)}
	e.ticket <- struct{}{}
	return e
}

// Acquire blocks until the executor is held, or ctx is done.
func (e *SerialExecutor) Acquire(ctx context.Context) error {
	select {
	case <-e.ticket:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the ticket. Calling Release without a matching Acquire is
// a programmer error; it is intentionally not guarded against because the
// executor is always used through WithExecutor or a well-scoped
// Acquire/defer Release pair.
func (e *SerialExecutor) Release() {
	e.ticket <- struct{}{}
}

// WithExecutor acquires e, runs fn, and releases e regardless of fn's
// outcome. It is the call shape every replay and live-write path should use.
func WithExecutor(ctx context.Context, e *SerialExecutor, fn func() error) error {
	if err := e.Acquire(ctx); err != nil {
		return err
	}
	defer e.Release()
	return fn()
}
