package spooler

import (
	"context"
	"errors"
	"sync"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

var ErrExecutorClosed = errors.New("spooler executor closed")

type call struct {
	ctx context.Context
	fn  func(ctx context.Context)
}

// Executor runs every call into the wrapped Spooler on one dedicated
// goroutine. The spooler commands block on the OS; callers wait for the
// result or their own context, whichever comes first.
type Executor struct {
	inner Spooler
	calls chan call
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

var _ Spooler = (*Executor)(nil)

func NewExecutor(inner Spooler) *Executor {
	e := &Executor{
		inner: inner,
		calls: make(chan call),
		stop:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case c := <-e.calls:
			if c.ctx.Err() != nil {
				continue
			}
			c.fn(c.ctx)
		}
	}
}

// Close stops the worker goroutine after the running call returns.
func (e *Executor) Close() {
	e.once.Do(func() { close(e.stop) })
	e.wg.Wait()
}

func run[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	c := call{ctx: ctx, fn: func(ctx context.Context) {
		v, err := fn(ctx)
		done <- result{v, err}
	}}

	select {
	case e.calls <- c:
	case <-e.stop:
		return zero, ErrExecutorClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Executor) ListPrinters(ctx context.Context) ([]model.Printer, error) {
	return run(ctx, e, e.inner.ListPrinters)
}

func (e *Executor) Submit(ctx context.Context, printer, path, title string) (string, error) {
	return run(ctx, e, func(ctx context.Context) (string, error) {
		return e.inner.Submit(ctx, printer, path, title)
	})
}

func (e *Executor) Jobs(ctx context.Context, printer string, scope JobScope) ([]LocalJob, error) {
	return run(ctx, e, func(ctx context.Context) ([]LocalJob, error) {
		return e.inner.Jobs(ctx, printer, scope)
	})
}
