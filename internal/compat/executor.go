package compat

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Executor runs store calls on a bounded number of slots so that adapter
// callers never block more goroutines on the store mutex than the pool allows.
type Executor struct {
	sem  *semaphore.Weighted
	size int
}

// NewExecutor returns an executor with size slots. A non-positive size uses
// the number of CPUs.
func NewExecutor(size int) *Executor {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Executor{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (e *Executor) Size() int { return e.size }

type outcome[T any] struct {
	val T
	err error
}

// run executes fn on a free slot. When ctx ends first, run returns ctx.Err()
// and fn still completes in the background, releasing its slot afterwards.
func run[T any](ctx context.Context, e *Executor, fn func() (T, error)) (T, error) {
	var zero T
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	ch := make(chan outcome[T], 1)
	go func() {
		defer e.sem.Release(1)
		var o outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o = outcome[T]{err: fmt.Errorf("compat: store call panicked: %v", r)}
			}
			ch <- o
		}()
		o.val, o.err = fn()
	}()

	select {
	case o := <-ch:
		return o.val, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
