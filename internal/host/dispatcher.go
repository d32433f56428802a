package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrDispatcherStopped is returned by Do once the dispatcher has shut down.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Task is a unit of work run on the privileged thread.
type Task func(ctx context.Context)

// Dispatcher serializes every document mutation onto one goroutine, the
// equivalent of the host's main thread. Post never blocks, so background
// workers can hand over work without waiting on the host.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []namedTask
	wake    chan struct{}
	stopped chan struct{}
	closed  bool
}

type namedTask struct {
	name string
	fn   Task
}

// NewDispatcher creates a Dispatcher. Call Run to start draining it.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post enqueues fn. It returns false if the dispatcher has already stopped.
func (d *Dispatcher) Post(name string, fn Task) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("dispatcher stopped, dropping task", "task", name)
		return false
	}
	d.queue = append(d.queue, namedTask{name: name, fn: fn})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the privileged thread and waits for it to finish.
func (d *Dispatcher) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	ok := d.Post(name, func(ctx context.Context) {
		finished := false
		defer func() {
			if !finished {
				errCh <- fmt.Errorf("%s: task panicked", name)
			}
		}()
		err := fn(ctx)
		finished = true
		errCh <- err
	})
	if !ok {
		return ErrDispatcherStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrDispatcherStopped
		}
	}
}

// Run drains the queue until ctx is cancelled, then runs whatever is still
// queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.drain(context.WithoutCancel(ctx))
			return
		case <-d.wake:
			d.drain(ctx)
		}
	}
}

// Stopped is closed once Run has returned.
func (d *Dispatcher) Stopped() <-chan struct{} {
	return d.stopped
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		t := d.queue[0]
		d.queue[0] = namedTask{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.runTask(ctx, t)
	}
}

func (d *Dispatcher) runTask(ctx context.Context, t namedTask) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in privileged task",
				"task", t.name,
				"error", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	t.fn(ctx)
}
