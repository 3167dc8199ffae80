// Package taskregistry makes long-running SSH work cancellable and
// prevents a connection from double-issuing it (spec.md §4.4).
package taskregistry

import (
	"context"
	"sync"
	"time"

	"github.com/gluk-w/claworc/sshgate/internal/protocol"
)

const defaultCancelDeadline = 5 * time.Second

// handle is the internal bookkeeping for one in-flight task.
type handle struct {
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Registry holds at most one in-flight cancellable task per connection-id.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*handle
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]*handle)}
}

// Start spawns work in its own goroutine under a fresh cancellable
// context and registers the handle before returning. Fails with
// task-already-running if a live handle already exists for connID.
func (r *Registry) Start(connID string, work func(ctx context.Context)) error {
	r.mu.Lock()
	if _, exists := r.tasks[connID]; exists {
		r.mu.Unlock()
		return protocol.NewError(protocol.CodeTaskAlreadyRunning, "task already running", connID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.tasks[connID] = h
	r.mu.Unlock()

	go func() {
		defer close(h.done)
		work(ctx)
	}()

	return nil
}

// Cancel signals the task's cancellation token and awaits its completion
// up to deadline (default 5s). A task's own completion never removes its
// registry entry — only Cancel and Cleanup do — so a task that terminates
// on its own between the caller's decision to cancel and this call
// acquiring the lock is still found here: Cancel waits on its already-
// closed done channel, deregisters it, and returns ok, never
// task-not-found.
func (r *Registry) Cancel(connID string, deadline time.Duration) error {
	if deadline <= 0 {
		deadline = defaultCancelDeadline
	}

	r.mu.Lock()
	h, ok := r.tasks[connID]
	r.mu.Unlock()
	if !ok {
		return protocol.NewError(protocol.CodeTaskNotFound, "task not found", connID)
	}

	h.cancel()

	select {
	case <-h.done:
		r.mu.Lock()
		if current, ok := r.tasks[connID]; ok && current == h {
			delete(r.tasks, connID)
		}
		r.mu.Unlock()
		return nil
	case <-time.After(deadline):
		return protocol.NewError(protocol.CodeTaskCancelTimeout, "task did not terminate before the cancel deadline", connID)
	}
}

// Cleanup deregisters connID's handle without cancelling it, for use on
// graceful completion where the task has already finished on its own.
func (r *Registry) Cleanup(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, connID)
}

// HasLiveTask reports whether connID currently owns a registered task.
func (r *Registry) HasLiveTask(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[connID]
	return ok
}
