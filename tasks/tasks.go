// Package tasks runs chat turns on a background worker pool so HTTP handlers
// never block on model calls. At most one turn runs per session at a time.
package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Runner processes one queued message and returns the assistant's reply.
type Runner func(ctx context.Context, sessionID, message string) (string, error)

// Result is delivered on the channel returned by Dispatch.
type Result struct {
	SessionID string
	Response  string
	Err       error
}

type job struct {
	sessionID string
	message   string
	out       chan Result
}

// Queue fans queued jobs out to a fixed set of workers.
type Queue struct {
	run     Runner
	jobs    chan job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.Mutex
	busy    map[string]chan struct{}
	stopped bool
}

func NewQueue(run Runner, workers, depth int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if depth < workers {
		depth = workers * 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		run:    run,
		jobs:   make(chan job, depth),
		cancel: cancel,
		busy:   make(map[string]chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

// Dispatch enqueues a message for a session and returns a channel that
// receives exactly one Result. A full queue fails fast instead of blocking
// the caller.
func (q *Queue) Dispatch(sessionID, message string) <-chan Result {
	out := make(chan Result, 1)
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		out <- Result{SessionID: sessionID, Err: fmt.Errorf("queue is shut down")}
		return out
	}
	select {
	case q.jobs <- job{sessionID: sessionID, message: message, out: out}:
	default:
		out <- Result{SessionID: sessionID, Err: fmt.Errorf("queue is full")}
	}
	return out
}

// Busy reports whether a turn is currently running for the session.
func (q *Queue) Busy(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.busy[sessionID]
	return ok
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(ctx, j)
		}
	}
}

func (q *Queue) process(ctx context.Context, j job) {
	release := q.acquire(ctx, j.sessionID)
	if release == nil {
		j.out <- Result{SessionID: j.sessionID, Err: ctx.Err()}
		return
	}
	defer release()

	response, err := q.run(ctx, j.sessionID, j.message)
	if err != nil {
		log.Printf("tasks: session %s: %v", j.sessionID, err)
	}
	j.out <- Result{SessionID: j.sessionID, Response: response, Err: err}
}

// acquire takes the per-session slot, waiting if another worker holds it.
// Returns nil when the queue shuts down first.
func (q *Queue) acquire(ctx context.Context, sessionID string) func() {
	for {
		q.mu.Lock()
		ch, held := q.busy[sessionID]
		if !held {
			done := make(chan struct{})
			q.busy[sessionID] = done
			q.mu.Unlock()
			return func() {
				q.mu.Lock()
				delete(q.busy, sessionID)
				q.mu.Unlock()
				close(done)
			}
		}
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop cancels running turns and waits for the workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}
