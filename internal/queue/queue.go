// Package queue provides ordered, non-blocking ingestion of player and
// Director actions, decoupled from their processing.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/tablestage/internal/domain"
)

// Queue names.
const (
	PlayerQueue   = "player"
	DirectorQueue = "director"
)

// Processor performs the effects of one action.
type Processor interface {
	Process(ctx context.Context, req domain.ActionRequest) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req domain.ActionRequest) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, req domain.ActionRequest) error {
	return f(ctx, req)
}

// FailureFunc is called when processing an action fails.
type FailureFunc func(req domain.ActionRequest, err error)

// Queue is an unbounded FIFO of actions. Enqueue never waits for workers.
type Queue struct {
	name      string
	processor Processor
	onFailure FailureFunc
	logger    *slog.Logger

	mu     sync.Mutex
	items  []domain.ActionRequest
	notify chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithFailureHandler sets the callback for failed actions.
func WithFailureHandler(fn FailureFunc) Option {
	return func(q *Queue) { q.onFailure = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// New creates a queue that hands actions to p.
func New(name string, p Processor, opts ...Option) *Queue {
	q := &Queue{
		name:      name,
		processor: p,
		logger:    slog.Default(),
		notify:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue appends req and returns the queue depth including it.
func (q *Queue) Enqueue(req domain.ActionRequest) int {
	q.mu.Lock()
	q.items = append(q.items, req)
	depth := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.logger.Debug("Action enqueued", "queue", q.name, "action_id", req.ActionID, "depth", depth)
	return depth
}

// Depth returns the number of actions not yet taken by a worker.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns processed and failed counters.
func (q *Queue) Stats() (processed, failed int64) {
	return q.processed.Load(), q.failed.Load()
}

func (q *Queue) dequeue() (domain.ActionRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.ActionRequest{}, false
	}
	req := q.items[0]
	q.items[0] = domain.ActionRequest{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	} else {
		// Another worker may be waiting.
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return req, true
}

// Run takes actions in submission order until ctx is cancelled. Several
// Run loops may share one queue.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("Action queue worker started", "queue", q.name)
	for {
		req, ok := q.dequeue()
		if !ok {
			select {
			case <-q.notify:
				continue
			case <-ctx.Done():
				q.logger.Info("Action queue worker shutting down", "queue", q.name, "reason", ctx.Err())
				return nil
			}
		}
		q.process(ctx, req)
	}
}

func (q *Queue) process(ctx context.Context, req domain.ActionRequest) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("Action processor panicked", "queue", q.name, "action_id", req.ActionID, "panic", r)
			if q.onFailure != nil {
				q.onFailure(req, domain.StateError(domain.CodeActionFailed, "action %s failed", req.ActionID))
			}
		}
	}()

	if err := q.processor.Process(ctx, req); err != nil {
		q.failed.Add(1)
		q.logger.Warn("Action processing failed", "queue", q.name, "action_id", req.ActionID, "error", err)
		if q.onFailure != nil {
			q.onFailure(req, err)
		}
		return
	}
	q.processed.Add(1)
}
