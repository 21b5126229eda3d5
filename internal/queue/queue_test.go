package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
)

func action(n int) domain.ActionRequest {
	return domain.ActionRequest{ActionID: domain.ActionID(fmt.Sprintf("a%d", n)), ActionType: "talk"}
}

func TestEnqueueDoesNotWaitForSlowWorker(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := New(PlayerQueue, ProcessorFunc(func(ctx context.Context, req domain.ActionRequest) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	q.Enqueue(action(0))
	<-started

	begin := time.Now()
	for i := 1; i <= 100; i++ {
		q.Enqueue(action(i))
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Fatalf("enqueue took %v while worker was blocked", elapsed)
	}
	if got := q.Depth(); got != 100 {
		t.Errorf("Depth = %d, want 100", got)
	}
	close(release)
}

func TestRunPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.ActionID
	done := make(chan struct{})
	const n = 50

	q := New(PlayerQueue, ProcessorFunc(func(ctx context.Context, req domain.ActionRequest) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req.ActionID)
		if len(seen) == n {
			close(done)
		}
		return nil
	}))
	for i := 0; i < n; i++ {
		q.Enqueue(action(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain queue")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range seen {
		if want := action(i).ActionID; id != want {
			t.Fatalf("position %d = %s, want %s", i, id, want)
		}
	}
	if q.Depth() != 0 {
		t.Errorf("Depth = %d after drain", q.Depth())
	}
}

func TestFailureHandlerReceivesError(t *testing.T) {
	boom := errors.New("boom")
	failures := make(chan error, 2)
	q := New(DirectorQueue,
		ProcessorFunc(func(ctx context.Context, req domain.ActionRequest) error {
			if req.ActionID == "a0" {
				return boom
			}
			panic("bad action")
		}),
		WithFailureHandler(func(req domain.ActionRequest, err error) { failures <- err }),
	)
	q.Enqueue(action(0))
	q.Enqueue(action(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-failures:
			if i == 0 && !errors.Is(err, boom) {
				t.Errorf("first failure = %v, want boom", err)
			}
			if i == 1 && domain.AsError(err).Code != domain.CodeActionFailed {
				t.Errorf("panic failure code = %s", domain.AsError(err).Code)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("failure handler not called")
		}
	}
	if _, failed := q.Stats(); failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q := New(PlayerQueue, ProcessorFunc(func(context.Context, domain.ActionRequest) error { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
