package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/tablestage/internal/protocol"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames [][]byte
	block  chan struct{}
}

func (w *recordingWriter) Write(ctx context.Context, data []byte) error {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, data)
	return nil
}

func (w *recordingWriter) types() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.frames))
	for i, f := range w.frames {
		var env protocol.Envelope
		_ = json.Unmarshal(f, &env)
		out[i] = env.Type
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOutboxPreservesOrder(t *testing.T) {
	w := &recordingWriter{}
	o := NewOutbox(w, 8, nil, nil)
	defer o.Close()

	for _, typ := range []string{protocol.TypeStagingReady, protocol.TypeSceneChanged, protocol.TypePong} {
		if err := o.Deliver(protocol.NewMessage(typ, nil)); err != nil {
			t.Fatalf("Deliver(%s): %v", typ, err)
		}
	}
	waitFor(t, func() bool { return len(w.types()) == 3 })
	got := w.types()
	want := []string{protocol.TypeStagingReady, protocol.TypeSceneChanged, protocol.TypePong}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames = %v, want %v", got, want)
		}
	}
}

func TestOutboxBackpressure(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	var overflowed atomic.Int32
	o := NewOutbox(w, 1, func() { overflowed.Add(1) }, nil)
	defer o.Close()
	defer close(w.block)

	var err error
	for i := 0; i < 5 && err == nil; i++ {
		err = o.Deliver(protocol.NewMessage(protocol.TypePong, nil))
	}
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}
	waitFor(t, func() bool { return overflowed.Load() > 0 })
}

func TestOutboxClosed(t *testing.T) {
	o := NewOutbox(&recordingWriter{}, 4, nil, nil)
	o.Close()
	o.Close()
	if err := o.Deliver(protocol.NewMessage(protocol.TypePong, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
