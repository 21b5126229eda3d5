package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tablestage/internal/protocol"
)

// ErrBackpressure is returned when a client cannot keep up with its frames.
var ErrBackpressure = errors.New("outbox full")

// ErrClosed is returned for deliveries after Close.
var ErrClosed = errors.New("outbox closed")

const writeTimeout = 10 * time.Second

// FrameWriter writes one text frame.
type FrameWriter interface {
	Write(ctx context.Context, data []byte) error
}

// Outbox queues encoded frames for a single client and writes them from a
// background goroutine, so routing never waits on the network.
type Outbox struct {
	writer     FrameWriter
	frames     chan []byte
	onOverflow func()
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewOutbox starts an outbox. onOverflow is called once the buffer fills,
// typically to drop the connection.
func NewOutbox(w FrameWriter, size int, onOverflow func(), logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		writer:     w,
		frames:     make(chan []byte, size),
		onOverflow: onOverflow,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// Deliver implements session.Sink.
func (o *Outbox) Deliver(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.frames <- data:
		return nil
	default:
		o.logger.Warn("[OUTBOX] Queue full, dropping client", "type", msg.Type, "queue_len", len(o.frames))
		if o.onOverflow != nil {
			go o.onOverflow()
		}
		return ErrBackpressure
	}
}

func (o *Outbox) run() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case data := <-o.frames:
			ctx, cancel := context.WithTimeout(o.ctx, writeTimeout)
			err := o.writer.Write(ctx, data)
			cancel()
			if err != nil {
				if o.ctx.Err() == nil {
					o.logger.Debug("[OUTBOX] Write failed", "error", err)
				}
				return
			}
		}
	}
}

// Close stops the writer. Queued frames that were not written are dropped.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		o.logger.Warn("[OUTBOX] Writer shutdown timeout")
	}
	if n := len(o.frames); n > 0 {
		o.logger.Debug("[OUTBOX] Dropped unsent frames", "count", n)
	}
}
