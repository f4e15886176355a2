package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pandacan/panda-server/internal/can"
)

// Queue is an asynchronous frame funnel with a pause gate: producers from
// any host surface enqueue without blocking, a single worker goroutine
// drains to the send function. Pause stops the worker from pulling the
// next frame (the in-hand frame still completes); Resume re-opens the
// gate. The adapter driver drives the gate from its pool hooks, so the
// queue fills instead of the driver dropping frames while all transfer
// contexts are in flight.
//
// Enqueueing is non-blocking: when the buffer is full SendFrame invokes
// the configured OnDrop hook and returns its error (usually an overflow
// sentinel). This keeps producers from blocking behind a paused queue or
// a wedged device.
//
// Life-cycle:
//
//	q := NewQueue(ctx, buf, sendFn, hooks)
//	q.SendFrame(frame)
//	q.Pause() / q.Resume()
//	q.Close()
//
// After Close returns no more frames are processed and SendFrame reports
// ErrQueueClosed.
type Queue struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
	paused atomic.Bool
	resume chan struct{} // wake token for a worker parked on the gate
}

// Hooks customize Queue behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is returned
	// from SendFrame. If nil, the overflow is silent (best-effort fire-and-forget).
	OnDrop func() error
}

// ErrQueueClosed is returned by SendFrame after Close.
var ErrQueueClosed = errors.New("transmit queue closed")

// NewQueue constructs a Queue with a buffered channel of size buf and
// starts its worker.
func NewQueue(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
		resume: make(chan struct{}, 1),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		// The gate is checked before every dequeue so a pause takes
		// effect on the next frame, never mid-send.
		if q.paused.Load() {
			select {
			case <-q.resume:
				continue
			case <-q.ctx.Done():
				return
			}
		}
		select {
		case fr, ok := <-q.ch:
			if !ok { // channel closed
				return
			}
			// Re-check after the dequeue: a pause that landed while the
			// worker was already parked on the buffer holds this frame
			// here instead of pushing it through a closed gate.
			for q.paused.Load() {
				select {
				case <-q.resume:
				case <-q.ctx.Done():
					return
				}
			}
			if err := q.send(fr); err != nil {
				if q.hooks.OnError != nil {
					q.hooks.OnError(err)
				}
				continue
			}
			if q.hooks.OnAfter != nil {
				q.hooks.OnAfter()
			}
		case <-q.resume:
			// Stale wake token from a resume that raced the gate check.
		case <-q.ctx.Done():
			return
		}
	}
}

// Pause closes the gate: the worker stops pulling frames after finishing
// the one in hand. Producers keep enqueueing until the buffer fills.
func (q *Queue) Pause() {
	q.paused.Store(true)
}

// Resume re-opens the gate and wakes a parked worker. Idempotent; safe to
// call at any rate from completion goroutines.
func (q *Queue) Resume() {
	q.paused.Store(false)
	select {
	case q.resume <- struct{}{}:
	default: // a wake token is already pending
	}
}

// Paused reports whether the gate is currently closed.
func (q *Queue) Paused() bool { return q.paused.Load() }

// SendFrame queues a frame for asynchronous transmission or returns the
// drop error if the buffer is full.
func (q *Queue) SendFrame(fr can.Frame) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- fr:
		return nil
	default:
		if q.hooks.OnDrop != nil {
			return q.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for all pending operations to finish.
func (q *Queue) Close() {
	if q.closed.Swap(true) { // already closed
		return
	}
	// Cancel context to stop loop, then close channel under the send lock to avoid races.
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
