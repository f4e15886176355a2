package panda

import (
	"context"
	"errors"

	"github.com/pandacan/panda-server/internal/can"
	"github.com/pandacan/panda-server/internal/metrics"
	"github.com/pandacan/panda-server/internal/transport"
)

var ErrTxOverflow = errors.New("adapter tx overflow")

// Submitter is the device-side intake for queued frames.
// Implemented by *Device in production and by fakes in tests.
type Submitter interface {
	StartTransmit(can.Frame) bool
}

// TXWriter funnels all adapter submissions through a single goroutine.
// The device's pool hooks drive the pause gate, so frames wait in the
// buffer while all transfer contexts are in flight instead of burning
// on the device's drop path.
type TXWriter struct{ base *transport.Queue }

// NewTXWriter creates an adapter TXWriter with a buffered channel of
// size buf. Wire the returned writer's Pause/Resume into the device
// hooks so pool exhaustion closes the gate.
func NewTXWriter(parent context.Context, dev Submitter, buf int) *TXWriter {
	send := func(fr can.Frame) error {
		// A false return was already counted and logged by the device.
		dev.StartTransmit(fr)
		return nil
	}
	hooks := transport.Hooks{
		OnDrop: func() error {
			metrics.IncError(metrics.ErrTxOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewQueue(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous submission (drops with ErrTxOverflow if buffer full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Pause stops the worker from feeding the device; producers keep
// enqueueing until the buffer fills.
func (w *TXWriter) Pause() { w.base.Pause() }

// Resume re-opens the gate and wakes the worker.
func (w *TXWriter) Resume() { w.base.Resume() }

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
