package panda

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pandacan/panda-server/internal/can"
	"github.com/pandacan/panda-server/internal/logging"
	"github.com/pandacan/panda-server/internal/metrics"
	"github.com/pandacan/panda-server/internal/usbio"
)

// RxBufferSize is the interrupt read buffer; the adapter batches up to
// four wire messages per read.
const RxBufferSize = 64

// rxRetryInterval backs off the read loop after a transient transfer
// error. Matches the endpoint's polling interval. Var so tests can
// shorten it.
var rxRetryInterval = 5 * time.Millisecond

// Hooks connect the device to the host bridge. Callbacks run on driver
// goroutines (the receive loop or transfer completions) and must not
// block.
type Hooks struct {
	// OnReceive delivers a frame decoded from the adapter.
	OnReceive func(can.Frame)
	// OnEcho delivers a transmitted frame back to the host once its
	// transfer completed, keyed off the transfer context.
	OnEcho func(can.Frame)
	// OnPause fires when the transfer context pool is exhausted; the
	// host transmit queue must stop feeding StartTransmit.
	OnPause func()
	// OnResume fires after every context release. Level-triggered and
	// redundant calls are expected; resuming an unpaused queue is a
	// no-op.
	OnResume func()
	// OnDetach fires once when the adapter leaves the bus.
	OnDetach func()
}

// Stats is a point-in-time copy of the interface counters.
type Stats struct {
	TxPackets uint64
	TxBytes   uint64
	TxDropped uint64
	RxPackets uint64
	RxBytes   uint64
	RxErrors  uint64
}

type counters struct {
	txPackets atomic.Uint64
	txBytes   atomic.Uint64
	txDropped atomic.Uint64
	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64
	rxErrors  atomic.Uint64
}

// Device drives one panda adapter: it owns the transfer context pool, the
// echo registry, the anchors tracking outstanding transfers in both
// directions, and the receive loop. StartTransmit may be called
// concurrently with completions; Start and Stop must not be called
// concurrently with each other.
type Device struct {
	tr    usbio.Transport
	codec Codec
	pool  *TxPool
	echo  echoRegistry
	txA   *transferAnchor
	rxA   *transferAnchor
	hooks Hooks
	log   *slog.Logger

	detached atomic.Bool
	ctr      counters
}

// NewDevice wires a driver core to a transport. A nil log falls back to
// the process logger.
func NewDevice(tr usbio.Transport, hooks Hooks, log *slog.Logger) *Device {
	if log == nil {
		log = logging.L()
	}
	d := &Device{tr: tr, hooks: hooks, log: log}
	d.pool = NewTxPool(d.poolExhausted, d.poolFreed)
	d.txA = newTransferAnchor()
	d.rxA = newTransferAnchor()
	return d
}

func (d *Device) poolExhausted() {
	metrics.IncPoolExhausted()
	d.log.Debug("tx_pool_exhausted")
	if d.hooks.OnPause != nil {
		d.hooks.OnPause()
	}
}

func (d *Device) poolFreed() {
	if d.hooks.OnResume != nil {
		d.hooks.OnResume()
	}
}

// Start arms the pipeline: pool and echo registry reset, receive loop
// launched, adapter output stage enabled.
func (d *Device) Start() error {
	d.detached.Store(false)
	d.pool.Reset()
	d.echo.Reset()
	d.txA.Reset()
	d.rxA.Reset()
	metrics.SetPoolFree(d.pool.Free())

	if !d.startRx() {
		return fmt.Errorf("panda: receive loop did not start")
	}
	if err := d.tr.SetOutputEnable(true); err != nil {
		metrics.IncError(metrics.ErrUSBControl)
		d.rxA.KillAll()
		return fmt.Errorf("panda: enable output stage: %w", err)
	}
	d.log.Info("device_started", "tx_contexts", MaxTxContexts)
	return nil
}

// Stop disables the adapter output stage, then cancels all outstanding
// transfers and waits for every completion to run. The transmit queue
// must already be paused or closed so no new submissions race the drain.
func (d *Device) Stop() {
	if err := d.tr.SetOutputEnable(false); err != nil && !usbio.IsGone(err) {
		metrics.IncError(metrics.ErrUSBControl)
		d.log.Warn("disable_output_failed", "error", err)
	}
	d.rxA.KillAll()
	d.txA.KillAll()
	d.echo.Reset()
	d.log.Info("device_stopped")
}

// Detach marks the adapter gone. Idempotent; safe from any goroutine.
// Subsequent submissions are dropped and the receive loop stops.
func (d *Device) Detach() {
	if d.detached.Swap(true) {
		return
	}
	d.log.Warn("device_detached")
	if d.hooks.OnDetach != nil {
		d.hooks.OnDetach()
	}
}

// Detached reports whether the adapter has left the bus.
func (d *Device) Detached() bool { return d.detached.Load() }

// Stats returns a copy of the interface counters.
func (d *Device) Stats() Stats {
	return Stats{
		TxPackets: d.ctr.txPackets.Load(),
		TxBytes:   d.ctr.txBytes.Load(),
		TxDropped: d.ctr.txDropped.Load(),
		RxPackets: d.ctr.rxPackets.Load(),
		RxBytes:   d.ctr.rxBytes.Load(),
		RxErrors:  d.ctr.rxErrors.Load(),
	}
}

// FreeContexts returns the advisory free slot count.
func (d *Device) FreeContexts() int { return d.pool.Free() }

// StartTransmit accepts one frame for asynchronous transmission and
// returns immediately: true means the frame was handed to the USB layer,
// false means it was absorbed and dropped. A false return is final;
// callers must not retry.
func (d *Device) StartTransmit(f can.Frame) bool {
	if d.detached.Load() {
		d.dropTx()
		return false
	}
	if err := f.Validate(); err != nil {
		d.dropTx()
		d.log.Debug("tx_invalid_frame", "error", err)
		return false
	}
	ctx, ok := d.pool.Acquire(f.Len)
	if !ok {
		// Unreachable when the queue respects backpressure; drop
		// defensively rather than trust the pause signal.
		d.dropTx()
		d.log.Warn("tx_no_free_context", "id", f.ID())
		return false
	}
	metrics.SetPoolFree(d.pool.Free())

	// Echo registration precedes submission so the completion always
	// finds its frame.
	d.echo.Put(ctx.Index(), f)

	buf := make([]byte, MessageSize)
	d.codec.EncodeTo(buf, f)

	if !d.submitTx(ctx, buf) {
		d.echo.Drop(ctx.Index())
		d.releaseTx(ctx)
		d.dropTx()
		return false
	}
	d.log.Debug("tx_submitted", "id", f.ID(), "len", f.Len, "slot", ctx.Index())
	return true
}

// submitTx hands the encoded buffer to the USB layer. Ownership of ctx
// and buf transfers to the spawned goroutine, which consumes them exactly
// once in completeTx. Returns false if the anchor is draining.
func (d *Device) submitTx(ctx *TxContext, buf []byte) bool {
	tctx, cancel := context.WithCancel(context.Background())
	id, ok := d.txA.Add(cancel)
	if !ok {
		cancel()
		return false
	}
	go func() {
		defer d.txA.Done(id)
		defer cancel()
		_, err := d.tr.BulkOut(tctx, buf)
		d.completeTx(ctx, err)
	}()
	return true
}

// completeTx runs exactly once per submitted transfer. The context goes
// back to the pool no matter how the transfer ended.
func (d *Device) completeTx(ctx *TxContext, err error) {
	idx, dlc := ctx.Index(), ctx.DLC()
	defer d.releaseTx(ctx)

	if d.detached.Load() {
		d.echo.Drop(idx)
		return
	}
	switch {
	case err == nil:
	case usbio.IsCancelled(err):
		// Teardown cancelled the transfer; nothing reached the wire.
		d.echo.Drop(idx)
		return
	case usbio.IsGone(err):
		d.echo.Drop(idx)
		d.dropTx()
		metrics.IncError(metrics.ErrUSBWrite)
		d.Detach()
		return
	default:
		// The frame is still charged and echoed; the status is only
		// logged.
		metrics.IncError(metrics.ErrUSBWrite)
		d.log.Info("tx_transfer_aborted", "slot", idx, "error", err)
	}

	d.ctr.txPackets.Add(1)
	d.ctr.txBytes.Add(uint64(dlc))
	metrics.AddUSBTx(int(dlc))
	if f, ok := d.echo.Take(idx); ok && d.hooks.OnEcho != nil {
		d.hooks.OnEcho(f)
	}
}

func (d *Device) releaseTx(ctx *TxContext) {
	d.pool.Release(ctx)
	metrics.SetPoolFree(d.pool.Free())
}

func (d *Device) dropTx() {
	d.ctr.txDropped.Add(1)
	metrics.IncTxDropped()
}

// startRx launches the single receive loop goroutine, anchored so Stop
// can cancel and await it.
func (d *Device) startRx() bool {
	rctx, cancel := context.WithCancel(context.Background())
	id, ok := d.rxA.Add(cancel)
	if !ok {
		cancel()
		return false
	}
	go func() {
		defer d.rxA.Done(id)
		defer cancel()
		d.runRx(rctx)
	}()
	return true
}

// runRx keeps exactly one read outstanding. Cancellation is the only
// clean exit; a gone device detaches and exits; transient errors are
// logged and retried after rxRetryInterval.
func (d *Device) runRx(ctx context.Context) {
	buf := make([]byte, RxBufferSize)
	for {
		n, err := d.tr.IntIn(ctx, buf)
		switch {
		case err == nil:
		case usbio.IsCancelled(err):
			return
		case usbio.IsGone(err):
			d.Detach()
			return
		default:
			d.ctr.rxErrors.Add(1)
			metrics.IncError(metrics.ErrUSBRead)
			d.log.Info("rx_transfer_aborted", "error", err)
			if !sleepCtx(ctx, rxRetryInterval) {
				return
			}
			continue
		}
		if derr := d.codec.DecodeStream(buf[:n], d.deliverRx); derr != nil {
			metrics.IncMalformed()
			d.log.Error("rx_format_error", "error", derr, "read_len", n)
		}
	}
}

func (d *Device) deliverRx(f can.Frame) {
	d.ctr.rxPackets.Add(1)
	d.ctr.rxBytes.Add(uint64(f.Len))
	metrics.AddUSBRx(int(f.Len))
	if d.hooks.OnReceive != nil {
		d.hooks.OnReceive(f)
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
