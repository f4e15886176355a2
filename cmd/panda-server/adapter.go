package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pandacan/panda-server/internal/can"
	"github.com/pandacan/panda-server/internal/hub"
	"github.com/pandacan/panda-server/internal/panda"
	"github.com/pandacan/panda-server/internal/usbio"
)

// openAdapter is a hook for tests (overridden in unit tests).
var openAdapter = func() (usbio.Transport, error) { return usbio.Open() }

// mirror is the optional SocketCAN surface: sink receives adapter
// traffic, startRx launches the local read loop feeding the adapter.
// The platform files provide initMirror.
type mirror struct {
	sink    func(can.Frame)
	startRx func(wg *sync.WaitGroup, send func(can.Frame) error)
	cleanup func()
}

// initAdapter opens the panda, wires the driver to the hub and the
// optional mirror, starts the receive loop and enables the output
// stage. The returned send func feeds the transmit queue; cleanup
// drains and releases everything in order.
func initAdapter(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup, onDetach func()) (func(can.Frame) error, func(), error) {
	tr, err := openAdapter()
	if err != nil {
		return nil, func() {}, fmt.Errorf("open adapter: %w", err)
	}

	m, err := initMirror(ctx, cfg, l)
	if err != nil {
		_ = tr.Close()
		return nil, func() {}, err
	}

	var w *panda.TXWriter
	dev := panda.NewDevice(tr, panda.Hooks{
		OnReceive: func(fr can.Frame) {
			h.Broadcast(fr)
			if m != nil {
				m.sink(fr)
			}
		},
		// Echoes go to TCP clients only; writing them to the mirror
		// would double every transmitted frame on the local bus.
		OnEcho:   func(fr can.Frame) { h.Broadcast(fr) },
		OnPause:  func() { w.Pause() },
		OnResume: func() { w.Resume() },
		OnDetach: onDetach,
	}, l)
	w = panda.NewTXWriter(ctx, dev, txQueueSize)

	if err := dev.Start(); err != nil {
		w.Close()
		if m != nil {
			m.cleanup()
		}
		_ = tr.Close()
		return nil, func() {}, err
	}
	if m != nil {
		m.startRx(wg, w.SendFrame)
	}

	cleanup := func() {
		// The queue must stop feeding the device before the drain.
		w.Close()
		dev.Stop()
		if m != nil {
			m.cleanup()
		}
		_ = tr.Close()
		st := dev.Stats()
		l.Info("adapter_stats",
			"tx_packets", st.TxPackets, "tx_bytes", st.TxBytes, "tx_dropped", st.TxDropped,
			"rx_packets", st.RxPackets, "rx_bytes", st.RxBytes, "rx_errors", st.RxErrors)
	}
	return w.SendFrame, cleanup, nil
}
