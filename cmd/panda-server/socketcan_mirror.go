//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pandacan/panda-server/internal/can"
	"github.com/pandacan/panda-server/internal/metrics"
	"github.com/pandacan/panda-server/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// initMirror opens the SocketCAN mirror when an interface is configured.
// The sink copies adapter traffic onto the local bus; startRx reads frames
// injected by local processes and hands them to the adapter transmit path.
func initMirror(ctx context.Context, cfg *appConfig, l *slog.Logger) (*mirror, error) {
	if cfg.canIf == "" {
		return nil, nil
	}
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_mirror_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)

	m := &mirror{
		sink: func(fr can.Frame) { _ = tw.SendFrame(fr) },
		// The writer must drain before the fd goes away so no WriteFrame
		// races a closed (and possibly reused) descriptor; closing the
		// device afterwards unblocks the read loop.
		cleanup: func() { tw.Close(); _ = dev.Close() },
	}
	m.startRx = func(wg *sync.WaitGroup, send func(can.Frame) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.Info("socketcan_mirror_rx_end")
			backoff := rxBackoffMin
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				var fr can.Frame
				if err := dev.ReadFrame(&fr); err != nil {
					if ctx.Err() != nil { // shutting down
						return
					}
					metrics.IncError(metrics.ErrSocketCANRead)
					l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
					sleepFn(backoff)
					backoff *= 2
					if backoff > rxBackoffMax {
						backoff = rxBackoffMax
					}
					continue
				}
				metrics.IncSocketCANRx()
				if err := send(fr); err != nil {
					l.Debug("mirror_tx_drop", "error", err)
				}
				backoff = rxBackoffMin
			}
		}()
	}
	return m, nil
}
