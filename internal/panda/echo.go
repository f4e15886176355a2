package panda

import (
	"sync"

	"github.com/pandacan/panda-server/internal/can"
)

// echoRegistry holds the frame awaiting local echo for each in-flight
// transfer, keyed by slot index. A frame is registered before its transfer
// is submitted and either taken on completion (delivered back to the host
// as echo) or dropped when the transfer never made it to the wire.
type echoRegistry struct {
	mu      sync.Mutex
	frames  [MaxTxContexts]can.Frame
	present [MaxTxContexts]bool
}

func (e *echoRegistry) Put(idx int, f can.Frame) {
	e.mu.Lock()
	e.frames[idx] = f
	e.present[idx] = true
	e.mu.Unlock()
}

func (e *echoRegistry) Take(idx int) (can.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.present[idx] {
		return can.Frame{}, false
	}
	e.present[idx] = false
	return e.frames[idx], true
}

func (e *echoRegistry) Drop(idx int) {
	e.mu.Lock()
	e.present[idx] = false
	e.mu.Unlock()
}

func (e *echoRegistry) Reset() {
	e.mu.Lock()
	for i := range e.present {
		e.present[i] = false
	}
	e.mu.Unlock()
}
