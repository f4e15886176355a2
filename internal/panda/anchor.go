package panda

import (
	"context"
	"sync"
)

// transferAnchor tracks the cancel function of every outstanding transfer
// so teardown can cancel them all and then wait for each completion to
// run. The name follows the USB notion of anchoring in-flight requests.
type transferAnchor struct {
	mu      sync.Mutex
	killing bool
	seq     uint64
	cancels map[uint64]context.CancelFunc
	wg      sync.WaitGroup
}

func newTransferAnchor() *transferAnchor {
	return &transferAnchor{cancels: make(map[uint64]context.CancelFunc)}
}

// Add registers a transfer about to be submitted. It fails while the
// anchor is draining; the caller must treat that as a failed submission.
// Every successful Add must be paired with exactly one Done.
func (a *transferAnchor) Add(cancel context.CancelFunc) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.killing {
		return 0, false
	}
	a.seq++
	a.cancels[a.seq] = cancel
	a.wg.Add(1)
	return a.seq, true
}

// Done retires a transfer after its completion has fully run.
func (a *transferAnchor) Done(id uint64) {
	a.mu.Lock()
	delete(a.cancels, id)
	a.mu.Unlock()
	a.wg.Done()
}

// KillAll cancels every outstanding transfer and blocks until each one has
// called Done. New Adds fail until Reset re-opens the anchor.
func (a *transferAnchor) KillAll() {
	a.mu.Lock()
	a.killing = true
	cancels := make([]context.CancelFunc, 0, len(a.cancels))
	for _, c := range a.cancels {
		cancels = append(cancels, c)
	}
	a.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	a.wg.Wait()
}

// Reset re-opens the anchor for new transfers after a KillAll.
func (a *transferAnchor) Reset() {
	a.mu.Lock()
	a.killing = false
	a.mu.Unlock()
}
