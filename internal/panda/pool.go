package panda

import "sync/atomic"

// MaxTxContexts is the number of outbound transfers that may be in flight
// at once. It matches the adapter firmware's queue depth.
const MaxTxContexts = 20

const (
	slotFree int32 = iota
	slotInFlight
)

// TxContext is one pool slot tracking an in-flight outbound transfer. The
// slot index keys the echo registry entry and the DLC recorded at acquire
// time feeds the byte counters at completion time.
type TxContext struct {
	index int
	dlc   uint8
	state atomic.Int32
}

// Index returns the slot's stable position in the pool.
func (c *TxContext) Index() int { return c.index }

// DLC returns the payload length recorded when the slot was acquired.
func (c *TxContext) DLC() uint8 { return c.dlc }

// TxPool is a fixed arena of MaxTxContexts transfer slots. Acquire and
// Release run concurrently from the transmit path and from completion
// goroutines; slot ownership is decided per slot by compare-and-swap, and
// the free counter only drives the pause/resume signalling.
type TxPool struct {
	slots       [MaxTxContexts]TxContext
	free        atomic.Int32
	onExhausted func()
	onFreed     func()
}

// NewTxPool builds a pool with all slots free. onExhausted fires on the
// acquirer's goroutine when the successful claim takes the last free slot;
// onFreed fires on the releaser's goroutine after every Release. Both must
// be cheap and non-blocking; either may be nil.
func NewTxPool(onExhausted, onFreed func()) *TxPool {
	p := &TxPool{onExhausted: onExhausted, onFreed: onFreed}
	for i := range p.slots {
		p.slots[i].index = i
	}
	p.free.Store(MaxTxContexts)
	return p
}

// Acquire claims a free slot for a frame with the given payload length.
// Only the per-slot CAS grants ownership; the counter is advisory. A nil
// return with ok=false means every slot is in flight.
func (p *TxPool) Acquire(dlc uint8) (ctx *TxContext, ok bool) {
	for i := range p.slots {
		c := &p.slots[i]
		if c.state.CompareAndSwap(slotFree, slotInFlight) {
			c.dlc = dlc
			if p.free.Add(-1) == 0 {
				if p.onExhausted != nil {
					p.onExhausted()
				}
			}
			return c, true
		}
	}
	return nil, false
}

// Release returns a slot to the pool. The free count is bumped before the
// slot is marked free; a racing Acquire that trusts only the CAS tolerates
// the window between the two stores.
func (p *TxPool) Release(ctx *TxContext) {
	p.free.Add(1)
	ctx.state.Store(slotFree)
	if p.onFreed != nil {
		p.onFreed()
	}
}

// Free returns the advisory count of free slots.
func (p *TxPool) Free() int { return int(p.free.Load()) }

// InFlight reports how many slots are currently claimed.
func (p *TxPool) InFlight() int { return MaxTxContexts - p.Free() }

// Reset re-arms every slot. The caller must guarantee no transfer is in
// flight; Reset does not synchronize with concurrent Acquire/Release.
func (p *TxPool) Reset() {
	for i := range p.slots {
		p.slots[i].state.Store(slotFree)
		p.slots[i].dlc = 0
	}
	p.free.Store(MaxTxContexts)
}
