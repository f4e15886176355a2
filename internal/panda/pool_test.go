package panda

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestPoolExhaustion(t *testing.T) {
	var exhausted atomic.Int32
	var freed atomic.Int32
	p := NewTxPool(func() { exhausted.Add(1) }, func() { freed.Add(1) })

	ctxs := make([]*TxContext, 0, MaxTxContexts)
	for i := 0; i < MaxTxContexts; i++ {
		ctx, ok := p.Acquire(8)
		if !ok {
			t.Fatalf("acquire %d failed with free slots remaining", i)
		}
		ctxs = append(ctxs, ctx)
	}
	if got := exhausted.Load(); got != 1 {
		t.Fatalf("exhausted hook fired %d times over %d acquires, want exactly 1", got, MaxTxContexts)
	}
	if p.Free() != 0 {
		t.Fatalf("Free() = %d after draining the pool, want 0", p.Free())
	}

	// The 21st frame finds no slot and must fail cleanly.
	if _, ok := p.Acquire(8); ok {
		t.Fatalf("acquire succeeded on an exhausted pool")
	}
	if got := exhausted.Load(); got != 1 {
		t.Fatalf("failed acquire fired the exhausted hook (count %d)", got)
	}

	for _, ctx := range ctxs {
		p.Release(ctx)
	}
	if p.Free() != MaxTxContexts {
		t.Fatalf("Free() = %d after releasing all, want %d", p.Free(), MaxTxContexts)
	}
	if got := freed.Load(); got != MaxTxContexts {
		t.Fatalf("freed hook fired %d times, want %d", got, MaxTxContexts)
	}
}

func TestPoolRecordsDLC(t *testing.T) {
	p := NewTxPool(nil, nil)
	ctx, ok := p.Acquire(5)
	if !ok {
		t.Fatalf("acquire failed on a fresh pool")
	}
	if ctx.DLC() != 5 {
		t.Fatalf("DLC() = %d, want 5", ctx.DLC())
	}
	if ctx.Index() < 0 || ctx.Index() >= MaxTxContexts {
		t.Fatalf("Index() = %d out of range", ctx.Index())
	}
	p.Release(ctx)
}

// Slot ownership must be exclusive under genuine parallelism: no index is
// handed out while still claimed, and the free count matches the slot
// states once everything quiesces.
func TestPoolConcurrentAcquireRelease(t *testing.T) {
	p := NewTxPool(nil, nil)
	var owned [MaxTxContexts]atomic.Int32
	var handouts atomic.Int64

	const workers = 8
	const iters = 5000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				ctx, ok := p.Acquire(uint8(i % 9))
				if !ok {
					continue
				}
				if !owned[ctx.Index()].CompareAndSwap(0, 1) {
					t.Errorf("slot %d handed out while in flight", ctx.Index())
					p.Release(ctx)
					return
				}
				owned[ctx.Index()].Store(0)
				p.Release(ctx)
				handouts.Add(1)
			}
		}()
	}
	wg.Wait()

	if p.Free() != MaxTxContexts {
		t.Fatalf("Free() = %d at quiescence, want %d", p.Free(), MaxTxContexts)
	}
	for i := range p.slots {
		if p.slots[i].state.Load() != slotFree {
			t.Fatalf("slot %d not free at quiescence", i)
		}
	}
	if handouts.Load() == 0 {
		t.Fatalf("no successful acquires during stress run")
	}
}

func TestPoolReset(t *testing.T) {
	p := NewTxPool(nil, nil)
	for i := 0; i < 7; i++ {
		if _, ok := p.Acquire(1); !ok {
			t.Fatalf("acquire %d failed", i)
		}
	}
	p.Reset()
	if p.Free() != MaxTxContexts {
		t.Fatalf("Free() = %d after Reset, want %d", p.Free(), MaxTxContexts)
	}
	if p.InFlight() != 0 {
		t.Fatalf("InFlight() = %d after Reset, want 0", p.InFlight())
	}
}
