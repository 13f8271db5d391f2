package buffer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/nebula-stream/node-engine/buffer"
)

func TestAcquireReleaseReuse(t *testing.T) {
	p := buffer.NewPool(128, 4)
	b, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if b.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", b.RefCount())
	}
	b.Release()
	if p.Available() != 4 {
		t.Fatalf("expected segment returned to pool, available=%d", p.Available())
	}
}

func TestReleaseZeroRefcountPanics(t *testing.T) {
	p := buffer.NewPool(64, 1)
	b, _ := p.Acquire(0)
	b.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing an already-released buffer")
		}
	}()
	b.Release()
}

func TestTryAcquireNeverBlocks(t *testing.T) {
	p := buffer.NewPool(64, 1)
	b1, ok := p.TryAcquire()
	if !ok {
		t.Fatal("expected first TryAcquire to succeed")
	}
	_, ok = p.TryAcquire()
	if ok {
		t.Fatal("expected second TryAcquire on exhausted pool to fail")
	}
	b1.Release()
	_, ok = p.TryAcquire()
	if !ok {
		t.Fatal("expected TryAcquire to succeed after release")
	}
}

// TestPoolExhaustionBackpressure runs 64 acquire/release cycles through
// a pool of 16 buffers (spec.md section 8 scenario 6): no acquire may
// time out, all 16 segments must be back in the pool afterwards, and
// no more than the 64 requested leases may be counted.
func TestPoolExhaustionBackpressure(t *testing.T) {
	const capacity = 16
	p := buffer.NewPool(64, capacity)

	var wg sync.WaitGroup
	produced := make(chan struct{}, 64)
	stopConsumer := make(chan struct{})
	var consumed int

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 64; i++ {
			b, err := p.Acquire(5 * time.Second)
			if err != nil {
				t.Errorf("producer blocked past deadline: %v", err)
				return
			}
			produced <- struct{}{}
			b.Release()
		}
	}()

	go func() {
		for range produced {
			consumed++
			if consumed == 64 {
				close(stopConsumer)
				return
			}
		}
	}()

	wg.Wait()
	<-stopConsumer
	close(produced)

	if p.Available() != capacity {
		t.Fatalf("expected all %d segments back in pool, got %d available", capacity, p.Available())
	}
	if p.Stats().TotalAcquired > 64 {
		t.Fatalf("over-allocated: %d", p.Stats().TotalAcquired)
	}
}

func TestSubpoolRefillsFromParent(t *testing.T) {
	parent := buffer.NewPool(32, 8)
	sub := parent.CreateSubpool(2)

	// Drain the subpool's own two segments without releasing.
	b1, ok := sub.TryAcquire()
	if !ok {
		t.Fatal("expected subpool to hand out its own segment")
	}
	b2, ok := sub.TryAcquire()
	if !ok {
		t.Fatal("expected subpool to hand out its second segment")
	}

	// A third acquire must refill from the parent under contention.
	b3, ok := sub.TryAcquire()
	if !ok {
		t.Fatal("expected subpool to refill from parent pool")
	}

	b1.Release()
	b2.Release()
	b3.Release()
}

func TestCloseWithLeasedBufferPanics(t *testing.T) {
	p := buffer.NewPool(32, 1)
	_, _ = p.Acquire(0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Close to panic with a leased buffer outstanding")
		}
	}()
	p.Close()
}
