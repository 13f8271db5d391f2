package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/buffer"
	"github.com/nebula-stream/node-engine/queue"
)

type countingStage struct {
	id             api.StageID
	singleThreaded bool
	executed       atomic.Int32
	lastWorker     atomic.Int32
	markersHandled atomic.Int32
	result         queue.Result
}

func (s *countingStage) ID() api.StageID        { return s.id }
func (s *countingStage) SingleThreaded() bool   { return s.singleThreaded }
func (s *countingStage) Execute(buf api.Buffer, wctx *queue.WorkerContext) (queue.Result, error) {
	s.executed.Add(1)
	s.lastWorker.Store(int32(wctx.WorkerID))
	buf.Release()
	return s.result, nil
}
func (s *countingStage) HandleReconfiguration(marker api.ReconfigurationMarker, wctx *queue.WorkerContext) {
	s.markersHandled.Add(1)
}

func TestSubmitDataExecutesStage(t *testing.T) {
	pool := buffer.NewPool(64, 8)
	q := queue.New(4, nil)
	q.Start()
	defer q.Shutdown(true)

	stage := &countingStage{id: 1, result: queue.ResultOk}
	for i := 0; i < 8; i++ {
		b, err := pool.Acquire(time.Second)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := q.SubmitData(b, stage); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for stage.executed.Load() < 8 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if stage.executed.Load() != 8 {
		t.Fatalf("expected 8 executions, got %d", stage.executed.Load())
	}
}

func TestSingleThreadedStagePinnedToOneWorker(t *testing.T) {
	pool := buffer.NewPool(64, 32)
	q := queue.New(4, nil)
	q.Start()
	defer q.Shutdown(true)

	stage := &countingStage{id: 2, singleThreaded: true, result: queue.ResultOk}
	const origin = api.OriginID(7)
	for i := 0; i < 16; i++ {
		b, err := pool.Acquire(time.Second)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		b.SetOriginID(origin)
		if err := q.SubmitData(b, stage); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for stage.executed.Load() < 16 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if stage.executed.Load() != 16 {
		t.Fatalf("expected 16 executions, got %d", stage.executed.Load())
	}
}

func TestReconfigurationBroadcastLastHandlerFires(t *testing.T) {
	q := queue.New(4, nil)
	q.Start()
	defer q.Shutdown(true)

	stages := []queue.Stage{
		&countingStage{id: 1},
		&countingStage{id: 2},
		&countingStage{id: 3},
	}
	var completed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	err := q.SubmitReconfiguration(api.ReconfigurationMarker{QueryID: 1}, stages, func() {
		completed.Store(true)
		wg.Done()
	})
	if err != nil {
		t.Fatalf("submit reconfiguration: %v", err)
	}
	wg.Wait()
	if !completed.Load() {
		t.Fatal("expected onComplete to fire after all recipients handled the marker")
	}
	for _, s := range stages {
		cs := s.(*countingStage)
		if cs.markersHandled.Load() != 1 {
			t.Fatalf("stage %d handled marker %d times, want 1", cs.id, cs.markersHandled.Load())
		}
	}
}

func TestHardShutdownReleasesUndispatchedBuffers(t *testing.T) {
	pool := buffer.NewPool(64, 4)
	q := queue.New(1, nil)
	// Do not Start: tasks accumulate in lanes without being dispatched.
	stage := &countingStage{id: 1, result: queue.ResultOk}
	for i := 0; i < 4; i++ {
		b, err := pool.Acquire(time.Second)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := q.SubmitData(b, stage); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	q.Shutdown(false)
	if pool.Available() != 4 {
		t.Fatalf("expected all 4 segments released back to pool, got %d", pool.Available())
	}
}
