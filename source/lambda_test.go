package source_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/buffer"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
	"github.com/nebula-stream/node-engine/source"
)

type countingHandler struct {
	count atomic.Int64
}

func (h *countingHandler) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	h.count.Add(1)
	return queue.ResultOk, nil
}

func (h *countingHandler) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
}

func TestLambdaSourceFeedsStage(t *testing.T) {
	pool := buffer.NewPool(16, 64)
	q := queue.New(2, func(error, queue.Stage) {})
	q.Start()
	defer q.Shutdown(false)

	handler := &countingHandler{}
	stage := pipeline.New(1, false, handler, pool, nil)

	gen := func(buf api.Buffer, sequence uint64) (int, error) {
		buf.SetNumTuples(1)
		buf.SetTupleSize(8)
		return 1, nil
	}
	src := source.NewLambdaSource(pool, q, stage, api.OriginID(1), 5*time.Millisecond, gen)
	if err := src.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for handler.count.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := src.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if handler.count.Load() < 3 {
		t.Fatalf("expected at least 3 fired buffers, got %d", handler.count.Load())
	}
}
