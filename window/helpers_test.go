package window_test

import (
	"sync/atomic"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
)

// sinkCapture is a terminal pipeline.Handler used across this package's
// tests to count how many emitted window/join result buffers a
// downstream stage received.
type sinkCapture struct {
	received atomic.Int32
}

func (s *sinkCapture) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	s.received.Add(1)
	return queue.ResultOk, nil
}

func (s *sinkCapture) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
}
