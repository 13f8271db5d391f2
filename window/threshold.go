package window

import (
	"sync"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
)

// Predicate evaluates a tuple's boolean condition for a threshold
// window (spec.md section 4.4): a window opens on a false->true
// transition and closes on true->false.
type Predicate func(buf api.Buffer, tupleIndex int) (bool, float64, error)

// ThresholdWindow is the non-time-based window of spec.md section 4.4:
// it opens when Predicate transitions false->true and closes on
// true->false, optionally requiring a minimum tuple count before it
// will emit.
type ThresholdWindow struct {
	mu sync.Mutex

	predicate Predicate
	agg       Aggregation
	encode    OutputEncoder
	minCount  int

	open    bool
	partial Partial
	count   int
	startSeq uint64
}

var _ pipeline.Handler = (*ThresholdWindow)(nil)

// NewThresholdWindow constructs a threshold window requiring at least
// minCount tuples accumulated before it will emit on close.
func NewThresholdWindow(predicate Predicate, agg Aggregation, encode OutputEncoder, minCount int) *ThresholdWindow {
	return &ThresholdWindow{predicate: predicate, agg: agg, encode: encode, minCount: minCount}
}

func (t *ThresholdWindow) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	n := int(buf.NumTuples())
	if n == 0 {
		n = 1
	}

	t.mu.Lock()
	var toEmit *windowResult
	for i := 0; i < n; i++ {
		cond, value, err := t.predicate(buf, i)
		if err != nil {
			t.mu.Unlock()
			return queue.ResultFatal, err
		}
		switch {
		case cond && !t.open:
			t.open = true
			t.count = 0
			t.startSeq = buf.SequenceNumber()
		case !cond && t.open:
			t.open = false
			if t.count >= t.minCount {
				toEmit = &windowResult{start: int64(t.startSeq), end: int64(buf.SequenceNumber()), value: t.agg.Lower(t.partial)}
			}
			t.count = 0
			t.partial = nil
		}
		if t.open {
			p := t.agg.Lift(value)
			if t.count == 0 {
				t.partial = p
			} else {
				t.partial = t.agg.Combine(t.partial, p)
			}
			t.count++
		}
	}
	t.mu.Unlock()

	if toEmit == nil {
		return queue.ResultOk, nil
	}
	out, ok := ctx.AllocateBuffer()
	if !ok {
		return queue.ResultRetry, nil
	}
	if err := t.encode(out, toEmit.start, toEmit.end, false, 0, toEmit.value); err != nil {
		out.Release()
		return queue.ResultFatal, err
	}
	if err := ctx.Emit(out); err != nil {
		return queue.ResultFatal, err
	}
	return queue.ResultNeedsEmit, nil
}

func (t *ThresholdWindow) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
}
