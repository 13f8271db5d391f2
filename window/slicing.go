package window

import (
	"sync"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
)

func gcdNanos(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

type sliceEntry struct {
	global    Partial
	hasGlobal bool
}

// SlicingAggregator implements the default non-keyed slicing strategy
// of spec.md section 4.4: slices of length L = gcd(window, slide),
// combined and emitted as each window's end falls behind the per-stage
// watermark (the minimum watermark across contributing origins).
type SlicingAggregator struct {
	mu sync.Mutex

	window   time.Duration
	slide    time.Duration
	sliceLen int64 // nanoseconds

	agg     Aggregation
	extract Extractor
	encode  OutputEncoder
	pool    api.BufferPool

	slices        map[int64]*sliceEntry
	originWM      map[api.OriginID]uint64
	stageWM       int64
	nextWindowIdx int64
}

var _ pipeline.Handler = (*SlicingAggregator)(nil)

// NewSlicingAggregator constructs a slicing aggregator for a window of
// the given size and slide, using agg as the accumulation algebra.
// Output buffers come from the running stage's pool via
// ExecutionContext.AllocateBuffer; the pool argument is stored but not
// used for them. encode serializes an emitted window result into one.
func NewSlicingAggregator(window, slide time.Duration, agg Aggregation, extract Extractor, encode OutputEncoder, pool api.BufferPool) *SlicingAggregator {
	return &SlicingAggregator{
		window:   window,
		slide:    slide,
		sliceLen: gcdNanos(window.Nanoseconds(), slide.Nanoseconds()),
		agg:      agg,
		extract:  extract,
		encode:   encode,
		pool:     pool,
		slices:   make(map[int64]*sliceEntry),
		originWM: make(map[api.OriginID]uint64),
	}
}

// LiveSliceCount reports the number of slices currently retained,
// which must never exceed window/gcd(window,slide).
func (s *SlicingAggregator) LiveSliceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slices)
}

func (s *SlicingAggregator) sliceIndex(tsNanos int64) int64 {
	return tsNanos / s.sliceLen
}

// Process ingests every tuple in buf, advances the origin/stage
// watermark, and fires any windows whose end has fallen at or behind
// the new stage watermark.
func (s *SlicingAggregator) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	n := int(buf.NumTuples())
	if n == 0 {
		n = 1
	}
	s.mu.Lock()
	for i := 0; i < n; i++ {
		ts, _, value, err := s.extract(buf, i)
		if err != nil {
			s.mu.Unlock()
			return queue.ResultFatal, err
		}
		idx := s.sliceIndex(ts)
		e, ok := s.slices[idx]
		if !ok {
			e = &sliceEntry{}
			s.slices[idx] = e
		}
		p := s.agg.Lift(value)
		if e.hasGlobal {
			e.global = s.agg.Combine(e.global, p)
		} else {
			e.global = p
			e.hasGlobal = true
		}
	}
	origin := buf.OriginID()
	wm := buf.Watermark()
	if cur, ok := s.originWM[origin]; !ok || wm > cur {
		s.originWM[origin] = wm
	}
	s.stageWM = s.minWatermarkLocked()
	results, err := s.triggerLocked()
	s.mu.Unlock()

	if err != nil {
		return queue.ResultFatal, err
	}
	for _, r := range results {
		out, ok := ctx.AllocateBuffer()
		if !ok {
			return queue.ResultRetry, nil
		}
		if err := s.encode(out, r.start, r.end, false, 0, r.value); err != nil {
			out.Release()
			return queue.ResultFatal, err
		}
		if err := ctx.Emit(out); err != nil {
			return queue.ResultFatal, err
		}
	}
	if len(results) > 0 {
		return queue.ResultNeedsEmit, nil
	}
	return queue.ResultOk, nil
}

type windowResult struct {
	start, end int64
	value      float64
}

func (s *SlicingAggregator) minWatermarkLocked() int64 {
	var min int64 = -1
	for _, wm := range s.originWM {
		v := int64(wm)
		if min == -1 || v < min {
			min = v
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// triggerLocked must be called with s.mu held. It fires every window
// whose end has reached the stage watermark, evicting slices no longer
// referenced by any pending window as it goes.
func (s *SlicingAggregator) triggerLocked() ([]windowResult, error) {
	windowNanos := s.window.Nanoseconds()
	slideNanos := s.slide.Nanoseconds()
	var out []windowResult
	for {
		start := s.nextWindowIdx * slideNanos
		end := start + windowNanos
		if end > s.stageWM {
			break
		}
		startIdx := start / s.sliceLen
		endIdx := end / s.sliceLen
		var acc Partial
		has := false
		for idx := startIdx; idx < endIdx; idx++ {
			e, ok := s.slices[idx]
			if !ok || !e.hasGlobal {
				continue
			}
			if has {
				acc = s.agg.Combine(acc, e.global)
			} else {
				acc = e.global
				has = true
			}
		}
		if has {
			out = append(out, windowResult{start: start, end: end, value: s.agg.Lower(acc)})
		}
		s.nextWindowIdx++
		nextStart := s.nextWindowIdx * slideNanos
		evictBelow := nextStart / s.sliceLen
		for idx := range s.slices {
			if idx < evictBelow {
				delete(s.slices, idx)
			}
		}
	}
	return out, nil
}

// HandleReconfiguration flushes any windows that are complete given the
// current stage watermark; it does not force-close partial windows,
// matching spec.md section 4.2's soft-shutdown drain semantics (a hard
// shutdown discards the aggregator's state along with its stage).
func (s *SlicingAggregator) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
	for _, ev := range marker.Events {
		if ev.Kind == api.ReconfigDrain {
			s.mu.Lock()
			results, _ := s.triggerLocked()
			s.mu.Unlock()
			for _, r := range results {
				out, ok := ctx.AllocateBuffer()
				if !ok {
					continue
				}
				if err := s.encode(out, r.start, r.end, false, 0, r.value); err != nil {
					out.Release()
					continue
				}
				_ = ctx.Emit(out)
			}
		}
	}
}
