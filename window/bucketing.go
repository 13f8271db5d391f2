package window

import (
	"sync"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
)

type bucket struct {
	start, end int64
	partial    Partial
	has        bool
}

// BucketingAggregator is the alternative windowing strategy of spec.md
// section 4.4: every window is its own bucket, and an ingested tuple
// updates every open bucket containing its timestamp, trading O(W/S)
// per-tuple update work for simpler trigger logic. Chosen over slicing
// when W/S is small.
type BucketingAggregator struct {
	mu sync.Mutex

	window time.Duration
	slide  time.Duration

	agg     Aggregation
	extract Extractor
	encode  OutputEncoder

	buckets       map[int64]*bucket // keyed by window index (start = idx*slide)
	originWM      map[api.OriginID]uint64
	stageWM       int64
	nextFireIdx   int64
	highestOpened int64
}

var _ pipeline.Handler = (*BucketingAggregator)(nil)

// NewBucketingAggregator constructs a bucketing aggregator for a window
// of the given size and slide.
func NewBucketingAggregator(window, slide time.Duration, agg Aggregation, extract Extractor, encode OutputEncoder) *BucketingAggregator {
	return &BucketingAggregator{
		window:   window,
		slide:    slide,
		agg:      agg,
		extract:  extract,
		encode:   encode,
		buckets:  make(map[int64]*bucket),
		originWM: make(map[api.OriginID]uint64),
	}
}

func (b *BucketingAggregator) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	windowNanos := b.window.Nanoseconds()
	slideNanos := b.slide.Nanoseconds()
	n := int(buf.NumTuples())
	if n == 0 {
		n = 1
	}

	b.mu.Lock()
	for i := 0; i < n; i++ {
		ts, _, value, err := b.extract(buf, i)
		if err != nil {
			b.mu.Unlock()
			return queue.ResultFatal, err
		}
		// Lazily open every window whose range could contain ts: the
		// earliest candidate index is the one whose window ends just
		// after ts, i.e. idx such that idx*slide <= ts < idx*slide+window.
		lowIdx := (ts - windowNanos) / slideNanos
		if lowIdx < 0 {
			lowIdx = 0
		}
		highIdx := ts / slideNanos
		if highIdx < b.highestOpened {
			highIdx = b.highestOpened
		}
		for idx := lowIdx; idx <= highIdx; idx++ {
			start := idx * slideNanos
			end := start + windowNanos
			if ts < start || ts >= end {
				continue
			}
			bk, ok := b.buckets[idx]
			if !ok {
				bk = &bucket{start: start, end: end}
				b.buckets[idx] = bk
			}
			p := b.agg.Lift(value)
			if bk.has {
				bk.partial = b.agg.Combine(bk.partial, p)
			} else {
				bk.partial = p
				bk.has = true
			}
		}
		if highIdx > b.highestOpened {
			b.highestOpened = highIdx
		}
	}

	origin := buf.OriginID()
	wm := buf.Watermark()
	if cur, ok := b.originWM[origin]; !ok || wm > cur {
		b.originWM[origin] = wm
	}
	var min int64 = -1
	for _, w := range b.originWM {
		v := int64(w)
		if min == -1 || v < min {
			min = v
		}
	}
	if min == -1 {
		min = 0
	}
	b.stageWM = min

	var results []windowResult
	for {
		bk, ok := b.buckets[b.nextFireIdx]
		start := b.nextFireIdx * slideNanos
		end := start + windowNanos
		if end > b.stageWM {
			break
		}
		if ok && bk.has {
			results = append(results, windowResult{start: start, end: end, value: b.agg.Lower(bk.partial)})
		}
		delete(b.buckets, b.nextFireIdx)
		b.nextFireIdx++
	}
	b.mu.Unlock()

	for _, r := range results {
		out, ok := ctx.AllocateBuffer()
		if !ok {
			return queue.ResultRetry, nil
		}
		if err := b.encode(out, r.start, r.end, false, 0, r.value); err != nil {
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

func (b *BucketingAggregator) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
}
