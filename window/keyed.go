package window

import (
	"sync"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
)

type keyedShard struct {
	mu     sync.Mutex
	slices map[int64]map[uint64]Partial
}

// KeyedSlicingAggregator is the keyed variant of SlicingAggregator
// (spec.md section 4.4): partial-aggregate storage is a hash map keyed
// by the window's GROUP BY fields, sharded by key hash modulo shard
// count so high-cardinality keys spread ingest load across workers,
// grounded on internal/session/store.go's fnv32-hashed shard mask.
type KeyedSlicingAggregator struct {
	window   time.Duration
	slide    time.Duration
	sliceLen int64

	agg     Aggregation
	extract Extractor
	encode  OutputEncoder

	shards []*keyedShard
	mask   uint64

	wmMu          sync.Mutex
	originWM      map[api.OriginID]uint64
	stageWM       int64
	nextWindowIdx int64
}

var _ pipeline.Handler = (*KeyedSlicingAggregator)(nil)

// NewKeyedSlicingAggregator constructs a sharded keyed aggregator with
// shardCount independent key shards (rounded up to a power of two).
func NewKeyedSlicingAggregator(window, slide time.Duration, agg Aggregation, extract Extractor, encode OutputEncoder, shardCount int) *KeyedSlicingAggregator {
	if shardCount <= 0 {
		shardCount = 8
	}
	m := nextPowerOfTwo(uint64(shardCount))
	shards := make([]*keyedShard, m)
	for i := range shards {
		shards[i] = &keyedShard{slices: make(map[int64]map[uint64]Partial)}
	}
	return &KeyedSlicingAggregator{
		window:   window,
		slide:    slide,
		sliceLen: gcdNanos(window.Nanoseconds(), slide.Nanoseconds()),
		agg:      agg,
		extract:  extract,
		encode:   encode,
		shards:   shards,
		mask:     m - 1,
		originWM: make(map[api.OriginID]uint64),
	}
}

func (k *KeyedSlicingAggregator) shardFor(key uint64) *keyedShard {
	return k.shards[fnvMix64(key)&k.mask]
}

// fnvMix64 is a small integer-key hash (FNV-1a over the key's 8 bytes),
// used instead of hashing a string since keys here are already dense
// 64-bit values.
func fnvMix64(key uint64) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < 8; i++ {
		h ^= key & 0xff
		h *= prime
		key >>= 8
	}
	return h
}

func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

func (k *KeyedSlicingAggregator) sliceIndex(tsNanos int64) int64 { return tsNanos / k.sliceLen }

// Process ingests every tuple, routing each key to its shard, then
// advances watermarks and fires complete windows per key.
func (k *KeyedSlicingAggregator) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	n := int(buf.NumTuples())
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		ts, key, value, err := k.extract(buf, i)
		if err != nil {
			return queue.ResultFatal, err
		}
		idx := k.sliceIndex(ts)
		sh := k.shardFor(key)
		sh.mu.Lock()
		byKey, ok := sh.slices[idx]
		if !ok {
			byKey = make(map[uint64]Partial)
			sh.slices[idx] = byKey
		}
		if p, ok := byKey[key]; ok {
			byKey[key] = k.agg.Combine(p, k.agg.Lift(value))
		} else {
			byKey[key] = k.agg.Lift(value)
		}
		sh.mu.Unlock()
	}

	k.wmMu.Lock()
	origin := buf.OriginID()
	wm := buf.Watermark()
	if cur, ok := k.originWM[origin]; !ok || wm > cur {
		k.originWM[origin] = wm
	}
	var min int64 = -1
	for _, w := range k.originWM {
		v := int64(w)
		if min == -1 || v < min {
			min = v
		}
	}
	if min == -1 {
		min = 0
	}
	k.stageWM = min
	results := k.triggerLocked()
	k.wmMu.Unlock()

	for _, r := range results {
		out, ok := ctx.AllocateBuffer()
		if !ok {
			return queue.ResultRetry, nil
		}
		if err := k.encode(out, r.start, r.end, true, r.key, r.value); err != nil {
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

type keyedWindowResult struct {
	start, end int64
	key        uint64
	value      float64
}

// triggerLocked must be called with k.wmMu held; it scans every shard,
// which is the cost of sharding ingest: firing a window is O(shards).
func (k *KeyedSlicingAggregator) triggerLocked() []keyedWindowResult {
	windowNanos := k.window.Nanoseconds()
	slideNanos := k.slide.Nanoseconds()
	var out []keyedWindowResult
	for {
		start := k.nextWindowIdx * slideNanos
		end := start + windowNanos
		if end > k.stageWM {
			break
		}
		startIdx := start / k.sliceLen
		endIdx := end / k.sliceLen

		acc := make(map[uint64]Partial)
		for _, sh := range k.shards {
			sh.mu.Lock()
			for idx := startIdx; idx < endIdx; idx++ {
				byKey, ok := sh.slices[idx]
				if !ok {
					continue
				}
				for key, p := range byKey {
					if existing, ok := acc[key]; ok {
						acc[key] = k.agg.Combine(existing, p)
					} else {
						acc[key] = p
					}
				}
			}
			sh.mu.Unlock()
		}
		for key, p := range acc {
			out = append(out, keyedWindowResult{start: start, end: end, key: key, value: k.agg.Lower(p)})
		}

		k.nextWindowIdx++
		nextStart := k.nextWindowIdx * slideNanos
		evictBelow := nextStart / k.sliceLen
		for _, sh := range k.shards {
			sh.mu.Lock()
			for idx := range sh.slices {
				if idx < evictBelow {
					delete(sh.slices, idx)
				}
			}
			sh.mu.Unlock()
		}
	}
	return out
}

// HandleReconfiguration flushes complete windows on a drain marker.
func (k *KeyedSlicingAggregator) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
	for _, ev := range marker.Events {
		if ev.Kind == api.ReconfigDrain {
			k.wmMu.Lock()
			results := k.triggerLocked()
			k.wmMu.Unlock()
			for _, r := range results {
				out, ok := ctx.AllocateBuffer()
				if !ok {
					continue
				}
				if err := k.encode(out, r.start, r.end, true, r.key, r.value); err != nil {
					out.Release()
					continue
				}
				_ = ctx.Emit(out)
			}
		}
	}
}
