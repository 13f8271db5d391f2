package window

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
)

// JoinVariant selects one of the four build-side table strategies
// spec.md section 4.4 names for the windowed equi-join handler.
type JoinVariant int

const (
	// HashJoinLocal keeps one hash table per worker, merged at probe.
	HashJoinLocal JoinVariant = iota
	// HashJoinGlobalLocking keeps one shared table behind a coarse mutex.
	HashJoinGlobalLocking
	// HashJoinGlobalLockFree keeps one shared table with CAS bucket insert.
	HashJoinGlobalLockFree
	// NestedLoopJoin keeps a flat per-window vector, scanned linearly; a
	// fallback for small windows where hashing isn't worth it.
	NestedLoopJoin
)

// JoinExtractor pulls the event timestamp and equi-join key out of one
// tuple of a join-side buffer.
type JoinExtractor func(buf api.Buffer, tupleIndex int) (timestampNanos int64, key uint64, err error)

// JoinPredicate further restricts a key match between a build-side and
// probe-side tuple (spec.md section 4.4: "emit the cartesian product
// restricted to the predicate").
type JoinPredicate func(build, probe api.Buffer, buildIdx, probeIdx int) bool

// JoinEmitter writes one matched (build, probe) tuple pair to an output
// buffer and hands it to ctx.Emit.
type JoinEmitter func(ctx *pipeline.ExecutionContext, build, probe api.Buffer, buildIdx, probeIdx int) error

// joinEntry is one stored build-side tuple: a retained buffer plus the
// index of the specific tuple within it that was inserted.
type joinEntry struct {
	buf api.Buffer
	idx int
}

// pagedVector is a build-side bucket: entries grown in page-sized
// chunks to bound reallocation, per spec.md's "paged vector of tuples"
// with a configurable page size.
type pagedVector struct {
	pageSize int
	entries  []joinEntry
}

func newPagedVector(pageSize int) *pagedVector {
	if pageSize <= 0 {
		pageSize = 64
	}
	return &pagedVector{pageSize: pageSize, entries: make([]joinEntry, 0, pageSize)}
}

func (p *pagedVector) append(e joinEntry) {
	if len(p.entries) == cap(p.entries) {
		grown := make([]joinEntry, len(p.entries), cap(p.entries)+p.pageSize)
		copy(grown, p.entries)
		p.entries = grown
	}
	p.entries = append(p.entries, e)
}

// lockingTable is the HashJoinGlobalLocking build-side table: a single
// coarse mutex guards every bucket.
type lockingTable struct {
	mu       sync.Mutex
	pageSize int
	buckets  map[uint64]*pagedVector
}

func newLockingTable(pageSize int) *lockingTable {
	return &lockingTable{pageSize: pageSize, buckets: make(map[uint64]*pagedVector)}
}

func (t *lockingTable) insert(key uint64, e joinEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pv, ok := t.buckets[key]
	if !ok {
		pv = newPagedVector(t.pageSize)
		t.buckets[key] = pv
	}
	pv.append(e)
}

func (t *lockingTable) lookup(key uint64) []joinEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	pv, ok := t.buckets[key]
	if !ok {
		return nil
	}
	out := make([]joinEntry, len(pv.entries))
	copy(out, pv.entries)
	return out
}

// lockFreeTable is the HashJoinGlobalLockFree build-side table: each
// bucket is a CAS-swapped slice pointer, so concurrent inserts to
// different keys never contend, and inserts to the same key retry
// instead of blocking on a mutex.
type lockFreeTable struct {
	buckets sync.Map // uint64 -> *atomic.Pointer[[]joinEntry]
}

func newLockFreeTable() *lockFreeTable { return &lockFreeTable{} }

func (t *lockFreeTable) insert(key uint64, e joinEntry) {
	v, _ := t.buckets.LoadOrStore(key, new(atomic.Pointer[[]joinEntry]))
	ptr := v.(*atomic.Pointer[[]joinEntry])
	for {
		old := ptr.Load()
		var oldSlice []joinEntry
		if old != nil {
			oldSlice = *old
		}
		next := make([]joinEntry, len(oldSlice), len(oldSlice)+1)
		copy(next, oldSlice)
		next = append(next, e)
		if ptr.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (t *lockFreeTable) lookup(key uint64) []joinEntry {
	v, ok := t.buckets.Load(key)
	if !ok {
		return nil
	}
	ptr := v.(*atomic.Pointer[[]joinEntry])
	p := ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Engine coordinates the two sides of a windowed equi-join. Build one
// Engine per join operator and attach its LeftHandler/RightHandler to
// the two upstream stages.
type Engine struct {
	variant     JoinVariant
	windowNanos int64
	extract     JoinExtractor
	predicate   JoinPredicate
	emit        JoinEmitter
	pageSize    int

	mu sync.Mutex // guards the maps below for the Local/NestedLoop variants

	lockingLeft, lockingRight   *lockingTable
	lockFreeLeft, lockFreeRight *lockFreeTable

	// workerID -> windowIdx -> table; each worker-owned table uses its
	// own mutex and is never contended cross-worker on insert.
	localLeft, localRight map[int]map[int64]*lockingTable

	// NestedLoopJoin: one flat vector per window, no hashing.
	flatLeft, flatRight map[int64]*pagedVector
}

// NewEngine constructs a join engine for a tumbling window of the given
// size (windows are [k*window, (k+1)*window)).
func NewEngine(variant JoinVariant, window time.Duration, extract JoinExtractor, predicate JoinPredicate, emit JoinEmitter, pageSize int) *Engine {
	e := &Engine{
		variant:     variant,
		windowNanos: window.Nanoseconds(),
		extract:     extract,
		predicate:   predicate,
		emit:        emit,
		pageSize:    pageSize,
	}
	switch variant {
	case HashJoinGlobalLocking:
		e.lockingLeft = newLockingTable(pageSize)
		e.lockingRight = newLockingTable(pageSize)
	case HashJoinGlobalLockFree:
		e.lockFreeLeft = newLockFreeTable()
		e.lockFreeRight = newLockFreeTable()
	case HashJoinLocal:
		e.localLeft = make(map[int]map[int64]*lockingTable)
		e.localRight = make(map[int]map[int64]*lockingTable)
	case NestedLoopJoin:
		e.flatLeft = make(map[int64]*pagedVector)
		e.flatRight = make(map[int64]*pagedVector)
	}
	return e
}

func (e *Engine) windowIndex(tsNanos int64) int64 { return tsNanos / e.windowNanos }

// LeftHandler returns a pipeline.Handler for the engine's left side.
func (e *Engine) LeftHandler() pipeline.Handler { return &joinSide{engine: e, left: true} }

// RightHandler returns a pipeline.Handler for the engine's right side.
func (e *Engine) RightHandler() pipeline.Handler { return &joinSide{engine: e, left: false} }

type joinSide struct {
	engine *Engine
	left   bool
}

var _ pipeline.Handler = (*joinSide)(nil)

func (s *joinSide) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	e := s.engine
	n := int(buf.NumTuples())
	if n == 0 {
		n = 1
	}
	emitted := false
	for i := 0; i < n; i++ {
		ts, key, err := e.extract(buf, i)
		if err != nil {
			return queue.ResultFatal, err
		}
		idx := e.windowIndex(ts)
		retained := buf.Retain()
		ok, err := e.insertAndProbe(ctx, idx, key, joinEntry{buf: retained, idx: i}, s.left)
		if err != nil {
			return queue.ResultFatal, err
		}
		if ok {
			emitted = true
		}
	}
	if emitted {
		return queue.ResultNeedsEmit, nil
	}
	return queue.ResultOk, nil
}

// insertAndProbe inserts this into this side's build table at window
// idx and probes the opposite side's table for matches, emitting the
// cartesian product restricted by the predicate.
func (e *Engine) insertAndProbe(ctx *pipeline.ExecutionContext, idx int64, key uint64, this joinEntry, isLeft bool) (bool, error) {
	switch e.variant {
	case HashJoinGlobalLocking:
		own, other := e.lockingLeft, e.lockingRight
		if !isLeft {
			own, other = e.lockingRight, e.lockingLeft
		}
		own.insert(key, this)
		return e.emitMatches(ctx, other.lookup(key), this, isLeft)

	case HashJoinGlobalLockFree:
		own, other := e.lockFreeLeft, e.lockFreeRight
		if !isLeft {
			own, other = e.lockFreeRight, e.lockFreeLeft
		}
		own.insert(key, this)
		return e.emitMatches(ctx, other.lookup(key), this, isLeft)

	case HashJoinLocal:
		e.mu.Lock()
		ownMap, otherMap := e.localLeft, e.localRight
		if !isLeft {
			ownMap, otherMap = e.localRight, e.localLeft
		}
		wid := ctx.WorkerID()
		perWindow, ok := ownMap[wid]
		if !ok {
			perWindow = make(map[int64]*lockingTable)
			ownMap[wid] = perWindow
		}
		table, ok := perWindow[idx]
		if !ok {
			table = newLockingTable(e.pageSize)
			perWindow[idx] = table
		}
		table.insert(key, this)
		// Merge matches across every worker's local table for this window.
		var matches []joinEntry
		for _, otherPerWindow := range otherMap {
			if t, ok := otherPerWindow[idx]; ok {
				matches = append(matches, t.lookup(key)...)
			}
		}
		e.mu.Unlock()
		return e.emitMatches(ctx, matches, this, isLeft)

	default: // NestedLoopJoin
		e.mu.Lock()
		ownMap, otherMap := e.flatLeft, e.flatRight
		if !isLeft {
			ownMap, otherMap = e.flatRight, e.flatLeft
		}
		pv, ok := ownMap[idx]
		if !ok {
			pv = newPagedVector(e.pageSize)
			ownMap[idx] = pv
		}
		pv.append(this)
		var matches []joinEntry
		if opv, ok := otherMap[idx]; ok {
			matches = make([]joinEntry, len(opv.entries))
			copy(matches, opv.entries)
		}
		e.mu.Unlock()
		return e.emitMatches(ctx, matches, this, isLeft)
	}
}

func (e *Engine) emitMatches(ctx *pipeline.ExecutionContext, candidates []joinEntry, this joinEntry, isLeft bool) (bool, error) {
	emitted := false
	for _, cand := range candidates {
		var left, right joinEntry
		if isLeft {
			left, right = this, cand
		} else {
			left, right = cand, this
		}
		if !e.predicate(left.buf, right.buf, left.idx, right.idx) {
			continue
		}
		if err := e.emit(ctx, left.buf, right.buf, left.idx, right.idx); err != nil {
			return emitted, err
		}
		emitted = true
	}
	return emitted, nil
}

func (s *joinSide) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
}
