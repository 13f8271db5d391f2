// Package partition implements the partition manager of spec.md section
// 4.8: a registry mapping a PartitionKey to a LocalConsumer, with
// per-subpartition expected-producer counts so the entry disappears once
// the last producer deregisters. Grounded on the sharded, fnv32-hashed
// SessionManager of internal/session/store.go, generalized from a
// string-keyed map to an api.PartitionKey-keyed map and from a plain
// create/get/delete surface to the refcounted register/deregister
// surface spec.md describes.
package partition

import (
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/nebulaerrors"
)

// LocalConsumer is either a pipeline-stage entry point (for sources) or
// an event-consumer (for sinks), addressed by a PartitionKey.
type LocalConsumer interface {
	// Consume hands a leased buffer to the consumer. Ownership of the
	// buffer's reference passes to the callee.
	Consume(buf api.Buffer) error

	// HandleEvent delivers a reconfiguration event out of band from data.
	HandleEvent(ev api.ReconfigurationEvent)
}

// Registry maps PartitionKey to LocalConsumer. Lookups are safe for
// concurrent use from any number of goroutines; Range is a point-in-time
// snapshot, not a live iterator (spec.md section 4.8: "iteration is not"
// thread-safe in the sense of a stable live view).
type Registry struct {
	shards []*shard
	mask   uint32
}

type entry struct {
	consumer          LocalConsumer
	expectedProducers uint32
	registered        uint32
}

type shard struct {
	mu      sync.RWMutex
	entries map[api.PartitionKey]*entry
}

// NewRegistry constructs a sharded registry with shardCount shards,
// rounded up to the next power of two for mask-based shard selection.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{entries: make(map[api.PartitionKey]*entry)}
	}
	return &Registry{shards: shards, mask: m - 1}
}

func (r *Registry) shardFor(key api.PartitionKey) *shard {
	return r.shards[fnv32Key(key)&r.mask]
}

// Register binds consumer to key, expecting expectedProducers distinct
// deregistrations before the entry is dropped. Calling Register again
// for the same key with an already-registered consumer is an error;
// spec.md section 4.8 registers a subpartition once, at source/sink
// startup.
func (r *Registry) Register(key api.PartitionKey, consumer LocalConsumer, expectedProducers uint32) error {
	if !key.Valid() {
		return nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"invalid partition key").WithContext("key", key.String())
	}
	if expectedProducers == 0 {
		expectedProducers = 1
	}
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[key]; ok {
		return nebulaerrors.New(nebulaerrors.CodeAlreadyExists, nebulaerrors.ErrAlreadyExists,
			"partition already registered").WithContext("key", key.String())
	}
	sh.entries[key] = &entry{consumer: consumer, expectedProducers: expectedProducers}
	return nil
}

// Lookup returns the consumer bound to key, if any.
func (r *Registry) Lookup(key api.PartitionKey) (LocalConsumer, bool) {
	sh := r.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	return e.consumer, true
}

// Deregister records one producer's departure from key. The entry is
// removed once the number of deregistrations reaches the
// expectedProducers count supplied at Register time. Returns whether
// the entry was removed (the last producer left).
func (r *Registry) Deregister(key api.PartitionKey) (removed bool, err error) {
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		return false, nebulaerrors.New(nebulaerrors.CodeNotFound, nebulaerrors.ErrPartitionNotFound,
			"partition not registered").WithContext("key", key.String())
	}
	e.registered++
	if e.registered >= e.expectedProducers {
		delete(sh.entries, key)
		return true, nil
	}
	return false, nil
}

// Range applies fn to a snapshot of all currently registered
// (key, consumer) pairs. fn must not call back into Register or
// Deregister on the same registry.
func (r *Registry) Range(fn func(api.PartitionKey, LocalConsumer)) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		snap := make(map[api.PartitionKey]LocalConsumer, len(sh.entries))
		for k, e := range sh.entries {
			snap[k] = e.consumer
		}
		sh.mu.RUnlock()
		for k, c := range snap {
			fn(k, c)
		}
	}
}

// Len reports the total number of registered partitions across shards.
func (r *Registry) Len() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

func fnv32Key(key api.PartitionKey) uint32 {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatUint(uint64(key.SharedQueryID), 16)))
	h.Write([]byte(strconv.FormatUint(uint64(key.DecomposedQueryID), 16)))
	h.Write([]byte(strconv.FormatUint(uint64(key.OperatorID), 16)))
	h.Write([]byte(strconv.FormatUint(uint64(key.SubpartitionIndex), 16)))
	return h.Sum32()
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
