// Package source provides plan.Source implementations that produce
// buffers from inside the process rather than over the network, for
// local testing and for workloads that generate their own data.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/queue"
)

// Generator fills buf with one buffer's worth of tuples and returns the
// tuple count actually written. Returning 0 with a nil error ends the
// stream gracefully.
type Generator func(buf api.Buffer, sequence uint64) (int, error)

// LambdaSource drives a Generator at a fixed frequency, submitting each
// produced buffer to the first stage of a plan via the shared queue.
// Supplemented from original_source's YSBGeneratorSource (a
// callback-driven load generator used by Yahoo Streaming
// Benchmark-style scenarios), generalized here to an arbitrary
// Generator closure rather than one hardcoded event schema.
type LambdaSource struct {
	pool      api.BufferPool
	q         *queue.Queue
	stage     queue.Stage
	originID  api.OriginID
	gen       Generator
	frequency time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLambdaSource constructs a source that calls gen every frequency
// tick, acquiring a buffer from pool and submitting it to stage through
// q. originID is stamped on every produced buffer.
func NewLambdaSource(pool api.BufferPool, q *queue.Queue, stage queue.Stage, originID api.OriginID, frequency time.Duration, gen Generator) *LambdaSource {
	return &LambdaSource{pool: pool, q: q, stage: stage, originID: originID, frequency: frequency, gen: gen}
}

// Start begins the generator loop. Implements plan.Source.
func (s *LambdaSource) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop cancels the generator loop. graceful is accepted for interface
// compatibility but has no additional effect: the next tick after
// cancellation simply does not fire.
func (s *LambdaSource) Stop(graceful bool) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *LambdaSource) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.frequency)
	defer ticker.Stop()
	var sequence uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.fire(&sequence) {
				return
			}
		}
	}
}

func (s *LambdaSource) fire(sequence *uint64) bool {
	buf, err := s.pool.Acquire(time.Second)
	if err != nil {
		return true // transient pool pressure, try again next tick
	}
	*sequence++
	n, err := s.gen(buf, *sequence)
	if err != nil || n == 0 {
		buf.Release()
		return false
	}
	buf.SetOriginID(s.originID)
	buf.SetSequenceNumber(api.SequenceNumber(*sequence))
	if err := s.q.SubmitData(buf, s.stage); err != nil {
		buf.Release()
	}
	return true
}
