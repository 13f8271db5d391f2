// Package pipeline implements the executable pipeline stage contract of
// spec.md section 4.3: execute(input, ctx, worker) -> ExecutionResult,
// where ExecutionResult is one of Ok, NeedsEmit, Retry, Fatal.
//
// Grounded on the batched-dispatch idiom of
// core/concurrency/eventloop.go (a pluggable handler registered against
// a dispatch loop, driven by a backing queue) generalized from
// EventLoop's single inbox to the worker-pool-fed queue.Stage contract,
// and on api.ContextFactory/api.Context for per-task scratch state.
package pipeline

import (
	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/nebulaerrors"
	"github.com/nebula-stream/node-engine/queue"
)

// Handler is a stage's operator logic: a window aggregator, a join
// probe, a filter/map, or a sink writer. Process must not call
// Release on buf; the owning Stage releases the task's reference
// automatically once Process returns, except when Process returns
// ResultRetry (the retried task keeps it). A handler that needs to retain
// buf past the call (e.g. a join build side storing tuples in a hash
// table) must call buf.Retain() first to take its own reference.
type Handler interface {
	Process(ctx *ExecutionContext, buf api.Buffer) (queue.Result, error)
	HandleReconfiguration(marker api.ReconfigurationMarker, ctx *ExecutionContext)
}

// Stage binds a Handler to an id, a single-threaded flag, and the set
// of downstream stages it may emit to. It implements queue.Stage.
type Stage struct {
	id             api.StageID
	singleThreaded bool
	handler        Handler
	pool           api.BufferPool
	downstream     []queue.Stage
	factory        api.ContextFactory
}

var _ queue.Stage = (*Stage)(nil)

// New constructs a Stage. factory may be nil, in which case the
// ExecutionContext's Context() accessor returns a fresh map-backed
// context per call.
func New(id api.StageID, singleThreaded bool, handler Handler, pool api.BufferPool, factory api.ContextFactory) *Stage {
	return &Stage{id: id, singleThreaded: singleThreaded, handler: handler, pool: pool, factory: factory}
}

// ID returns the stage's identifier.
func (s *Stage) ID() api.StageID { return s.id }

// SingleThreaded reports whether the scheduler must pin this stage's
// tasks to a single worker (spec.md section 4.2).
func (s *Stage) SingleThreaded() bool { return s.singleThreaded }

// SetDownstream replaces the stage's downstream targets. Not safe for
// concurrent use with Execute; call during plan assembly, before the
// stage is reachable from the task queue.
func (s *Stage) SetDownstream(stages ...queue.Stage) {
	s.downstream = stages
}

// Execute runs the handler and releases the task's buffer reference,
// unless the task is being retried. A reference the handler took with
// Retain is its own and is not released here.
// ResultRetry means the queue re-submits this exact Task (buf included)
// to the retry backlog, so the task still owns its reference to buf;
// releasing it here would return the segment to the pool while the
// backlog's copy still points at it, a use-after-free on the next
// retry attempt (spec.md section 8: "no buffer is ever released
// twice"/pool-exhaustion back-pressure scenario).
func (s *Stage) Execute(buf api.Buffer, wctx *queue.WorkerContext) (queue.Result, error) {
	ctx := &ExecutionContext{wctx: wctx, stage: s}
	res, err := s.handler.Process(ctx, buf)
	if res != queue.ResultRetry && buf.IsValid() {
		buf.Release()
	}
	return res, err
}

// HandleReconfiguration delegates to the handler.
func (s *Stage) HandleReconfiguration(marker api.ReconfigurationMarker, wctx *queue.WorkerContext) {
	ctx := &ExecutionContext{wctx: wctx, stage: s}
	s.handler.HandleReconfiguration(marker, ctx)
}

// ExecutionContext exposes the stage's buffer pool, per-worker identity,
// and the downstream emit callback to a running Handler (spec.md
// section 4.3).
type ExecutionContext struct {
	wctx  *queue.WorkerContext
	stage *Stage
}

// Pool returns the buffer pool the stage's handler should allocate
// output buffers from.
func (c *ExecutionContext) Pool() api.BufferPool { return c.stage.pool }

// WorkerID returns the id of the worker currently executing this task.
func (c *ExecutionContext) WorkerID() int { return c.wctx.WorkerID }

// Emit enqueues out as a new task for every downstream stage. A stage
// with no downstream targets (a sink) returns ErrInvalidArgument if
// Emit is called, since there is nowhere for the buffer to go.
func (c *ExecutionContext) Emit(out api.Buffer) error {
	if len(c.stage.downstream) == 0 {
		return nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"Emit called on a stage with no downstream targets")
	}
	for i, d := range c.stage.downstream {
		b := out
		if i > 0 {
			b = out.Retain()
		}
		if err := c.wctx.Emit(b, d); err != nil {
			return err
		}
	}
	return nil
}

// AllocateBuffer acquires an output buffer from the stage's pool,
// never blocking (spec.md section 4.3: "a stage may allocate output
// buffers from the pool").
func (c *ExecutionContext) AllocateBuffer() (api.Buffer, bool) {
	return c.stage.pool.TryAcquire()
}

// Context returns per-task scratch state for the running handler: the
// stage's ContextFactory's own Context if one was configured, or a
// fresh map-backed one otherwise. A new instance is returned on every
// call, matching api.Context's per-task-scoped contract.
func (c *ExecutionContext) Context() api.Context {
	if c.stage.factory != nil {
		return c.stage.factory.NewContext()
	}
	return newMapContext()
}
