// Package plan implements the executable query plan lifecycle of
// spec.md section 4.6: the Created -> Registered -> Running ->
// Stopping -> Stopped/Failed state machine, driven by reconfiguration
// messages, with reference-counted source/sink teardown.
//
// Grounded on facade/hioload.go's New/Start/Stop/Shutdown
// single-owner-object pattern, generalized from one long-lived service
// object to many short-lived plan instances each owned by the engine's
// plan registry.
package plan

import (
	"sync"
	"sync/atomic"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/nebulaerrors"
	"github.com/nebula-stream/node-engine/queue"
)

// Source is a plan's entry point: something that produces buffers and
// feeds them into the first pipeline stage, e.g. a network source or a
// generator. Stop must be idempotent.
type Source interface {
	Start() error
	Stop(graceful bool) error
}

// Sink is a plan's terminal stage wrapper the teardown sequence needs
// to drain and close explicitly, independent of pipeline.Handler's
// buffer-release contract (a network sink, for instance, owns a
// socket).
type Sink interface {
	Close(graceful bool) error
}

// Plan is one executable query plan: a set of pipeline stages wired
// together, plus the sources/sinks the engine must start and tear down
// around them.
type Plan struct {
	ID      api.QueryID
	Version uint64

	q          *queue.Queue
	stages     []queue.Stage
	sources    []Source
	sinks      []Sink
	refs       atomic.Int32 // outstanding source+sink holders, for teardown ordering
	onFatal    func(error)
	statusOnce sync.Once

	mu     sync.Mutex
	status api.PlanStatus
}

// New constructs a plan in the Created state. q is the task queue/
// worker pool the plan's stages run on; the engine owns one queue per
// NodeEngine, shared across plans (spec.md section 4.7).
func New(id api.QueryID, q *queue.Queue, stages []queue.Stage, sources []Source, sinks []Sink, onFatal func(error)) *Plan {
	return &Plan{
		ID:      id,
		q:       q,
		stages:  stages,
		sources: sources,
		sinks:   sinks,
		onFatal: onFatal,
		status:  api.PlanCreated,
	}
}

// Status returns the plan's current lifecycle state.
func (p *Plan) Status() api.PlanStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Plan) transition(from []api.PlanStatus, to api.PlanStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range from {
		if p.status == f {
			p.status = to
			return nil
		}
	}
	return nebulaerrors.New(nebulaerrors.CodeInvalidTransition, nebulaerrors.ErrInvalidTransition,
		"plan state transition not permitted").
		WithContext("from", p.status.String()).
		WithContext("to", to.String())
}

// Register moves the plan Created -> Registered. It is a state
// transition only: it does not touch sources or sinks (network channel
// registration happens inside each Source's own Start) and does not
// validate the plan.
func (p *Plan) Register() error {
	return p.transition([]api.PlanStatus{api.PlanCreated}, api.PlanRegistered)
}

// Start moves the plan Registered -> Running and starts every source.
// Idempotent: calling Start on an already-Running plan succeeds
// without restarting sources (spec.md section 8's round-trip property).
func (p *Plan) Start() error {
	p.mu.Lock()
	if p.status == api.PlanRunning {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.transition([]api.PlanStatus{api.PlanRegistered}, api.PlanRunning); err != nil {
		return err
	}
	p.refs.Store(int32(len(p.sources) + len(p.sinks)))
	for _, src := range p.sources {
		if err := src.Start(); err != nil {
			p.fail(err)
			return err
		}
	}
	return nil
}

// Stop moves the plan Running -> Stopping -> Stopped. graceful=true
// drains sources before releasing sinks (SoftEndOfStream); graceful=false
// discards in-flight work immediately (HardEndOfStream). Idempotent on
// an already-Stopped plan.
func (p *Plan) Stop(graceful bool) error {
	p.mu.Lock()
	if p.status == api.PlanStopped {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.transition([]api.PlanStatus{api.PlanRunning}, api.PlanStopping); err != nil {
		// Created/Registered plans can stop directly to Stopped with no
		// teardown work to do.
		if err2 := p.transition([]api.PlanStatus{api.PlanCreated, api.PlanRegistered}, api.PlanStopped); err2 == nil {
			return nil
		}
		return err
	}

	for _, src := range p.sources {
		if err := src.Stop(graceful); err != nil && p.onFatal != nil {
			p.onFatal(err)
		}
		p.releaseRef()
	}
	for _, sink := range p.sinks {
		if err := sink.Close(graceful); err != nil && p.onFatal != nil {
			p.onFatal(err)
		}
		p.releaseRef()
	}
	return p.transition([]api.PlanStatus{api.PlanStopping}, api.PlanStopped)
}

// releaseRef decrements the plan's outstanding holder count. Each
// sink/source maintains its own refcount so teardown waits for the
// last holder, per spec.md section 4.6.
func (p *Plan) releaseRef() { p.refs.Add(-1) }

func (p *Plan) fail(cause error) {
	p.mu.Lock()
	p.status = api.PlanFailed
	p.mu.Unlock()
	if p.onFatal != nil {
		p.onFatal(cause)
	}
}

// OwnsStage reports whether id belongs to one of this plan's pipeline
// stages. The engine uses this to attribute a queue.ResultFatal back
// to the plan it occurred on (spec.md section 7).
func (p *Plan) OwnsStage(id api.StageID) bool {
	for _, s := range p.stages {
		if s.ID() == id {
			return true
		}
	}
	return false
}

// HandlerFault transitions the plan to Failed after one of its stages
// returned queue.ResultFatal, and broadcasts a FailEndOfStream marker
// to every stage so sinks terminate their downstream channel with
// TerminationFailure. Per spec.md section 7 this is a local, per-plan
// failure (HandlerFault), distinct from a FatalEngineError: other
// plans sharing the same engine and task queue are unaffected. A no-op
// on a plan that has already stopped or failed.
func (p *Plan) HandlerFault(cause error) {
	p.mu.Lock()
	if p.status == api.PlanFailed || p.status == api.PlanStopped {
		p.mu.Unlock()
		return
	}
	p.status = api.PlanFailed
	p.mu.Unlock()
	_ = p.Broadcast(api.ReconfigurationMarker{
		QueryID: p.ID,
		Events:  []api.ReconfigurationEvent{{Kind: api.ReconfigFailEnd}},
	}, nil)
	if p.onFatal != nil {
		p.onFatal(cause)
	}
}

// Broadcast delivers marker to every stage in the plan via the shared
// queue's reference-count-decrement pattern (spec.md section 4.2),
// invoking onComplete once every stage has handled it.
func (p *Plan) Broadcast(marker api.ReconfigurationMarker, onComplete func()) error {
	return p.q.SubmitReconfiguration(marker, p.stages, onComplete)
}
