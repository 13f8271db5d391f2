// Package engine implements the NodeEngine of spec.md section 4.7: the
// top-level owner of the buffer pool, partition manager, task queue,
// network manager, and the registry of active query plans.
//
// Grounded on facade/hioload.go's New/Start/Stop orchestration of
// independently constructed subsystems behind one facade object,
// generalized here from a fixed WebSocket-gateway subsystem set to
// spec.md's deploy/register/start/stop/unregister/undeploy surface over
// many independent plans.
package engine

import (
	"os"
	"sync"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/internal/logging"
	"github.com/nebula-stream/node-engine/nebulaerrors"
	"github.com/nebula-stream/node-engine/partition"
	"github.com/nebula-stream/node-engine/plan"
	"github.com/nebula-stream/node-engine/queue"
)

// Config bundles the construction-time parameters for a NodeEngine,
// mirroring facade.Config's role for HioloadWS.
type Config struct {
	NumWorkers       int
	PartitionShards  int
	ParentNodeID     uint64
	Logger           *logging.Logger
}

// NodeEngine owns every worker-side subsystem and the registry of
// plans currently deployed on this node.
type NodeEngine struct {
	cfg       Config
	pool      api.BufferPool
	registry  *partition.Registry
	q         *queue.Queue
	log       *logging.Logger
	parentID  uint64

	mu    sync.RWMutex
	plans map[api.QueryID]*plan.Plan
}

// New constructs a NodeEngine bound to pool, with its own task queue
// and partition registry sized from cfg.
func New(cfg Config, pool api.BufferPool) *NodeEngine {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.PartitionShards <= 0 {
		cfg.PartitionShards = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("info")
	}
	e := &NodeEngine{
		cfg:      cfg,
		pool:     pool,
		registry: partition.NewRegistry(cfg.PartitionShards),
		parentID: cfg.ParentNodeID,
		log:      cfg.Logger,
		plans:    make(map[api.QueryID]*plan.Plan),
	}
	e.q = queue.New(cfg.NumWorkers, e.onFatal)
	e.q.Start()
	return e
}

// Pool returns the engine's shared buffer pool.
func (e *NodeEngine) Pool() api.BufferPool { return e.pool }

// Registry returns the engine's partition manager.
func (e *NodeEngine) Registry() *partition.Registry { return e.registry }

// Queue returns the engine's task queue and worker pool, shared by
// every deployed plan's stages (spec.md section 4.7).
func (e *NodeEngine) Queue() *queue.Queue { return e.q }

// Register adds p to the registry in the Created/Registered state
// without starting it. Returns ErrAlreadyExists if p.ID is already
// registered.
func (e *NodeEngine) Register(p *plan.Plan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.plans[p.ID]; ok {
		return nebulaerrors.New(nebulaerrors.CodeAlreadyExists, nebulaerrors.ErrAlreadyExists,
			"query already registered")
	}
	if err := p.Register(); err != nil {
		return err
	}
	e.plans[p.ID] = p
	return nil
}

// Start begins the plan identified by id.
func (e *NodeEngine) Start(id api.QueryID) error {
	p, err := e.lookup(id)
	if err != nil {
		return err
	}
	return p.Start()
}

// Stop stops the plan identified by id, idempotently.
func (e *NodeEngine) Stop(id api.QueryID, graceful bool) error {
	p, err := e.lookup(id)
	if err != nil {
		return err
	}
	return p.Stop(graceful)
}

// Unregister removes a stopped plan from the registry. Subsequent
// Status calls for id return PlanInvalid, per spec.md section 4.6.
func (e *NodeEngine) Unregister(id api.QueryID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[id]
	if !ok {
		return nebulaerrors.New(nebulaerrors.CodeNotFound, nebulaerrors.ErrNotFound, "query not found")
	}
	if p.Status() != api.PlanStopped && p.Status() != api.PlanFailed {
		if err := p.Stop(false); err != nil {
			return err
		}
	}
	delete(e.plans, id)
	return nil
}

// Deploy is register+start in one call.
func (e *NodeEngine) Deploy(p *plan.Plan) error {
	if err := e.Register(p); err != nil {
		return err
	}
	return e.Start(p.ID)
}

// Undeploy is stop+unregister in one call.
func (e *NodeEngine) Undeploy(id api.QueryID) error {
	if err := e.Stop(id, true); err != nil {
		return err
	}
	return e.Unregister(id)
}

// Shutdown stops every deployed plan gracefully and shuts the task
// queue down, implementing api.GracefulShutdown.
func (e *NodeEngine) Shutdown() error {
	e.mu.RLock()
	plans := make([]*plan.Plan, 0, len(e.plans))
	for _, p := range e.plans {
		plans = append(plans, p)
	}
	e.mu.RUnlock()
	for _, p := range plans {
		_ = p.Stop(true)
	}
	e.q.Shutdown(true)
	return nil
}

var _ api.GracefulShutdown = (*NodeEngine)(nil)

// Status returns the plan's lifecycle status, or PlanInvalid if id is
// not currently registered.
func (e *NodeEngine) Status(id api.QueryID) api.PlanStatus {
	p, err := e.lookup(id)
	if err != nil {
		return api.PlanInvalid
	}
	return p.Status()
}

func (e *NodeEngine) lookup(id api.QueryID) (*plan.Plan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plans[id]
	if !ok {
		return nil, nebulaerrors.New(nebulaerrors.CodeNotFound, nebulaerrors.ErrNotFound, "query not found")
	}
	return p, nil
}

// PropagateMarker broadcasts marker to every local plan carrying a
// matching reconfiguration event in its map (spec.md section 4.7).
// Plans without a matching event are skipped silently.
func (e *NodeEngine) PropagateMarker(marker api.ReconfigurationMarker) {
	e.mu.RLock()
	plans := make([]*plan.Plan, 0, len(e.plans))
	for _, p := range e.plans {
		if p.ID == marker.QueryID {
			plans = append(plans, p)
		}
	}
	e.mu.RUnlock()
	for _, p := range plans {
		_ = p.Broadcast(marker, nil)
	}
}

// onFatal is the task queue's single ResultFatal callback. A stage's
// fault is attributed to whichever registered plan owns it and handled
// as a local HandlerFault there; only a ResultFatal that cannot be
// attributed to any currently registered plan (the stage was never
// registered, or its plan has already been unregistered) is treated as
// spec.md section 4.7's onFatalException: stop every plan hard and
// exit the process. This keeps a single bad handler in one query from
// taking down every other query running on the node (spec.md section 7
// distinguishes HandlerFault, local to its plan, from FatalEngineError,
// which is engine-wide).
func (e *NodeEngine) onFatal(err error, stage queue.Stage) {
	if p := e.planForStage(stage.ID()); p != nil {
		e.log.WithField("component", "engine").Warnf("handler fault on query %d: %v", p.ID, err)
		p.HandlerFault(err)
		return
	}
	e.log.WithField("component", "engine").Errorf("fatal engine error: %v", err)
	e.mu.RLock()
	plans := make([]*plan.Plan, 0, len(e.plans))
	for _, p := range e.plans {
		plans = append(plans, p)
	}
	e.mu.RUnlock()
	for _, p := range plans {
		_ = p.Stop(false)
	}
	os.Exit(2)
}

// planForStage returns the registered plan that owns stage id, or nil
// if no currently registered plan claims it.
func (e *NodeEngine) planForStage(id api.StageID) *plan.Plan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.plans {
		if p.OwnsStage(id) {
			return p
		}
	}
	return nil
}
