package plan_test

import (
	"testing"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/plan"
	"github.com/nebula-stream/node-engine/queue"
)

type fakeSource struct {
	started, stopped int
}

func (f *fakeSource) Start() error        { f.started++; return nil }
func (f *fakeSource) Stop(bool) error     { f.stopped++; return nil }

type fakeSink struct{ closed int }

func (f *fakeSink) Close(bool) error { f.closed++; return nil }

func TestPlanLifecycleHappyPath(t *testing.T) {
	q := queue.New(2, nil)
	src := &fakeSource{}
	sink := &fakeSink{}
	p := plan.New(1, q, nil, []plan.Source{src}, []plan.Sink{sink}, nil)

	if p.Status() != api.PlanCreated {
		t.Fatalf("expected Created, got %v", p.Status())
	}
	if err := p.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.Status() != api.PlanRunning {
		t.Fatalf("expected Running, got %v", p.Status())
	}
	if src.started != 1 {
		t.Fatalf("expected source started once, got %d", src.started)
	}

	// Idempotent start.
	if err := p.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if src.started != 1 {
		t.Fatalf("expected source still started once after idempotent Start, got %d", src.started)
	}

	if err := p.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.Status() != api.PlanStopped {
		t.Fatalf("expected Stopped, got %v", p.Status())
	}
	if src.stopped != 1 || sink.closed != 1 {
		t.Fatalf("expected one stop/close each, got %d/%d", src.stopped, sink.closed)
	}

	// Idempotent stop.
	if err := p.Stop(true); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if src.stopped != 1 {
		t.Fatalf("expected source still stopped once after idempotent Stop, got %d", src.stopped)
	}
}

func TestPlanStartWithoutRegisterFails(t *testing.T) {
	q := queue.New(1, nil)
	p := plan.New(1, q, nil, nil, nil, nil)
	if err := p.Start(); err == nil {
		t.Fatal("expected Start on a Created plan to fail")
	}
}
