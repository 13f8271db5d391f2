package grpcapi_test

import (
	"context"
	"testing"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/buffer"
	"github.com/nebula-stream/node-engine/engine"
	"github.com/nebula-stream/node-engine/grpcapi"
	"github.com/nebula-stream/node-engine/plan"
)

type noopSource struct{}

func (noopSource) Start() error    { return nil }
func (noopSource) Stop(bool) error { return nil }

func newTestServer(t *testing.T) (*grpcapi.Server, *engine.NodeEngine) {
	t.Helper()
	pool := buffer.NewPool(16, 64)
	eng := engine.New(engine.Config{NumWorkers: 1}, pool)
	builder := func(id api.QueryID, raw []byte) (*plan.Plan, error) {
		return plan.New(id, eng.Queue(), nil, []plan.Source{noopSource{}}, nil, nil), nil
	}
	return grpcapi.NewServer(eng, builder), eng
}

// callHandler drives a grpc.MethodDesc's Handler directly, bypassing
// transport, which is the same pattern controller/util/grpc.go's test
// helpers use to exercise handlers without a live listener.
func callHandler(t *testing.T, srv *grpcapi.Server, method string, req any, into any) {
	t.Helper()
	for _, m := range grpcapi.ServiceDesc.Methods {
		if m.MethodName != method {
			continue
		}
		dec := func(v any) error {
			ptrTo(v, req)
			return nil
		}
		resp, err := m.Handler(srv, context.Background(), dec, nil)
		if err != nil {
			t.Fatalf("%s: handler error: %v", method, err)
		}
		assignResp(into, resp)
		return
	}
	t.Fatalf("no method %s in ServiceDesc", method)
}

func ptrTo(dst any, src any) {
	switch d := dst.(type) {
	case *grpcapi.RegisterQueryRequest:
		*d = *src.(*grpcapi.RegisterQueryRequest)
	case *grpcapi.StartQueryRequest:
		*d = *src.(*grpcapi.StartQueryRequest)
	case *grpcapi.StopQueryRequest:
		*d = *src.(*grpcapi.StopQueryRequest)
	case *grpcapi.UnregisterQueryRequest:
		*d = *src.(*grpcapi.UnregisterQueryRequest)
	case *grpcapi.QueryStatusRequest:
		*d = *src.(*grpcapi.QueryStatusRequest)
	case *grpcapi.ReconfigureRequest:
		*d = *src.(*grpcapi.ReconfigureRequest)
	}
}

func assignResp(into any, resp any) {
	switch dst := into.(type) {
	case *grpcapi.RegisterQueryResponse:
		*dst = *resp.(*grpcapi.RegisterQueryResponse)
	case *grpcapi.StartQueryResponse:
		*dst = *resp.(*grpcapi.StartQueryResponse)
	case *grpcapi.StopQueryResponse:
		*dst = *resp.(*grpcapi.StopQueryResponse)
	case *grpcapi.UnregisterQueryResponse:
		*dst = *resp.(*grpcapi.UnregisterQueryResponse)
	case *grpcapi.QueryStatusResponse:
		*dst = *resp.(*grpcapi.QueryStatusResponse)
	case *grpcapi.ReconfigureResponse:
		*dst = *resp.(*grpcapi.ReconfigureResponse)
	}
}

func TestRegisterStartStatusStopUnregister(t *testing.T) {
	srv, _ := newTestServer(t)

	var regResp grpcapi.RegisterQueryResponse
	callHandler(t, srv, "RegisterQuery", &grpcapi.RegisterQueryRequest{QueryID: 9}, &regResp)
	if !regResp.Accepted {
		t.Fatalf("register not accepted: %s", regResp.Error)
	}

	var startResp grpcapi.StartQueryResponse
	callHandler(t, srv, "StartQuery", &grpcapi.StartQueryRequest{QueryID: 9}, &startResp)
	if !startResp.Accepted {
		t.Fatalf("start not accepted: %s", startResp.Error)
	}

	var statusResp grpcapi.QueryStatusResponse
	callHandler(t, srv, "QueryStatus", &grpcapi.QueryStatusRequest{QueryID: 9}, &statusResp)
	if statusResp.Status != api.PlanRunning.String() {
		t.Fatalf("expected Running, got %s", statusResp.Status)
	}

	var stopResp grpcapi.StopQueryResponse
	callHandler(t, srv, "StopQuery", &grpcapi.StopQueryRequest{QueryID: 9, Graceful: true}, &stopResp)
	if !stopResp.Accepted {
		t.Fatalf("stop not accepted: %s", stopResp.Error)
	}

	var unregResp grpcapi.UnregisterQueryResponse
	callHandler(t, srv, "UnregisterQuery", &grpcapi.UnregisterQueryRequest{QueryID: 9}, &unregResp)
	if !unregResp.Accepted {
		t.Fatalf("unregister not accepted: %s", unregResp.Error)
	}

	callHandler(t, srv, "QueryStatus", &grpcapi.QueryStatusRequest{QueryID: 9}, &statusResp)
	if statusResp.Status != api.PlanInvalid.String() {
		t.Fatalf("expected Invalid after unregister, got %s", statusResp.Status)
	}
}

func TestReconfigureRejectsUnknownEventKind(t *testing.T) {
	srv, _ := newTestServer(t)
	var resp grpcapi.ReconfigureResponse
	callHandler(t, srv, "Reconfigure", &grpcapi.ReconfigureRequest{QueryID: 1, EventKind: 99}, &resp)
	if resp.Accepted {
		t.Fatal("expected rejection of out-of-range event kind")
	}
}
