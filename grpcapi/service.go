package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/engine"
	"github.com/nebula-stream/node-engine/plan"
)

// PlanBuilder decodes an opaque serialized plan (spec.md section 6:
// "compiled-stage identifiers...the query compiler produced") into an
// executable plan.Plan. The query compiler itself is external to this
// module; callers supply a PlanBuilder that knows their compiler's
// wire format.
type PlanBuilder func(id api.QueryID, raw []byte) (*plan.Plan, error)

// Server implements the worker's control-plane RPCs against a
// NodeEngine.
type Server struct {
	eng     *engine.NodeEngine
	builder PlanBuilder
}

// NewServer constructs a Server bound to eng. builder is invoked for
// every RegisterQuery call to turn its opaque plan payload into a
// plan.Plan.
func NewServer(eng *engine.NodeEngine, builder PlanBuilder) *Server {
	return &Server{eng: eng, builder: builder}
}

func (s *Server) registerQuery(ctx context.Context, req *RegisterQueryRequest) (*RegisterQueryResponse, error) {
	p, err := s.builder(api.QueryID(req.QueryID), req.Plan)
	if err != nil {
		return &RegisterQueryResponse{Accepted: false, Error: err.Error()}, nil
	}
	if err := s.eng.Register(p); err != nil {
		return &RegisterQueryResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &RegisterQueryResponse{Accepted: true}, nil
}

func (s *Server) startQuery(ctx context.Context, req *StartQueryRequest) (*StartQueryResponse, error) {
	if err := s.eng.Start(api.QueryID(req.QueryID)); err != nil {
		return &StartQueryResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &StartQueryResponse{Accepted: true}, nil
}

func (s *Server) stopQuery(ctx context.Context, req *StopQueryRequest) (*StopQueryResponse, error) {
	if err := s.eng.Stop(api.QueryID(req.QueryID), req.Graceful); err != nil {
		return &StopQueryResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &StopQueryResponse{Accepted: true}, nil
}

func (s *Server) unregisterQuery(ctx context.Context, req *UnregisterQueryRequest) (*UnregisterQueryResponse, error) {
	if err := s.eng.Unregister(api.QueryID(req.QueryID)); err != nil {
		return &UnregisterQueryResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &UnregisterQueryResponse{Accepted: true}, nil
}

func (s *Server) queryStatus(ctx context.Context, req *QueryStatusRequest) (*QueryStatusResponse, error) {
	return &QueryStatusResponse{Status: s.eng.Status(api.QueryID(req.QueryID)).String()}, nil
}

func (s *Server) reconfigure(ctx context.Context, req *ReconfigureRequest) (*ReconfigureResponse, error) {
	if req.EventKind < int(api.ReconfigDrain) || req.EventKind > int(api.ReconfigFailEnd) {
		return &ReconfigureResponse{Accepted: false, Error: fmt.Sprintf("unknown event kind %d", req.EventKind)}, nil
	}
	marker := api.ReconfigurationMarker{
		QueryID: api.QueryID(req.QueryID),
		Version: req.Version,
		Events: []api.ReconfigurationEvent{
			{Kind: api.ReconfigurationKind(req.EventKind), Payload: req.Payload},
		},
	}
	s.eng.PropagateMarker(marker)
	return &ReconfigureResponse{Accepted: true}, nil
}

func unaryHandler[Req, Resp any](fn func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		if interceptor == nil {
			return fn(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(s, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the hand-authored grpc.ServiceDesc for the worker
// control plane, written by hand rather than generated by protoc. The
// JSON codec comes from the server built by NewGRPCServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "nebulastream.worker.WorkerControl",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterQuery", Handler: unaryHandler[RegisterQueryRequest, RegisterQueryResponse]((*Server).registerQuery)},
		{MethodName: "StartQuery", Handler: unaryHandler[StartQueryRequest, StartQueryResponse]((*Server).startQuery)},
		{MethodName: "StopQuery", Handler: unaryHandler[StopQueryRequest, StopQueryResponse]((*Server).stopQuery)},
		{MethodName: "UnregisterQuery", Handler: unaryHandler[UnregisterQueryRequest, UnregisterQueryResponse]((*Server).unregisterQuery)},
		{MethodName: "QueryStatus", Handler: unaryHandler[QueryStatusRequest, QueryStatusResponse]((*Server).queryStatus)},
		{MethodName: "Reconfigure", Handler: unaryHandler[ReconfigureRequest, ReconfigureResponse]((*Server).reconfigure)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nebulastream/worker.proto",
}

// RegisterServer registers s against gs. The JSON codec is used only if
// gs was built by NewGRPCServer.
func RegisterServer(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// NewGRPCServer constructs a grpc.Server with the JSON codec forced,
// per this package's doc comment.
func NewGRPCServer() *grpc.Server {
	return grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
}
