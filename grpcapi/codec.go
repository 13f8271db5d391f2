// Package grpcapi exposes the worker's control-plane gRPC service
// (spec.md section 6: RegisterQuery, StartQuery, StopQuery,
// UnregisterQuery, QueryStatus, Reconfigure), built directly against
// google.golang.org/grpc's low-level grpc.ServiceDesc/grpc.NewServer
// surface rather than protoc-generated stubs, with a JSON wire codec
// forced on the server via grpc.ForceServerCodec (see NewGRPCServer) so
// no .proto toolchain step is required to build this module.
//
// Grounded on controller/util/grpc.go's grpc.NewServer-with-options
// idiom (generalized here from Prometheus interceptors to a forced
// codec option) and the wider pack's use of
// google.golang.org/grpc (pulled in via linkerd-linkerd2's go.mod,
// which also grounds sirupsen/logrus, spf13/cobra, and spf13/pflag
// as this module's domain-adjacent CLI/RPC/logging stack).
package grpcapi

import "encoding/json"

// jsonCodec implements encoding.Codec by marshaling every request/
// response message as JSON, so the service descriptor below never
// needs generated protobuf message types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }
