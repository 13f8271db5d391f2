// Command worker runs one NebulaStream worker node: a NodeEngine
// exposing the control-plane gRPC surface, self-registering with a
// coordinator over HTTP (spec.md section 6).
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/nebula-stream/node-engine/buffer"
	"github.com/nebula-stream/node-engine/engine"
	"github.com/nebula-stream/node-engine/grpcapi"
	"github.com/nebula-stream/node-engine/internal/config"
	"github.com/nebula-stream/node-engine/internal/logging"
	"github.com/nebula-stream/node-engine/internal/topology"
	"github.com/nebula-stream/node-engine/plan"
	"github.com/nebula-stream/node-engine/api"
)

func main() {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a NebulaStream worker node",
		RunE:  runWorker,
	}
	registerWorkerFlags(cmd)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(config.ExitConfigError))
	}
}

// registerWorkerFlags mirrors config.ParseWorker's flag set on the
// cobra command so --help documents the exact names spec.md section 6
// specifies, while parsing itself still goes through
// config.ParseWorker against os.Args for a single source of truth.
func registerWorkerFlags(cmd *cobra.Command) {
	cmd.Flags().Uint16("coordinatorPort", 4000, "coordinator RPC port to connect to")
	cmd.Flags().Uint16("rpcPort", 4001, "this worker's RPC listen port")
	cmd.Flags().Uint16("dataPort", 4002, "this worker's data-plane listen port")
	cmd.Flags().Uint32("numberOfSlots", 1, "scheduling slots this worker offers")
	cmd.Flags().String("sourceType", "", "physical source type")
	cmd.Flags().String("sourceConfig", "", "path to physical source configuration")
	cmd.Flags().Uint32("numberOfBuffersInGlobalBufferManager", 1024, "global buffer pool size")
	cmd.Flags().Uint32("numberOfBuffersPerWorker", 128, "per-worker subpool size")
	cmd.Flags().Uint32("numberOfBuffersInSourceLocalBufferPool", 64, "per-source local buffer pool size")
	cmd.Flags().Uint32("bufferSizeInBytes", 4096, "byte size of one pooled buffer")
	cmd.Flags().String("physicalStreamName", "", "physical stream identifier")
	cmd.Flags().String("logicalStreamName", "", "logical stream identifier")
	cmd.Flags().Uint64("numberOfBuffersToProduce", 0, "buffer count for a generator source, 0 means unbounded")
	cmd.Flags().Uint64("numberOfTuplesToProducePerBuffer", 0, "tuples per generated buffer")
	cmd.Flags().Uint64("sourceFrequency", 0, "generator source emission interval in milliseconds, 0 means unthrottled")
	cmd.Flags().String("logLevel", "info", "log level name")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.ParseWorker(os.Args[1:])
	if err != nil {
		os.Exit(int(config.ExitConfigError))
	}
	log := logging.New(cfg.LogLevel)

	pool := buffer.NewPool(int(cfg.BufferSizeInBytes), int(cfg.NumberOfBuffersInGlobalBufferManager))
	eng := engine.New(engine.Config{
		NumWorkers:      4,
		PartitionShards: 16,
		Logger:          log,
	}, pool)

	builder := func(id api.QueryID, raw []byte) (*plan.Plan, error) {
		return nil, fmt.Errorf("query compiler is external to this module; no plan builder configured for query %d", id)
	}
	server := grpcapi.NewServer(eng, builder)
	gs := grpcapi.NewGRPCServer()
	grpcapi.RegisterServer(gs, server)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.RPCPort))
	if err != nil {
		log.WithField("component", "worker").Errorf("listen rpc: %v", err)
		os.Exit(int(config.ExitFatalRuntime))
	}

	client := topology.NewClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.CoordinatorPort))
	if _, err := client.Register(context.Background(), topology.RegisterRequest{
		RPCAddress:    ln.Addr().String(),
		DataAddress:   fmt.Sprintf(":%d", cfg.DataPort),
		NumberOfSlots: cfg.NumberOfSlots,
	}); err != nil {
		log.WithField("component", "worker").Warnf("topology self-registration failed: %v", err)
	}

	log.WithField("component", "worker").Infof("listening on %s", ln.Addr().String())
	if err := gs.Serve(ln); err != nil {
		log.WithField("component", "worker").Errorf("serve: %v", err)
		os.Exit(int(config.ExitFatalRuntime))
	}
	return nil
}
