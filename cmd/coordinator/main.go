// Command coordinator runs the NebulaStream coordinator's topology
// registration endpoint (spec.md section 6). Query compilation,
// placement, and the full REST surface are external to this module;
// this binary implements the worker-facing slice the NodeEngine needs
// to interoperate with: topology registration.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nebula-stream/node-engine/internal/config"
	"github.com/nebula-stream/node-engine/internal/logging"
	"github.com/nebula-stream/node-engine/internal/topology"
)

// registry tracks registered workers in memory, enough to satisfy
// spec.md section 6's registration contract without a real placement
// or scheduling engine.
type registry struct {
	mu      sync.Mutex
	nextID  uint64
	workers map[uint64]topology.RegisterRequest
}

func newRegistry() *registry {
	return &registry{workers: make(map[uint64]topology.RegisterRequest)}
}

func (r *registry) register(req topology.RegisterRequest) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	req.WorkerID = r.nextID
	r.workers[r.nextID] = req
	return r.nextID
}

func main() {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the NebulaStream coordinator's topology service",
		RunE:  runCoordinator,
	}
	cmd.Flags().Uint16("coordinatorPort", 4000, "coordinator RPC listen port")
	cmd.Flags().Uint16("rpcPort", 4000, "internal RPC port")
	cmd.Flags().Uint16("restPort", 8081, "REST API port")
	cmd.Flags().Uint32("numberOfSlots", 1, "scheduling slots advertised to workers")
	cmd.Flags().String("logLevel", "info", "log level name")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(config.ExitConfigError))
	}
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.ParseCoordinator(os.Args[1:])
	if err != nil {
		os.Exit(int(config.ExitConfigError))
	}
	log := logging.New(cfg.LogLevel)
	reg := newRegistry()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/nes/topology/register", func(w http.ResponseWriter, r *http.Request) {
		var req topology.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(topology.RegisterResponse{Error: err.Error()})
			return
		}
		id := reg.register(req)
		log.WithField("component", "coordinator").Infof("worker %d registered from %s", id, req.RPCAddress)
		json.NewEncoder(w).Encode(topology.RegisterResponse{Accepted: true, ParentID: 0})
	})

	addr := fmt.Sprintf(":%d", cfg.RESTPort)
	log.WithField("component", "coordinator").Infof("listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithField("component", "coordinator").Errorf("serve: %v", err)
		os.Exit(int(config.ExitFatalRuntime))
	}
	return nil
}
