// Package config parses the two executables' CLI surfaces (spec.md
// section 6) with github.com/spf13/pflag, the long-option flag parser
// grounded on linkerd-linkerd2's CLI stack (the teacher carries no CLI
// dependency; cobra/pflag are the corpus's CLI libraries, pulled in
// from the wider example pack). NES_LOG_LEVEL and NES_DATA_DIR
// override their matching flags when set.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// ExitCode enumerates the process exit codes spec.md section 6 assigns.
type ExitCode int

const (
	ExitNormal            ExitCode = 0
	ExitConfigError       ExitCode = 1
	ExitFatalRuntime      ExitCode = 2
	ExitDeploymentFailure ExitCode = 3
)

// Coordinator holds the coordinator executable's parsed flags.
type Coordinator struct {
	CoordinatorPort uint16
	RPCPort         uint16
	RESTPort        uint16
	NumberOfSlots   uint32
	LogLevel        string
}

// ParseCoordinator parses args (typically os.Args[1:]) into a
// Coordinator config, applying the NES_LOG_LEVEL environment override
// last.
func ParseCoordinator(args []string) (*Coordinator, error) {
	fs := pflag.NewFlagSet("coordinator", pflag.ContinueOnError)
	c := &Coordinator{}
	fs.Uint16Var(&c.CoordinatorPort, "coordinatorPort", 4000, "coordinator RPC listen port")
	fs.Uint16Var(&c.RPCPort, "rpcPort", 4000, "internal RPC port")
	fs.Uint16Var(&c.RESTPort, "restPort", 8081, "REST API port")
	var slots uint32
	fs.Uint32Var(&slots, "numberOfSlots", 1, "scheduling slots advertised to workers")
	fs.StringVar(&c.LogLevel, "logLevel", "info", "log level name")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse coordinator flags: %w", err)
	}
	c.NumberOfSlots = slots
	if v := os.Getenv("NES_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return c, nil
}

// Worker holds the worker executable's parsed flags.
type Worker struct {
	CoordinatorPort uint16
	RPCPort         uint16
	DataPort        uint16
	NumberOfSlots   uint32

	SourceType   string
	SourceConfig string

	NumberOfBuffersInGlobalBufferManager   uint32
	NumberOfBuffersPerWorker               uint32
	NumberOfBuffersInSourceLocalBufferPool uint32
	BufferSizeInBytes                      uint32

	PhysicalStreamName string
	LogicalStreamName  string

	NumberOfBuffersToProduce         uint64
	NumberOfTuplesToProducePerBuffer uint64
	SourceFrequency                  uint64

	LogLevel string
	DataDir  string
}

// ParseWorker parses args into a Worker config, applying NES_LOG_LEVEL
// and NES_DATA_DIR environment overrides last.
func ParseWorker(args []string) (*Worker, error) {
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	w := &Worker{}
	fs.Uint16Var(&w.CoordinatorPort, "coordinatorPort", 4000, "coordinator RPC port to connect to")
	fs.Uint16Var(&w.RPCPort, "rpcPort", 4001, "this worker's RPC listen port")
	fs.Uint16Var(&w.DataPort, "dataPort", 4002, "this worker's data-plane listen port")
	fs.Uint32Var(&w.NumberOfSlots, "numberOfSlots", 1, "scheduling slots this worker offers")

	fs.StringVar(&w.SourceType, "sourceType", "", "physical source type")
	fs.StringVar(&w.SourceConfig, "sourceConfig", "", "path to physical source configuration")

	fs.Uint32Var(&w.NumberOfBuffersInGlobalBufferManager, "numberOfBuffersInGlobalBufferManager", 1024, "global buffer pool size")
	fs.Uint32Var(&w.NumberOfBuffersPerWorker, "numberOfBuffersPerWorker", 128, "per-worker subpool size")
	fs.Uint32Var(&w.NumberOfBuffersInSourceLocalBufferPool, "numberOfBuffersInSourceLocalBufferPool", 64, "per-source local buffer pool size")
	fs.Uint32Var(&w.BufferSizeInBytes, "bufferSizeInBytes", 4096, "byte size of one pooled buffer")

	fs.StringVar(&w.PhysicalStreamName, "physicalStreamName", "", "physical stream identifier")
	fs.StringVar(&w.LogicalStreamName, "logicalStreamName", "", "logical stream identifier")

	fs.Uint64Var(&w.NumberOfBuffersToProduce, "numberOfBuffersToProduce", 0, "buffer count for a generator source, 0 means unbounded")
	fs.Uint64Var(&w.NumberOfTuplesToProducePerBuffer, "numberOfTuplesToProducePerBuffer", 0, "tuples per generated buffer")
	fs.Uint64Var(&w.SourceFrequency, "sourceFrequency", 0, "generator source emission interval in milliseconds, 0 means unthrottled")

	fs.StringVar(&w.LogLevel, "logLevel", "info", "log level name")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse worker flags: %w", err)
	}
	if v := os.Getenv("NES_LOG_LEVEL"); v != "" {
		w.LogLevel = v
	}
	w.DataDir = os.Getenv("NES_DATA_DIR")
	return w, nil
}

// Snapshot exposes c as a plain map for the same kind of ad hoc debug
// surface control.ConfigStore.Snapshot gives the teacher's operators,
// without carrying the teacher's mutable live-reload map as this
// module's primary config representation.
func (c *Coordinator) Snapshot() map[string]any {
	return map[string]any{
		"coordinatorPort": c.CoordinatorPort,
		"rpcPort":         c.RPCPort,
		"restPort":        c.RESTPort,
		"numberOfSlots":   c.NumberOfSlots,
		"logLevel":        c.LogLevel,
	}
}

// Snapshot exposes w as a plain map, mirroring Coordinator.Snapshot.
func (w *Worker) Snapshot() map[string]any {
	return map[string]any{
		"coordinatorPort": w.CoordinatorPort,
		"rpcPort":         w.RPCPort,
		"dataPort":        w.DataPort,
		"numberOfSlots":   w.NumberOfSlots,
		"sourceType":      w.SourceType,
		"bufferSizeInBytes": w.BufferSizeInBytes,
		"logLevel":        w.LogLevel,
		"dataDir":         w.DataDir,
	}
}
