//go:build !linux

package affinity

import "runtime"

// PinCurrentThread is a no-op outside Linux; CPU pinning is a
// deployment optimization, not a correctness requirement (spec.md
// section 5's scheduling model does not depend on it).
func PinCurrentThread(cpuID int) error { return nil }

// UnpinCurrentThread is a no-op outside Linux.
func UnpinCurrentThread() error { return nil }

// NumCPU reports the number of logical CPUs available to the process.
func NumCPU() int { return runtime.NumCPU() }
