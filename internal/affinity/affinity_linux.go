//go:build linux

// Package affinity pins worker goroutines' OS threads to specific CPU
// cores, replacing the teacher's cgo-based libnuma binding
// (internal/concurrency/affinity_linux.go) with the pure-Go
// golang.org/x/sys/unix syscall wrapper, so this module never requires
// cgo to build.
package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its current OS thread
// and restricts that thread to cpuID. Call from the goroutine that
// should be pinned (typically a queue worker at startup), not from a
// coordinator goroutine.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	return unix.SchedSetaffinity(0, &set)
}

// UnpinCurrentThread restores the thread to the full set of online CPUs
// and releases the OS-thread lock.
func UnpinCurrentThread() error {
	defer runtime.UnlockOSThread()
	var set unix.CPUSet
	n := runtime.NumCPU()
	set.Zero()
	for i := 0; i < n; i++ {
		set.Set(i)
	}
	return unix.SchedSetaffinity(0, &set)
}

// NumCPU reports the number of logical CPUs available to the process.
func NumCPU() int { return runtime.NumCPU() }
