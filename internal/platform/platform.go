// Package platform provides the process- and OS-level primitives the
// DataBlock core is built on: process identity, monotonic time, liveness
// probing, shared-memory segment lifecycle, and a cross-process robust
// mutex. Nothing in this package is DataBlock-specific; it is the leaf
// layer every other package depends on.
package platform

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Pid returns the current process identifier, stable for the process's
// lifetime. Returned as uint64 to match the width used throughout the
// shared segment (writer-lock and heartbeat fields are uint64).
func Pid() uint64 {
	return uint64(os.Getpid())
}

// MonotonicNanos returns a monotonic nanosecond timestamp suitable for
// heartbeats and lock-generation bookkeeping. It reads the system-wide
// CLOCK_MONOTONIC, so readings from different processes on the same machine
// are comparable; readings are not comparable across reboots or machines.
func MonotonicNanos() int64 {
	var ts unix.Timespec

	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)

	return ts.Nano()
}

// IsProcessAlive reports whether pid is live.
//
// pid 0 is never alive. A confirmed-dead process (ESRCH) is not alive.
// A process whose existence is confirmed but which the caller lacks
// permission to signal (EPERM) counts as alive, per the spec's liveness
// contract: existence, not signalability, is what matters for crash
// recovery decisions. Any other error is treated conservatively as alive
// so that a recoverable primitive never force-reclaims out of caution.
func IsProcessAlive(pid uint64) bool {
	if pid == 0 {
		return false
	}

	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true
	}

	if err == unix.ESRCH {
		return false
	}

	// EPERM (exists, not signalable) and anything else: assume alive.
	return true
}

// Backoff implements the three-phase spin/backoff schedule shared by the
// spin-lock primitive (§4.3) and the reader/writer acquisition loops
// (§4.4): an initial scheduler yield, then a short fixed sleep, then a
// sleep that grows linearly with the iteration count, capped at 100ms.
//
// iteration is 0-indexed; callers increment it once per failed attempt.
func Backoff(iteration int) {
	const (
		yieldPhaseIterations = 1
		shortSleepIterations = 8
		shortSleep           = 1 * time.Microsecond
		perIterationStep     = 10 * time.Microsecond
		maxSleep             = 100 * time.Millisecond
	)

	switch {
	case iteration < yieldPhaseIterations:
		runtimeGosched()
	case iteration < shortSleepIterations:
		time.Sleep(shortSleep)
	default:
		d := time.Duration(iteration) * perIterationStep
		if d > maxSleep {
			d = maxSleep
		}

		time.Sleep(d)
	}
}
