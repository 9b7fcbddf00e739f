package platform

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrOwnerDied is returned exactly once by RobustMutex.Lock after a
// reclaim: the lock was held by a process that is no longer alive. The
// caller must reconcile whatever invariant the lock was protecting before
// treating the lock as held normally (POSIX robust-mutex semantics,
// spec §4.1).
var ErrOwnerDied = errors.New("platform: mutex owner died")

// ErrMutexTimeout is returned when Lock could not acquire the mutex
// before the deadline.
var ErrMutexTimeout = errors.New("platform: mutex acquire timed out")

// RobustMutex is a cross-process mutex backed by an advisory flock on a
// control-zone lock file, PID-stamped so a holder's death can be detected
// and the lock reclaimed. It is used for control-zone operations that
// must survive holder death but do not fit the lock-free slot protocol —
// e.g. the diagnostic handle's repair operations — per spec §4.1.
//
// Grounded on the teacher's root acquireLockWithTimeout (flock + timeout
// retry loop) generalized with the liveness-reclaim policy already used
// by the per-slot spin-lock (§4.3).
type RobustMutex struct {
	path string
	file *os.File
}

// NewRobustMutex returns a mutex bound to a lock file at path. The file is
// created on first use and persists across processes (never deleted by
// Unlock, matching the teacher's "lock file persists" contract).
func NewRobustMutex(path string) *RobustMutex {
	return &RobustMutex{path: path}
}

// Lock acquires the mutex, blocking with backoff until timeout elapses.
//
// If the lock file still carries the PID stamp of a previous holder that
// is now dead (it never reached Unlock), Lock acquires the mutex and
// returns ErrOwnerDied (the caller must still treat the mutex as held,
// but must first re-validate whatever state the dead holder may have left
// inconsistent).
func (m *RobustMutex) Lock(timeout time.Duration) error {
	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", m.path, err)
	}

	deadline := time.Now().Add(timeout)
	iteration := 0

	for {
		flockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if flockErr == nil {
			m.file = file

			return m.checkOwnerDied()
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return ErrMutexTimeout
		}

		Backoff(iteration)
		iteration++
	}
}

// checkOwnerDied reads the PID stamp left by the previous holder (if any)
// and returns ErrOwnerDied when that process is confirmed dead, after
// stamping the file with the current holder's PID.
func (m *RobustMutex) checkOwnerDied() error {
	prev := readPidStamp(m.file)
	writePidStamp(m.file, Pid())

	if prev != 0 && prev != Pid() && !IsProcessAlive(prev) {
		return ErrOwnerDied
	}

	return nil
}

// Unlock clears the PID stamp and releases the mutex. Safe to call on a
// mutex that failed to Lock (no-op).
func (m *RobustMutex) Unlock() error {
	if m.file == nil {
		return nil
	}

	writePidStamp(m.file, 0)

	unlockErr := unix.Flock(int(m.file.Fd()), unix.LOCK_UN)
	closeErr := m.file.Close()
	m.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", m.path, unlockErr)
	}

	return closeErr
}

func readPidStamp(f *os.File) uint64 {
	buf := make([]byte, 20)

	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return 0
	}

	var pid uint64
	_, _ = fmt.Sscanf(string(buf[:n]), "%d", &pid)

	return pid
}

func writePidStamp(f *os.File, pid uint64) {
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(fmt.Sprintf("%d", pid)), 0)
}
