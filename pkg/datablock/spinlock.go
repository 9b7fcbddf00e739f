package datablock

import (
	"fmt"
	"time"

	"github.com/sdxhub/datablock/internal/platform"
)

// Spin-lock record layout within the header's spin-lock pool
// (offSpinlockPool, spinlockPoolSize entries). Each record is
// spinlockRecordSize bytes: an owner PID (0 = free), a recursion count for
// same-PID re-entry, and a generation counter bumped on every fresh or
// reclaiming acquire (not on re-entry) (§3.2, §4.3). Nothing in the package
// reads the generation back.
const (
	spinlockRecordSize    = 24
	spinlockOffOwnerPID   = 0  // uint64
	spinlockOffRecursion  = 8  // uint64
	spinlockOffGeneration = 16 // uint64
)

func spinlockRecordOffset(index int) uint64 {
	return uint64(offSpinlockPool + index*spinlockRecordSize)
}

// acquireSpinlock acquires spin-lock pool entry index, using the three-phase
// backoff of platform.Backoff (yield, then short fixed sleeps, then a
// growing capped sleep) and reclaiming the lock if its current owner is a
// dead process (§4.1, §4.3).
//
// Grounded on the teacher's tryAquireWriteLock/releaseWriteLock pairing
// (lock.go), generalized from an advisory flock to a lock-free CAS loop
// since spin-locks live inside the mmap'd segment rather than a separate
// lock file.
func acquireSpinlock(buf []byte, index int, timeout time.Duration) error {
	if index < 0 || index >= spinlockPoolSize {
		return fmt.Errorf("spinlock index %d: %w", index, ErrInvalidSpinlockIndex)
	}

	offset := spinlockRecordOffset(index)
	pidOffset := offset + spinlockOffOwnerPID
	recursionOffset := offset + spinlockOffRecursion
	myPID := platform.Pid()
	deadline := time.Now().Add(timeout)
	iteration := 0

	for {
		if casU64(buf, pidOffset, 0, myPID) {
			storeU64(buf, recursionOffset, 1)
			addU64(buf, offset+spinlockOffGeneration, 1)

			return nil
		}

		currentOwner := loadU64(buf, pidOffset)
		if currentOwner == myPID {
			addU64(buf, recursionOffset, 1)

			return nil
		}

		if currentOwner != 0 && !platform.IsProcessAlive(currentOwner) {
			if casU64(buf, pidOffset, currentOwner, myPID) {
				storeU64(buf, recursionOffset, 1)
				addU64(buf, offset+spinlockOffGeneration, 1)
				bumpMetric(buf, metricOffZombieWriterReclaims)

				return nil
			}
		}

		if time.Now().After(deadline) {
			bumpMetric(buf, metricOffSpinlockTimeouts)

			return fmt.Errorf("acquire spinlock %d: %w", index, ErrTimeout)
		}

		bumpMetric(buf, metricOffSpinlockContentions)
		platform.Backoff(iteration)
		iteration++
	}
}

// releaseSpinlock releases one level of spin-lock pool entry index, held by
// the calling process. It decrements the recursion count and only clears
// the owner once it reaches zero, so a re-entrant acquirer's inner release
// does not free the lock out from under its outer acquire (§3.2, §4.3). It
// is a no-op if the caller is not the current owner (defensive against
// double-release).
func releaseSpinlock(buf []byte, index int) {
	if index < 0 || index >= spinlockPoolSize {
		return
	}

	offset := spinlockRecordOffset(index)
	pidOffset := offset + spinlockOffOwnerPID
	recursionOffset := offset + spinlockOffRecursion
	myPID := platform.Pid()

	if loadU64(buf, pidOffset) != myPID {
		return
	}

	if addU64(buf, recursionOffset, ^uint64(0)) == 0 { // -1
		casU64(buf, pidOffset, myPID, 0)
	}
}

// spinlockOwner returns the PID currently recorded as owning spin-lock pool
// entry index, or 0 if free. It has no caller in the package.
func spinlockOwner(buf []byte, index int) uint64 {
	return loadU64(buf, spinlockRecordOffset(index)+spinlockOffOwnerPID)
}
