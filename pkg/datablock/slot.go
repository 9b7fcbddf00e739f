package datablock

import (
	"fmt"
	"time"

	"github.com/sdxhub/datablock/internal/platform"
)

// Per-slot coordination record layout (slotRecordSizeBytes = 48 bytes).
// Grounded on AlephTX's seqlock Seqlock field (feeder/shm/seqlock.go: odd
// generation = write in progress, even = stable) combined with the
// teacher's PID-stamped writer-lock-with-reclaim pattern (lock.go
// tryAquireWriteLock / checkOwnerDied in internal/platform/mutex.go),
// generalized to a fully lock-free per-slot record instead of a registry
// entry plus advisory flock.
const (
	slotOffWriterPID       = 0  // uint64
	slotOffState           = 8  // uint32, SlotState
	slotOffReaderCount     = 12 // uint32
	slotOffWriterWaiting   = 16 // uint32, 1 while a writer is blocked draining
	slotOffReserved0       = 20 // uint32
	slotOffWriteGeneration = 24 // uint64, odd = write in progress
	// bytes 32..48 reserved
)

// acquireWrite transitions slot index from free (or committed-and-drained)
// to writing, stamping the current process as writer. If the slot is
// committed with active readers, it transitions to draining and blocks
// (with the three-phase backoff) until readers finish or timeout elapses.
// If the slot's recorded writer PID belongs to a dead process, the lock is
// reclaimed and a zombie-writer-reclaim metric is bumped (§4.4, §4.1).
func acquireWrite(buf []byte, layout Layout, slotIndex uint64, timeout time.Duration) (generation uint64, err error) {
	recOffset := layout.stateRecordOffset(slotIndex)
	statePtr := recOffset + slotOffState
	writerPIDPtr := recOffset + slotOffWriterPID
	readerCountPtr := recOffset + slotOffReaderCount
	writerWaitingPtr := recOffset + slotOffWriterWaiting
	myPID := platform.Pid()
	deadline := time.Now().Add(timeout)
	iteration := 0

	// writer_waiting is raised below while readers drain and cleared on
	// every exit, successful or timed out.
	defer storeU32(buf, writerWaitingPtr, 0)

	for {
		state := loadU32(buf, statePtr)

		switch SlotState(state) {
		case SlotFree:
			if casU32(buf, statePtr, uint32(SlotFree), uint32(SlotWriting)) {
				storeU64(buf, writerPIDPtr, myPID)
				bumpMetric(buf, metricOffSlotsWritten)

				return beginWriteGeneration(buf, recOffset), nil
			}

		case SlotCommitted:
			if loadU32(buf, readerCountPtr) == 0 {
				if casU32(buf, statePtr, uint32(SlotCommitted), uint32(SlotWriting)) {
					storeU64(buf, writerPIDPtr, myPID)
					bumpMetric(buf, metricOffSlotsWritten)

					return beginWriteGeneration(buf, recOffset), nil
				}

				continue
			}

			storeU32(buf, writerWaitingPtr, 1)
			casU32(buf, statePtr, uint32(SlotCommitted), uint32(SlotDraining))
			bumpMetric(buf, metricOffReaderDrainWaits)

		case SlotDraining:
			if loadU32(buf, readerCountPtr) == 0 {
				if casU32(buf, statePtr, uint32(SlotDraining), uint32(SlotWriting)) {
					storeU64(buf, writerPIDPtr, myPID)
					bumpMetric(buf, metricOffSlotsWritten)

					return beginWriteGeneration(buf, recOffset), nil
				}
			} else {
				storeU32(buf, writerWaitingPtr, 1)
			}

		case SlotWriting:
			owner := loadU64(buf, writerPIDPtr)
			if owner != 0 && !platform.IsProcessAlive(owner) {
				if casU64(buf, writerPIDPtr, owner, myPID) {
					bumpMetric(buf, metricOffZombieWriterReclaims)
					bumpMetric(buf, metricOffSlotsWritten)

					return beginWriteGeneration(buf, recOffset), nil
				}
			}
		}

		if time.Now().After(deadline) {
			if SlotState(state) == SlotDraining || (SlotState(state) == SlotCommitted && loadU32(buf, readerCountPtr) != 0) {
				bumpMetric(buf, metricOffReaderDrainTimeouts)
			} else {
				bumpMetric(buf, metricOffWriteTimeouts)
			}

			return 0, fmt.Errorf("acquire write slot %d: %w", slotIndex, ErrTimeout)
		}

		bumpMetric(buf, metricOffWriterLockContentions)
		platform.Backoff(iteration)
		iteration++
	}
}

// beginWriteGeneration bumps write_generation to an odd value, marking the
// slot as "write in progress" for any reader that races the acquisition
// (seqlock phase 1, AlephTX WriteBBO).
func beginWriteGeneration(buf []byte, recOffset uint64) uint64 {
	genPtr := recOffset + slotOffWriteGeneration

	for {
		gen := loadU64(buf, genPtr)
		next := gen + 1
		if next%2 == 0 {
			next++
		}

		if casU64(buf, genPtr, gen, next) {
			return next
		}
	}
}

// commitWrite finalizes a write: bumps write_generation to the next even
// value (seqlock phase 3), transitions the slot to committed, and releases
// the writer PID stamp.
func commitWrite(buf []byte, layout Layout, slotIndex uint64) {
	recOffset := layout.stateRecordOffset(slotIndex)
	genPtr := recOffset + slotOffWriteGeneration

	gen := loadU64(buf, genPtr)
	storeU64(buf, genPtr, gen+1)

	storeU32(buf, recOffset+slotOffState, uint32(SlotCommitted))
	storeU64(buf, recOffset+slotOffWriterPID, 0)
	bumpMetric(buf, metricOffSlotsCommitted)
}

// abandonWrite releases a slot back to free without committing (the writer
// chose not to publish this slot, e.g. on an application-level error).
func abandonWrite(buf []byte, layout Layout, slotIndex uint64) {
	recOffset := layout.stateRecordOffset(slotIndex)

	storeU64(buf, recOffset+slotOffWriterPID, 0)
	storeU32(buf, recOffset+slotOffState, uint32(SlotFree))
	bumpMetric(buf, metricOffSlotsDropped)
}

// acquireRead registers a reader against a committed slot, returning the
// write_generation observed at acquisition time for later validation.
// Returns ErrNotReady if the slot is not committed.
func acquireRead(buf []byte, layout Layout, slotIndex uint64) (generation uint64, err error) {
	recOffset := layout.stateRecordOffset(slotIndex)
	statePtr := recOffset + slotOffState

	if SlotState(loadU32(buf, statePtr)) != SlotCommitted {
		return 0, fmt.Errorf("slot %d not committed: %w", slotIndex, ErrNotReady)
	}

	addU32(buf, recOffset+slotOffReaderCount, 1)

	// Re-read the state after registering as a reader (TOCTTOU guard,
	// §4.4): a writer may have reclaimed the slot between the check above
	// and the reader-count increment. Go's atomic operations are
	// sequentially consistent, so this reload is guaranteed to observe
	// any state transition that happened-before the increment completed.
	if SlotState(loadU32(buf, statePtr)) == SlotWriting {
		addU32(buf, recOffset+slotOffReaderCount, ^uint32(0)) // -1

		return 0, fmt.Errorf("slot %d began writing during acquire: %w", slotIndex, ErrNotReady)
	}

	return loadU64(buf, recOffset+slotOffWriteGeneration), nil
}

// validateRead reports whether the slot's write_generation still matches
// generation and is even (stable), i.e. no writer overwrote this slot while
// it was being read (§4.4 "validate_read", the seqlock reader-side check).
func validateRead(buf []byte, layout Layout, slotIndex uint64, generation uint64) error {
	recOffset := layout.stateRecordOffset(slotIndex)
	current := loadU64(buf, recOffset+slotOffWriteGeneration)

	if current%2 != 0 {
		return fmt.Errorf("slot %d write in progress: %w", slotIndex, ErrGenerationChanged)
	}

	if current != generation {
		bumpMetric(buf, metricOffGenerationChanged)

		return fmt.Errorf("slot %d generation %d != %d: %w", slotIndex, current, generation, ErrGenerationChanged)
	}

	return nil
}

// releaseRead decrements the slot's reader count, transitioning a draining
// slot to free once the last reader leaves.
func releaseRead(buf []byte, layout Layout, slotIndex uint64) {
	recOffset := layout.stateRecordOffset(slotIndex)
	statePtr := recOffset + slotOffState
	readerCountPtr := recOffset + slotOffReaderCount

	remaining := addU32(buf, readerCountPtr, ^uint32(0)) // -1

	if remaining == 0 {
		casU32(buf, statePtr, uint32(SlotDraining), uint32(SlotFree))
	}
}

// slotState returns the current state of slot index, for the diagnostic
// handle (§4.9).
func slotState(buf []byte, layout Layout, slotIndex uint64) SlotState {
	return SlotState(loadU32(buf, layout.stateRecordOffset(slotIndex)+slotOffState))
}

// slotWriterPID returns the PID stamped as the current writer of slot
// index, or 0 if none.
func slotWriterPID(buf []byte, layout Layout, slotIndex uint64) uint64 {
	return loadU64(buf, layout.stateRecordOffset(slotIndex)+slotOffWriterPID)
}

// slotReaderCount returns the current reader count of slot index.
func slotReaderCount(buf []byte, layout Layout, slotIndex uint64) uint32 {
	return loadU32(buf, layout.stateRecordOffset(slotIndex)+slotOffReaderCount)
}
