package datablock

import (
	"fmt"

	"github.com/sdxhub/datablock/internal/platform"
)

// Consumer heartbeat record layout: maxConsumerHeartbeats fixed entries of
// consumerHeartbeatRecordSize bytes each (PID + last-seen monotonic
// nanoseconds), living at offConsumerHeartbeats. A PID of 0 marks a free
// entry. Consumers allocate one at Attach and refresh its timestamp; the
// diagnostic handle classifies an entry as a zombie when its PID is no
// longer alive (§4.9).
const (
	consumerHeartbeatRecordSize = 24
	heartbeatOffPID             = 0  // uint64
	heartbeatOffLastSeenNanos   = 8  // uint64
	heartbeatOffReadPosition    = 16 // uint64, monotonic slot count consumed (sync_reader policy)
)

func heartbeatRecordOffset(slot int) uint64 {
	return uint64(offConsumerHeartbeats + slot*consumerHeartbeatRecordSize)
}

// allocateHeartbeatSlot claims the first free consumer heartbeat entry,
// stamping it with the current process's PID, and bumps
// offActiveConsumerCount. Returns ErrNoFreeHeartbeatSlot if the fixed table
// is full.
func allocateHeartbeatSlot(buf []byte) (int, error) {
	myPID := platform.Pid()

	for i := 0; i < maxConsumerHeartbeats; i++ {
		offset := heartbeatRecordOffset(i)
		pidOffset := offset + heartbeatOffPID

		if casU64(buf, pidOffset, 0, myPID) {
			storeU64(buf, offset+heartbeatOffLastSeenNanos, uint64(platform.MonotonicNanos()))
			storeU64(buf, offset+heartbeatOffReadPosition, 0)
			addU32(buf, offActiveConsumerCount, 1)

			return i, nil
		}

		// Reclaim an entry whose owner is dead.
		owner := loadU64(buf, pidOffset)
		if owner != 0 && !platform.IsProcessAlive(owner) {
			if casU64(buf, pidOffset, owner, myPID) {
				storeU64(buf, offset+heartbeatOffLastSeenNanos, uint64(platform.MonotonicNanos()))
				storeU64(buf, offset+heartbeatOffReadPosition, 0)
				bumpMetric(buf, metricOffZombieReaderReclaims)

				return i, nil
			}
		}
	}

	bumpMetric(buf, metricOffHeartbeatSlotExhausted)

	return -1, fmt.Errorf("allocate consumer heartbeat: %w", ErrNoFreeHeartbeatSlot)
}

// releaseHeartbeatSlot frees a consumer heartbeat entry previously returned
// by allocateHeartbeatSlot.
func releaseHeartbeatSlot(buf []byte, slot int) {
	if slot < 0 || slot >= maxConsumerHeartbeats {
		return
	}

	offset := heartbeatRecordOffset(slot)
	storeU64(buf, offset+heartbeatOffPID, 0)
	storeU64(buf, offset+heartbeatOffLastSeenNanos, 0)
	storeU64(buf, offset+heartbeatOffReadPosition, 0)

	addU32(buf, offActiveConsumerCount, ^uint32(0)) // -1
}

// setHeartbeatReadPosition records slot's owner's monotonic consumed-slot
// count, used by the sync_reader policy's backpressure check (§4.7).
func setHeartbeatReadPosition(buf []byte, slot int, position uint64) {
	if slot < 0 || slot >= maxConsumerHeartbeats {
		return
	}

	storeU64(buf, heartbeatRecordOffset(slot)+heartbeatOffReadPosition, position)
}

// minConsumerReadPosition returns the minimum ReadPosition across every
// active (non-zero PID) consumer heartbeat entry, or math.MaxUint64 if
// there are no active consumers (meaning no sync_reader backpressure
// applies until one attaches).
func minConsumerReadPosition(buf []byte) uint64 {
	min := ^uint64(0)
	any := false

	for i := 0; i < maxConsumerHeartbeats; i++ {
		offset := heartbeatRecordOffset(i)

		if loadU64(buf, offset+heartbeatOffPID) == 0 {
			continue
		}

		any = true
		pos := loadU64(buf, offset+heartbeatOffReadPosition)

		if pos < min {
			min = pos
		}
	}

	if !any {
		return ^uint64(0)
	}

	return min
}

// touchHeartbeatSlot updates the last-seen timestamp of a consumer's
// heartbeat entry. Called from UpdateHeartbeat and opportunistically on
// every AcquireConsumeSlot.
func touchHeartbeatSlot(buf []byte, slot int) {
	if slot < 0 || slot >= maxConsumerHeartbeats {
		return
	}

	storeU64(buf, heartbeatRecordOffset(slot)+heartbeatOffLastSeenNanos, uint64(platform.MonotonicNanos()))
}

// touchProducerHeartbeat updates the producer heartbeat fields.
func touchProducerHeartbeat(buf []byte) {
	storeU64(buf, offProducerHeartbeatPID, platform.Pid())
	storeU64(buf, offProducerHeartbeatAt, uint64(platform.MonotonicNanos()))
}

// heartbeatSnapshot describes one consumer heartbeat entry for diagnostics.
type heartbeatSnapshot struct {
	Slot          int
	PID           uint64
	LastSeenNanos uint64
	ProcessAlive  bool
}

func snapshotHeartbeats(buf []byte) []heartbeatSnapshot {
	var out []heartbeatSnapshot

	for i := 0; i < maxConsumerHeartbeats; i++ {
		offset := heartbeatRecordOffset(i)
		pid := loadU64(buf, offset+heartbeatOffPID)

		if pid == 0 {
			continue
		}

		out = append(out, heartbeatSnapshot{
			Slot:          i,
			PID:           pid,
			LastSeenNanos: loadU64(buf, offset+heartbeatOffLastSeenNanos),
			ProcessAlive:  platform.IsProcessAlive(pid),
		})
	}

	return out
}
