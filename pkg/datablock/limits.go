package datablock

// Hardcoded implementation limits.
//
// These limits are intentionally generous; they exist primarily to:
//   - keep arithmetic safely away from overflow boundaries
//   - bound resource usage for configurations that are not exercised by tests
//   - avoid unsafe int64/int conversions (mmap length is an int)
//
// Violations of the configuration limits (ring capacity, flexible-zone
// size, slot stride, segment size) are configuration errors and return
// ErrInvalidConfig. A full heartbeat table returns ErrNoFreeHeartbeatSlot
// and an out-of-range spin-lock index returns ErrInvalidSpinlockIndex.
const (
	// Maximum allowed ring capacity (number of slots).
	maxRingCapacity = uint64(1_000_000)

	// Maximum allowed flexible-zone size (bytes).
	maxFlexibleZoneSize = uint64(64) << 20 // 64 MiB

	// Maximum allowed physical page / logical unit size (bytes).
	maxSlotStrideBytes = uint32(256) << 20 // 256 MiB

	// Maximum allowed total segment size (bytes). A safety guardrail, not a
	// RAM limit: mmap does not load the mapping eagerly, but segments
	// beyond this are outside what is implicitly supported.
	maxSegmentSizeBytes = uint64(1) << 40 // 1 TiB

	// Number of fixed spin-lock slots in the header's spin-lock pool
	// (§3.3).
	spinlockPoolSize = 8

	// Number of fixed consumer heartbeat entries in the header (§3.3).
	maxConsumerHeartbeats = 32

	// Fixed on-disk header size in bytes (§3.3). Chosen so the state
	// array that follows starts 64-byte aligned without padding.
	headerSizeBytes = 4096

	// Per-slot coordination record size in bytes (§6.1).
	slotRecordSizeBytes = 48

	// Per-slot checksum record size in bytes (§6.1): 1-byte algorithm tag
	// plus a 32-byte digest.
	checksumRecordSizeBytes = 33

	// Required alignment, in bytes, of the state array and data ring
	// start offsets (§6.1).
	stateArrayAlignment = 64
)
