package datablock

import "errors"

// Sentinel errors returned by DataBlock operations.
//
// Callers should classify errors with errors.Is. Hot-path operations
// (acquire/commit/release on slots) only ever return the hot-path subset
// documented on each function; they never wrap an exception-like panic.
var (
	// ErrInvalidConfig indicates Create was called with an invalid or
	// unset configuration field (§4.6: "the single validation point").
	ErrInvalidConfig = errors.New("datablock: invalid config")

	// ErrIncompatible indicates a segment's on-disk format, ABI, or
	// layout does not match what the attaching process expects.
	ErrIncompatible = errors.New("datablock: incompatible segment")

	// ErrCorrupt indicates structural corruption of the header detected at
	// attach (bad magic, layout fingerprint mismatch). Slot checksum
	// failures are reported with ErrChecksumMismatch instead.
	ErrCorrupt = errors.New("datablock: corrupt segment")

	// ErrSchemaMismatch indicates the consumer's expected schema
	// fingerprint does not match the one stored in the header.
	ErrSchemaMismatch = errors.New("datablock: schema mismatch")

	// ErrSecretMismatch indicates the consumer's shared secret does not
	// match the segment's capability token.
	ErrSecretMismatch = errors.New("datablock: shared secret mismatch")

	// ErrTimeout indicates a bounded acquisition (writer lock, reader
	// drain, consumer acquire, spin-lock) did not succeed before its
	// deadline. Metrics distinguish the specific timeout class; this is
	// the return value callers match against.
	ErrTimeout = errors.New("datablock: timed out")

	// ErrNotReady indicates a consumer attempted to acquire a slot that
	// is not (or no longer) committed.
	ErrNotReady = errors.New("datablock: slot not ready")

	// ErrLocked indicates a slot's writer lock is held by a live
	// process and could not be acquired or reclaimed.
	ErrLocked = errors.New("datablock: slot locked")

	// ErrInvalidState indicates an operation was attempted against a
	// slot in a state that does not permit it (programmer contract
	// violation in debug builds; a defensive return otherwise).
	ErrInvalidState = errors.New("datablock: invalid slot state")

	// ErrInvalidSlotIndex indicates a slot index outside [0, capacity).
	ErrInvalidSlotIndex = errors.New("datablock: invalid slot index")

	// ErrInvalidSpinlockIndex indicates a spin-lock pool index outside
	// [0, spinlockPoolSize).
	ErrInvalidSpinlockIndex = errors.New("datablock: invalid spinlock index")

	// ErrNoFreeHeartbeatSlot indicates Attach could not allocate a
	// consumer heartbeat entry because the fixed heartbeat table is
	// full.
	ErrNoFreeHeartbeatSlot = errors.New("datablock: no free heartbeat slot")

	// ErrClosed indicates the handle (Producer, Consumer, or guard) has
	// already been destroyed/detached/released.
	ErrClosed = errors.New("datablock: closed")

	// ErrTypeTooLarge indicates a typed flexible-zone or slot view does
	// not fit the requested type (§4.6, §4.8 with_typed_*).
	ErrTypeTooLarge = errors.New("datablock: type exceeds available size")

	// ErrMisaligned indicates a typed view's base address does not
	// satisfy the requested type's alignment.
	ErrMisaligned = errors.New("datablock: misaligned type view")

	// ErrChecksumMismatch indicates a slot's stored checksum does not
	// match the recomputed one under the enforced checksum policy.
	ErrChecksumMismatch = errors.New("datablock: checksum mismatch")

	// ErrGenerationChanged indicates validate_read found that the
	// slot's write_generation no longer matches the one captured at
	// acquisition — the ring wrapped during the reader's tenure.
	ErrGenerationChanged = errors.New("datablock: slot generation changed")
)
