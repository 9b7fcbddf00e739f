package datablock

import (
	"encoding/binary"
	"fmt"

	"github.com/sdxhub/datablock/internal/fingerprint"
)

// Header field offsets (bytes from segment start). The static/config-defining
// fields below (through layoutFingerprint) are written once at Create and
// only ever read afterward; the dynamic fields after that point (ring-state
// atomics, producer heartbeat, metrics, consumer heartbeats, spin-lock pool)
// are mutated in place through the atomics.go helpers and are never round-tripped
// through encodeHeader/decodeHeader.
//
// Grounded on the teacher's offXxx header-offset constant block (format.go),
// generalized from SLC1's single key/index/slot config group to DataBlock's
// eight layout-defining config fields plus the cryptographic fingerprints
// required by spec §4.2 and §6.1.
const (
	offMagic               = 0x000 // [8]byte
	offABIMajor            = 0x008 // uint32
	offABIMinor            = 0x00C // uint32
	offTotalSize           = 0x010 // uint64
	offHeaderSize          = 0x018 // uint64
	offBufferPolicy        = 0x020 // uint32
	offConsumerSyncPolicy  = 0x024 // uint32
	offPhysicalPageSize    = 0x028 // uint32
	offLogicalUnitSize     = 0x02C // uint32
	offRingCapacity        = 0x030 // uint64
	offFlexibleZoneSize    = 0x038 // uint64
	offChecksumPolicy      = 0x040 // uint32
	offChecksumAlgorithm   = 0x044 // uint32
	offSchemaVersionPacked = 0x048 // uint32
	offHeaderReserved0     = 0x04C // uint32
	offSchemaFingerprint   = 0x050 // [32]byte, ends 0x070
	offSharedSecret        = 0x070 // [64]byte, ends 0x0B0
	offLayoutFingerprint   = 0x0B0 // [32]byte, ends 0x0D0

	// Dynamic region (see atomics.go and metrics.go for accessors).
	offWriteIndex           = 0x0D0 // uint64, atomic
	offCommitIndex          = 0x0D8 // uint64, atomic
	offReadIndex            = 0x0E0 // uint64, atomic (single_reader policy)
	offActiveConsumerCount  = 0x0E8 // uint32, atomic
	offDynamicReserved0     = 0x0EC // uint32
	offProducerHeartbeatPID = 0x0F0 // uint64, atomic
	offProducerHeartbeatAt  = 0x0F8 // uint64, atomic (monotonic nanos)
	offMetricsBlock         = 0x100 // metricsBlockSize bytes (0x88), ends 0x188
	offConsumerHeartbeats   = 0x188 // maxConsumerHeartbeats * consumerHeartbeatRecordSize bytes (0x300), ends 0x488
	offSpinlockPool         = 0x488 // spinlockPoolSize * spinlockRecordSize bytes

	// headerMagic identifies a DataBlock segment.
	headerMagic = "DATABLK1"

	// abiMajor/abiMinor are bumped when the wire format changes in a
	// backward-incompatible/compatible way respectively (§6.2).
	abiMajor = 1
	abiMinor = 0
)

// Header is the static, layout-defining portion of the 4096-byte segment
// header: everything written once at Create time and checked (never
// mutated) on every later Attach.
type Header struct {
	Magic     [8]byte
	ABIMajor  uint32
	ABIMinor  uint32
	TotalSize uint64

	Config Config

	LayoutFingerprint [32]byte
}

// encodeHeader serializes h's static fields into a headerSizeBytes buffer.
// The dynamic region (offWriteIndex onward) is left zeroed; callers
// update it separately through the atomics.go helpers.
func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSizeBytes)

	copy(buf[offMagic:], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[offABIMajor:], h.ABIMajor)
	binary.LittleEndian.PutUint32(buf[offABIMinor:], h.ABIMinor)
	binary.LittleEndian.PutUint64(buf[offTotalSize:], h.TotalSize)
	binary.LittleEndian.PutUint64(buf[offHeaderSize:], headerSizeBytes)

	binary.LittleEndian.PutUint32(buf[offBufferPolicy:], uint32(h.Config.BufferPolicy))
	binary.LittleEndian.PutUint32(buf[offConsumerSyncPolicy:], uint32(h.Config.ConsumerSyncPolicy))
	binary.LittleEndian.PutUint32(buf[offPhysicalPageSize:], h.Config.PhysicalPageSize)
	binary.LittleEndian.PutUint32(buf[offLogicalUnitSize:], h.Config.LogicalUnitSize)
	binary.LittleEndian.PutUint64(buf[offRingCapacity:], h.Config.RingCapacity)
	binary.LittleEndian.PutUint64(buf[offFlexibleZoneSize:], h.Config.FlexibleZoneSize)
	binary.LittleEndian.PutUint32(buf[offChecksumPolicy:], uint32(h.Config.ChecksumPolicy))
	binary.LittleEndian.PutUint32(buf[offChecksumAlgorithm:], uint32(h.Config.ChecksumAlgorithm))
	binary.LittleEndian.PutUint32(buf[offSchemaVersionPacked:], uint32(h.Config.SchemaVersionPacked))

	copy(buf[offSchemaFingerprint:], h.Config.SchemaFingerprint[:])
	copy(buf[offSharedSecret:], h.Config.SharedSecret[:])
	copy(buf[offLayoutFingerprint:], h.LayoutFingerprint[:])

	return buf
}

// decodeHeader deserializes the static header fields from a segment buffer.
// It does not validate magic/ABI/fingerprint; callers must call
// validateHeader separately.
func decodeHeader(buf []byte) Header {
	var h Header

	copy(h.Magic[:], buf[offMagic:offMagic+8])
	h.ABIMajor = binary.LittleEndian.Uint32(buf[offABIMajor:])
	h.ABIMinor = binary.LittleEndian.Uint32(buf[offABIMinor:])
	h.TotalSize = binary.LittleEndian.Uint64(buf[offTotalSize:])

	h.Config.BufferPolicy = BufferPolicy(binary.LittleEndian.Uint32(buf[offBufferPolicy:]))
	h.Config.ConsumerSyncPolicy = ConsumerSyncPolicy(binary.LittleEndian.Uint32(buf[offConsumerSyncPolicy:]))
	h.Config.PhysicalPageSize = binary.LittleEndian.Uint32(buf[offPhysicalPageSize:])
	h.Config.LogicalUnitSize = binary.LittleEndian.Uint32(buf[offLogicalUnitSize:])
	h.Config.RingCapacity = binary.LittleEndian.Uint64(buf[offRingCapacity:])
	h.Config.FlexibleZoneSize = binary.LittleEndian.Uint64(buf[offFlexibleZoneSize:])
	h.Config.ChecksumPolicy = ChecksumPolicy(binary.LittleEndian.Uint32(buf[offChecksumPolicy:]))
	h.Config.ChecksumAlgorithm = ChecksumAlgorithm(binary.LittleEndian.Uint32(buf[offChecksumAlgorithm:]))
	h.Config.SchemaVersionPacked = SchemaVersion(binary.LittleEndian.Uint32(buf[offSchemaVersionPacked:]))

	copy(h.Config.SchemaFingerprint[:], buf[offSchemaFingerprint:offSchemaFingerprint+32])
	copy(h.Config.SharedSecret[:], buf[offSharedSecret:offSharedSecret+64])
	copy(h.LayoutFingerprint[:], buf[offLayoutFingerprint:offLayoutFingerprint+32])

	return h
}

// computeLayoutFingerprint hashes the eight layout-defining config fields in
// canonical order (spec §4.5 "expected_config equality", §6.1). Any process
// that attaches recomputes this from its own Config and compares it against
// the stored value rather than comparing raw struct bytes, so the check is
// independent of struct padding.
func computeLayoutFingerprint(cfg Config) [32]byte {
	b := fingerprint.NewBuilder(64).
		AppendU32(uint32(cfg.BufferPolicy)).
		AppendU32(uint32(cfg.ConsumerSyncPolicy)).
		AppendU32(cfg.PhysicalPageSize).
		AppendU32(cfg.LogicalUnitSize).
		AppendU64(cfg.RingCapacity).
		AppendU64(cfg.FlexibleZoneSize).
		AppendU32(uint32(cfg.ChecksumPolicy)).
		AppendU32(uint32(cfg.ChecksumAlgorithm))

	return b.Sum()
}

// validateHeader checks magic, ABI compatibility, and the layout fingerprint
// against an attaching process's own Config, implementing the attach-time
// checks of §4.5.
func validateHeader(h Header, want Config) error {
	if string(h.Magic[:]) != headerMagic {
		return fmt.Errorf("bad magic %q: %w", h.Magic[:], ErrCorrupt)
	}

	if h.ABIMajor != abiMajor {
		return fmt.Errorf("ABI major %d != %d: %w", h.ABIMajor, abiMajor, ErrIncompatible)
	}

	if !h.Config.sameLayoutDefiningFields(want) {
		return fmt.Errorf("config mismatch: %w", ErrIncompatible)
	}

	wantFingerprint := computeLayoutFingerprint(want)
	if h.LayoutFingerprint != wantFingerprint {
		return fmt.Errorf("layout fingerprint mismatch: %w", ErrCorrupt)
	}

	if !fingerprint.Verify(h.Config.SchemaFingerprint, want.SchemaFingerprint) {
		return fmt.Errorf("schema fingerprint %x != %x: %w",
			h.Config.SchemaFingerprint, want.SchemaFingerprint, ErrSchemaMismatch)
	}

	if h.Config.SharedSecret != want.SharedSecret {
		return fmt.Errorf("shared secret mismatch: %w", ErrSecretMismatch)
	}

	return nil
}
