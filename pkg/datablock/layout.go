package datablock

// Layout is the set of byte offsets and sizes derived from a Config. It is
// pure and deterministic: the same Config always produces the same Layout,
// which is what lets an attaching consumer recompute it independently and
// compare against the header's stored layout fingerprint (§4.5, §6.1).
//
// Grounded on the teacher's newHeader/computeSlotSize/align8 offset
// arithmetic (format.go), generalized from a single slots+buckets region to
// DataBlock's header + state array + checksum array + flexible zone + data
// ring regions.
type Layout struct {
	// HeaderSize is always headerSizeBytes (4096).
	HeaderSize uint64

	// StateArrayOffset is the byte offset of the per-slot coordination
	// record array, immediately after the header.
	StateArrayOffset uint64
	// StateArraySize is RingCapacity * slotRecordSizeBytes.
	StateArraySize uint64

	// ChecksumArrayOffset is the byte offset of the per-slot checksum
	// record array, immediately after the state array.
	ChecksumArrayOffset uint64
	// ChecksumArraySize is RingCapacity * checksumRecordSizeBytes,
	// rounded up to stateArrayAlignment.
	ChecksumArraySize uint64

	// FlexibleZoneOffset is the byte offset of the user-defined flexible
	// zone, immediately after the checksum array.
	FlexibleZoneOffset uint64
	// FlexibleZoneSize echoes Config.FlexibleZoneSize, rounded up to
	// stateArrayAlignment.
	FlexibleZoneSize uint64

	// DataRingOffset is the byte offset of the data ring, immediately
	// after the flexible zone.
	DataRingOffset uint64
	// SlotStride is the per-slot stride in bytes (Config.slotStride()).
	SlotStride uint64
	// DataRingSize is RingCapacity * SlotStride.
	DataRingSize uint64

	// TotalSize is the full segment size: DataRingOffset + DataRingSize.
	TotalSize uint64
}

// layoutFromConfig computes the Layout implied by a validated Config. The
// caller must have already called Config.validate.
func layoutFromConfig(cfg Config) Layout {
	var l Layout

	l.HeaderSize = headerSizeBytes

	l.StateArrayOffset = l.HeaderSize
	l.StateArraySize = cfg.RingCapacity * slotRecordSizeBytes

	l.ChecksumArrayOffset = alignUp(l.StateArrayOffset+l.StateArraySize, stateArrayAlignment)
	l.ChecksumArraySize = alignUp(cfg.RingCapacity*checksumRecordSizeBytes, stateArrayAlignment)

	l.FlexibleZoneOffset = alignUp(l.ChecksumArrayOffset+l.ChecksumArraySize, stateArrayAlignment)
	l.FlexibleZoneSize = alignUp(cfg.FlexibleZoneSize, stateArrayAlignment)

	l.DataRingOffset = alignUp(l.FlexibleZoneOffset+l.FlexibleZoneSize, stateArrayAlignment)
	l.SlotStride = uint64(cfg.slotStride())
	l.DataRingSize = cfg.RingCapacity * l.SlotStride

	l.TotalSize = l.DataRingOffset + l.DataRingSize

	return l
}

// alignUp rounds x up to the next multiple of align, where align is a power
// of two (generalization of the teacher's align8 to an arbitrary power-of-two
// alignment).
func alignUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}

// stateRecordOffset returns the byte offset of slot index i's coordination
// record within the segment.
func (l Layout) stateRecordOffset(i uint64) uint64 {
	return l.StateArrayOffset + i*slotRecordSizeBytes
}

// checksumRecordOffset returns the byte offset of slot index i's checksum
// record within the segment.
func (l Layout) checksumRecordOffset(i uint64) uint64 {
	return l.ChecksumArrayOffset + i*checksumRecordSizeBytes
}

// slotDataOffset returns the byte offset of slot index i's data within the
// data ring.
func (l Layout) slotDataOffset(i uint64) uint64 {
	return l.DataRingOffset + i*l.SlotStride
}
