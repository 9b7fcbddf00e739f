package datablock

import (
	"fmt"

	"github.com/sdxhub/datablock/internal/fingerprint"
)

// Per-slot checksum record: 1-byte algorithm tag followed by a 32-byte
// digest (checksumRecordSizeBytes = 33). Storage is always present
// regardless of ChecksumPolicy, so region offsets do not depend on the
// policy (§3.4).
const (
	checksumOffAlgorithm = 0
	checksumOffDigest    = 1
)

// writeChecksum computes and stores the checksum for slotIndex's current
// data, when cfg.ChecksumPolicy is not ChecksumDisabled.
func writeChecksum(buf []byte, layout Layout, cfg Config, slotIndex uint64) {
	if cfg.ChecksumPolicy == ChecksumDisabled {
		return
	}

	recOffset := layout.checksumRecordOffset(slotIndex)
	dataOffset := layout.slotDataOffset(slotIndex)
	data := buf[dataOffset : dataOffset+layout.SlotStride]

	digest := fingerprint.Sum(data)

	buf[recOffset+checksumOffAlgorithm] = byte(cfg.ChecksumAlgorithm)
	copy(buf[recOffset+checksumOffDigest:], digest[:])
}

// verifyChecksum recomputes slotIndex's checksum and compares it against the
// stored record. It is a no-op returning nil when cfg.ChecksumPolicy is
// ChecksumDisabled.
func verifyChecksum(buf []byte, layout Layout, cfg Config, slotIndex uint64) error {
	if cfg.ChecksumPolicy == ChecksumDisabled {
		return nil
	}

	recOffset := layout.checksumRecordOffset(slotIndex)
	dataOffset := layout.slotDataOffset(slotIndex)
	data := buf[dataOffset : dataOffset+layout.SlotStride]

	var stored [fingerprint.Size]byte
	copy(stored[:], buf[recOffset+checksumOffDigest:recOffset+checksumRecordSizeBytes])

	recomputed := fingerprint.Sum(data)

	if !fingerprint.Verify(stored, recomputed) {
		bumpMetric(buf, metricOffChecksumFailures)

		return fmt.Errorf("slot %d: %w", slotIndex, ErrChecksumMismatch)
	}

	return nil
}
