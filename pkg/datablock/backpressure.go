package datablock

import (
	"fmt"
	"time"

	"github.com/sdxhub/datablock/internal/platform"
)

// waitForRingSpace blocks until the segment's consumer sync policy permits
// writing slot sequence writeSeq (the monotonic, never-wrapping count of
// slots ever acquired by the producer, i.e. offWriteIndex's raw value). The
// per-slot coordinator (slot.go) still guards any one slot's reader count;
// this guard additionally bounds how far the producer may run ahead of the
// slowest consumer, the "backpressure" behavior distinguishing the three
// ConsumerSyncPolicy values (§4.7):
//
//   - LatestOnly: never blocks; a slow consumer simply misses slots.
//   - SingleReader: blocks until the shared read_index has consumed enough
//     slots that writeSeq - read_index < RingCapacity.
//   - SyncReader: blocks until every active consumer's own read position
//     satisfies the same bound, i.e. against the slowest consumer.
func waitForRingSpace(buf []byte, cfg Config, writeSeq uint64, timeout time.Duration) error {
	if cfg.ConsumerSyncPolicy == LatestOnly {
		return nil
	}

	deadline := time.Now().Add(timeout)
	iteration := 0

	for {
		var consumed uint64

		switch cfg.ConsumerSyncPolicy {
		case SingleReader:
			consumed = loadU64(buf, offReadIndex)
		case SyncReader:
			consumed = minConsumerReadPosition(buf)
			if consumed == ^uint64(0) {
				// No consumer attached yet: nothing to wait for.
				return nil
			}
		default:
			return nil
		}

		if writeSeq-consumed < cfg.RingCapacity {
			return nil
		}

		if time.Now().After(deadline) {
			bumpMetric(buf, metricOffBackpressureEvents)

			return fmt.Errorf("ring full, slowest consumer at %d, writer at %d: %w", consumed, writeSeq, ErrTimeout)
		}

		platform.Backoff(iteration)
		iteration++
	}
}
