package datablock

import (
	"fmt"
	"sync"

	"github.com/sdxhub/datablock/internal/platform"
)

// AttachOptions configures Attach.
type AttachOptions struct {
	// ExpectedConfig must match the producer's Config on every
	// layout-defining field (§4.5). Required.
	ExpectedConfig Config
}

// Consumer is a read-only (from the data plane's perspective) handle to a
// DataBlock segment, shared or exclusive depending on
// Config.ConsumerSyncPolicy. Safe for concurrent use by multiple
// goroutines; mu serializes in-process slot acquisition and release (a
// SlotIterator's own cursor is not covered) the way the teacher's fileRegistryEntry.mu does for Cache handles sharing
// one mmap (lock.go).
type Consumer struct {
	mu            sync.Mutex
	entry         *segmentRegistryEntry
	view          *segmentView
	heartbeatSlot int
	closed        bool
}

// ReadHandle is returned by AcquireConsumeSlot and passed to ValidateRead
// and ReleaseConsumeSlot.
type ReadHandle struct {
	slotIndex  uint64
	generation uint64
}

// SlotIndex returns the ring slot this handle was acquired against.
func (h ReadHandle) SlotIndex() uint64 { return h.slotIndex }

// Attach opens an existing DataBlock segment named name as a consumer.
//
// Possible errors:
//   - [ErrIncompatible]: ABI/layout-defining-field mismatch
//   - [ErrCorrupt]: bad magic or layout fingerprint mismatch
//   - [ErrSchemaMismatch]: schema fingerprint mismatch
//   - [ErrSecretMismatch]: shared secret mismatch
//   - [ErrNoFreeHeartbeatSlot]: the fixed consumer heartbeat table is full
func Attach(name string, opts AttachOptions) (*Consumer, error) {
	layout := layoutFromConfig(opts.ExpectedConfig)

	entry, err := acquireRegistryEntry(name, func() (*segmentView, error) {
		seg, err := platform.AttachSegment(name, int64(layout.TotalSize))
		if err != nil {
			return nil, fmt.Errorf("attach segment %q: %w", name, err)
		}

		return newSegmentView(seg, name, opts.ExpectedConfig), nil
	})
	if err != nil {
		return nil, err
	}

	// Validate against the segment's actual on-disk header every time, not
	// just when this process is the first to open it in-process: a cache
	// hit on acquireRegistryEntry would otherwise skip validation entirely
	// for every Attach after the first (§4.5, §8.4 scenario 4).
	if err := validateHeader(entry.view.header(), opts.ExpectedConfig); err != nil {
		_ = releaseRegistryEntry(name)

		return nil, err
	}

	slot, err := allocateHeartbeatSlot(entry.view.buf())
	if err != nil {
		_ = releaseRegistryEntry(name)

		return nil, err
	}

	return &Consumer{entry: entry, view: entry.view, heartbeatSlot: slot}, nil
}

// AcquireConsumeSlot claims slotIndex for reading if it is currently
// committed. Unlike the producer side, this never blocks: callers wanting
// to wait for new data should use a [SlotIterator] instead.
//
// Possible errors:
//   - [ErrNotReady]: the slot is not committed (free, writing, or draining)
//   - [ErrInvalidSlotIndex]: slotIndex >= RingCapacity
func (c *Consumer) AcquireConsumeSlot(slotIndex uint64) (*ReadHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if err := validateSlotIndex(c.view.cfg, slotIndex); err != nil {
		return nil, err
	}

	touchHeartbeatSlot(c.view.buf(), c.heartbeatSlot)

	gen, err := acquireRead(c.view.buf(), c.view.layout, slotIndex)
	if err != nil {
		return nil, err
	}

	return &ReadHandle{slotIndex: slotIndex, generation: gen}, nil
}

// Bytes returns the read-only slice for h's slot. The data is only
// guaranteed stable until ValidateRead confirms no writer raced the read;
// see [Consumer.ValidateRead].
func (c *Consumer) Bytes(h *ReadHandle) []byte {
	layout := c.view.layout
	offset := layout.slotDataOffset(h.slotIndex)

	return c.view.buf()[offset : offset+layout.SlotStride]
}

// ValidateRead confirms that no writer overwrote h's slot while it was
// being read, and (when the segment's ChecksumPolicy is enforced) that the
// slot's stored checksum matches its current contents (§4.4, §4.6).
//
// Possible errors:
//   - [ErrGenerationChanged]: the slot was overwritten during the read
//   - [ErrChecksumMismatch]: checksum enforcement is on and verification failed
func (c *Consumer) ValidateRead(h *ReadHandle) error {
	if err := validateRead(c.view.buf(), c.view.layout, h.slotIndex, h.generation); err != nil {
		return err
	}

	return verifyChecksum(c.view.buf(), c.view.layout, c.view.cfg, h.slotIndex)
}

// ReleaseConsumeSlot releases a slot acquired by AcquireConsumeSlot.
func (c *Consumer) ReleaseConsumeSlot(h *ReadHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	releaseRead(c.view.buf(), c.view.layout, h.slotIndex)
}

// SlotIterator returns a new iterator over this consumer's segment,
// positioned according to Config.ConsumerSyncPolicy (§4.7).
func (c *Consumer) SlotIterator() *SlotIterator {
	return &SlotIterator{consumer: c}
}

// FlexibleZone returns the read-only bytes of the segment's flexible zone
// (§3.5).
func (c *Consumer) FlexibleZone() []byte {
	layout := c.view.layout

	return c.view.buf()[layout.FlexibleZoneOffset : layout.FlexibleZoneOffset+c.view.cfg.FlexibleZoneSize]
}

// GetMetrics returns a point-in-time snapshot of the segment's counters.
func (c *Consumer) GetMetrics() Metrics {
	return snapshotMetrics(c.view.buf())
}

// ResetMetrics zeroes every counter in the segment's metrics block.
func (c *Consumer) ResetMetrics() {
	resetMetrics(c.view.buf())
}

// UpdateHeartbeat refreshes this consumer's liveness timestamp, reported by
// the diagnostic handle's DiagnoseConsumers (§4.9). Zombie classification
// there is by PID liveness, not by timestamp age.
func (c *Consumer) UpdateHeartbeat() {
	touchHeartbeatSlot(c.view.buf(), c.heartbeatSlot)
}

// Detach releases this Consumer's heartbeat slot and in-process handle. It
// never unlinks the segment; only the producer's Destroy does that.
func (c *Consumer) Detach() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	releaseHeartbeatSlot(c.view.buf(), c.heartbeatSlot)

	return releaseRegistryEntry(c.view.name)
}
