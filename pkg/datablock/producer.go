package datablock

import (
	"fmt"
	"sync"

	"github.com/sdxhub/datablock/internal/platform"
)

// Producer is the single-writer handle to a DataBlock segment. Exactly one
// process should hold a Producer for a given segment at a time; the wire
// protocol does not itself prevent a second Create/attach-as-writer, the
// same way the teacher's writer lock is advisory rather than enforced by
// the kernel (§4.4, §4.6).
//
// A Producer is safe for concurrent use by multiple goroutines: mu
// serializes in-process slot acquisition the way the teacher's
// fileRegistryEntry.mu serializes Cache handles sharing one mmap (lock.go).
type Producer struct {
	mu     sync.Mutex
	entry  *segmentRegistryEntry
	view   *segmentView
	closed bool
}

// WriteHandle is returned by AcquireWriteSlot and passed to ReleaseWriteSlot.
// It is not safe for concurrent use and must not outlive the call to
// ReleaseWriteSlot that consumes it.
type WriteHandle struct {
	slotIndex  uint64
	generation uint64
}

// SlotIndex returns the ring slot this handle was acquired against.
func (h WriteHandle) SlotIndex() uint64 { return h.slotIndex }

// Create creates a new DataBlock segment named name with the given
// configuration and returns a Producer bound to it. name is a POSIX shared
// memory object name, resolved under /dev/shm.
//
// Possible errors:
//   - [ErrInvalidConfig]: cfg fails validation (§4.6)
//   - platform.ErrSegmentExists: a segment with this name already exists
//   - underlying syscall errors: open/ftruncate/mmap failures
func Create(name string, cfg Config) (*Producer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	layout := layoutFromConfig(cfg)
	if layout.TotalSize > maxSegmentSizeBytes {
		return nil, fmt.Errorf("segment size %d exceeds max %d: %w", layout.TotalSize, maxSegmentSizeBytes, ErrInvalidConfig)
	}

	created := false

	entry, err := acquireRegistryEntry(name, func() (*segmentView, error) {
		seg, err := platform.CreateSegment(name, int64(layout.TotalSize))
		if err != nil {
			return nil, fmt.Errorf("create segment %q: %w", name, err)
		}

		view := newSegmentView(seg, name, cfg)
		initHeader(view.buf(), cfg, layout)
		created = true

		return view, nil
	})
	if err != nil {
		return nil, err
	}

	if !created {
		_ = releaseRegistryEntry(name)

		return nil, fmt.Errorf("create segment %q: %w", name, platform.ErrSegmentExists)
	}

	touchProducerHeartbeat(entry.view.buf())

	return &Producer{entry: entry, view: entry.view}, nil
}

func initHeader(buf []byte, cfg Config, layout Layout) {
	h := Header{
		ABIMajor:          abiMajor,
		ABIMinor:          abiMinor,
		TotalSize:         layout.TotalSize,
		Config:            cfg,
		LayoutFingerprint: computeLayoutFingerprint(cfg),
	}
	copy(h.Magic[:], headerMagic)

	copy(buf[:headerSizeBytes], encodeHeader(h))
}

// AcquireWriteSlot claims the next ring slot in producer order, blocking up
// to timeoutMillis (0 means the package default) for readers to drain or a
// zombie writer to be reclaimed (§4.4).
//
// Possible errors:
//   - [ErrTimeout]: no slot became available before the deadline
//   - [ErrClosed]: the Producer has been destroyed
func (p *Producer) AcquireWriteSlot(timeoutMillis int64) (*WriteHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	buf := p.view.buf()
	layout := p.view.layout
	timeout := resolveTimeout(timeoutMillis)

	// offWriteIndex is only ever touched by this Producer (p.mu already
	// serializes in-process callers), so it is safe to peek it here and
	// only advance it once backpressure has cleared: a timed-out attempt
	// must not permanently burn a sequence number, or a slow consumer
	// could never catch back up.
	writeSeq := loadU64(buf, offWriteIndex)
	slotIndex := writeSeq % p.view.cfg.RingCapacity

	if err := waitForRingSpace(buf, p.view.cfg, writeSeq, timeout); err != nil {
		return nil, err
	}

	gen, err := acquireWrite(buf, layout, slotIndex, timeout)
	if err != nil {
		return nil, err
	}

	storeU64(buf, offWriteIndex, writeSeq+1)

	return &WriteHandle{slotIndex: slotIndex, generation: gen}, nil
}

// Bytes returns the writable slice for h's slot. The slice is valid only
// until ReleaseWriteSlot is called.
func (p *Producer) Bytes(h *WriteHandle) []byte {
	layout := p.view.layout
	offset := layout.slotDataOffset(h.slotIndex)

	return p.view.buf()[offset : offset+layout.SlotStride]
}

// ReleaseWriteSlot finalizes a slot acquired by AcquireWriteSlot. When
// commit is true, the slot's checksum (if enabled) is computed, the slot
// transitions to committed, and the segment's commit index advances,
// making the slot visible to consumers. When commit is false, the slot is
// abandoned and returned to free without being published (§4.4).
func (p *Producer) ReleaseWriteSlot(h *WriteHandle, commit bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	buf := p.view.buf()
	layout := p.view.layout

	if commit {
		writeChecksum(buf, layout, p.view.cfg, h.slotIndex)
		commitWrite(buf, layout, h.slotIndex)
		addU64(buf, offCommitIndex, 1)
	} else {
		abandonWrite(buf, layout, h.slotIndex)
	}

	return nil
}

// FlexibleZone returns the raw bytes of the segment's flexible zone (§3.5),
// a fixed region outside the slot ring reserved for application-defined
// side-channel data (e.g. a schema descriptor, calibration constants).
func (p *Producer) FlexibleZone() []byte {
	layout := p.view.layout

	return p.view.buf()[layout.FlexibleZoneOffset : layout.FlexibleZoneOffset+p.view.cfg.FlexibleZoneSize]
}

// GetSpinlock acquires spin-lock pool entry index for the duration of fn,
// releasing it when fn returns (§4.3).
func (p *Producer) GetSpinlock(index int, timeoutMillis int64, fn func()) error {
	buf := p.view.buf()

	if err := acquireSpinlock(buf, index, resolveTimeout(timeoutMillis)); err != nil {
		return err
	}
	defer releaseSpinlock(buf, index)

	fn()

	return nil
}

// GetMetrics returns a point-in-time snapshot of the segment's counters.
func (p *Producer) GetMetrics() Metrics {
	return snapshotMetrics(p.view.buf())
}

// ResetMetrics zeroes every counter in the segment's metrics block.
func (p *Producer) ResetMetrics() {
	resetMetrics(p.view.buf())
}

// UpdateHeartbeat refreshes the producer's liveness timestamp, used by
// consumer-side diagnostics to classify a silent producer (§4.9).
func (p *Producer) UpdateHeartbeat() {
	touchProducerHeartbeat(p.view.buf())
}

// Destroy releases this Producer's in-process handle and unlinks the
// underlying shared memory object right away. The mapping itself is
// unmapped once the last handle to the segment (producer or consumer) in
// this process is released.
//
// Destroy does not wait for other processes to detach; per §4.9, a
// consumer that is still attached when the segment is unlinked keeps a
// valid mapping (POSIX shm semantics: unlink does not invalidate existing
// mappings) but will never see a new producer appear under the same name
// until it re-attaches.
func (p *Producer) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	name := p.view.name

	if err := releaseRegistryEntry(name); err != nil {
		return err
	}

	return platform.UnlinkSegment(name)
}
