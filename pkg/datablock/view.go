package datablock

import (
	"fmt"
	"sync"
	"time"

	"github.com/sdxhub/datablock/internal/platform"
)

// segmentView wraps one mmap'd segment together with the Config it was
// opened with (Create's cfg or Attach's ExpectedConfig, checked against the
// header) and the Layout derived from that Config. Producer and Consumer
// each hold one; multiple in-process handles to the same segment share a
// single *platform.Segment through one segmentRegistryEntry so they observe
// a consistent mapping.
//
// Grounded on the teacher's fileRegistry/fileRegistryEntry pattern
// (lock.go): here a plain map keyed by segment name, guarded by a package
// mutex and reference-counted, shared across every in-process handle to the
// same segment.
type segmentView struct {
	seg    *platform.Segment
	name   string
	cfg    Config
	layout Layout
}

func newSegmentView(seg *platform.Segment, name string, cfg Config) *segmentView {
	return &segmentView{
		seg:    seg,
		name:   name,
		cfg:    cfg,
		layout: layoutFromConfig(cfg),
	}
}

func (v *segmentView) buf() []byte { return v.seg.Data }

func (v *segmentView) header() Header { return decodeHeader(v.buf()) }

func (v *segmentView) close() error { return v.seg.Close() }

// segmentRegistryEntry tracks per-segment in-process state shared across all
// Producer/Consumer handles backed by the same shared-memory segment,
// mirroring the teacher's fileRegistryEntry (lock.go): a reference count and
// an mu field. Slot acquisition is serialized by each Producer's and
// Consumer's own mutex; nothing in the package locks entry.mu.
type segmentRegistryEntry struct {
	mu        sync.Mutex
	view      *segmentView
	openCount int
}

var (
	segmentRegistryMu sync.Mutex
	segmentRegistry   = map[string]*segmentRegistryEntry{}
)

// acquireRegistryEntry returns the shared registry entry for name, creating
// it from newView if this is the first in-process handle.
func acquireRegistryEntry(name string, newView func() (*segmentView, error)) (*segmentRegistryEntry, error) {
	segmentRegistryMu.Lock()
	defer segmentRegistryMu.Unlock()

	if entry, ok := segmentRegistry[name]; ok {
		entry.openCount++

		return entry, nil
	}

	view, err := newView()
	if err != nil {
		return nil, err
	}

	entry := &segmentRegistryEntry{view: view, openCount: 1}
	segmentRegistry[name] = entry

	return entry, nil
}

// releaseRegistryEntry decrements name's reference count, closing the
// underlying segment once the last handle releases it.
func releaseRegistryEntry(name string) error {
	segmentRegistryMu.Lock()
	defer segmentRegistryMu.Unlock()

	entry, ok := segmentRegistry[name]
	if !ok {
		return nil
	}

	entry.openCount--
	if entry.openCount > 0 {
		return nil
	}

	delete(segmentRegistry, name)

	return entry.view.close()
}

// defaultTimeoutMillis is used by API surfaces that accept a millisecond timeout
// of zero to mean "use the package default" rather than "don't wait".
const defaultTimeoutMillis = 1000

func resolveTimeout(timeoutMillis int64) time.Duration {
	if timeoutMillis <= 0 {
		return defaultTimeoutMillis * time.Millisecond
	}

	return time.Duration(timeoutMillis) * time.Millisecond
}

func validateSlotIndex(cfg Config, slotIndex uint64) error {
	if slotIndex >= cfg.RingCapacity {
		return fmt.Errorf("slot index %d >= capacity %d: %w", slotIndex, cfg.RingCapacity, ErrInvalidSlotIndex)
	}

	return nil
}
