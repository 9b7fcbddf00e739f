package datablock

import (
	"errors"
	"fmt"
	"time"

	"github.com/sdxhub/datablock/internal/platform"
)

// SlotIterator walks a Consumer's segment in the order implied by its
// Config.ConsumerSyncPolicy (§4.7). It is not safe for concurrent use by
// multiple goroutines (each goroutine should own its own iterator), even
// though the underlying Consumer is.
type SlotIterator struct {
	consumer *Consumer
	// localPosition is this iterator's own monotonic consumed-slot count,
	// used directly for SyncReader (one position per consumer) and ignored
	// for SingleReader (which shares offReadIndex instead) and LatestOnly
	// (which has no position at all).
	localPosition uint64
}

// ReadResult is returned by TryNext and Next: the acquired handle together
// with the slot index it was acquired against, so callers do not need to
// call Handle.SlotIndex() separately.
type ReadResult struct {
	Handle    *ReadHandle
	SlotIndex uint64
}

// TryNext makes a single attempt to acquire the next slot according to the
// iterator's sync policy. It does not wait: timeoutMillis is not used, and
// a slot whose writer is still in progress is reported as ErrNotReady
// rather than waited on. Use [SlotIterator.Next] to wait for data.
//
// Possible errors:
//   - [ErrNotReady]: no new committed slot is available yet, or the next
//     slot is not in the committed state
func (it *SlotIterator) TryNext(timeoutMillis int64) (*ReadResult, error) {
	c := it.consumer
	buf := c.view.buf()
	cfg := c.view.cfg

	switch cfg.ConsumerSyncPolicy {
	case LatestOnly:
		return it.tryLatest(buf)
	case SingleReader:
		return it.trySequential(buf, cfg, offReadIndex, nil)
	case SyncReader:
		return it.trySequential(buf, cfg, 0, &it.localPosition)
	default:
		return nil, fmt.Errorf("unknown consumer sync policy %d: %w", cfg.ConsumerSyncPolicy, ErrInvalidConfig)
	}
}

func (it *SlotIterator) tryLatest(buf []byte) (*ReadResult, error) {
	commitSeq := loadU64(buf, offCommitIndex)
	if commitSeq == 0 {
		return nil, fmt.Errorf("no committed slots yet: %w", ErrNotReady)
	}

	slotIndex := (commitSeq - 1) % it.consumer.view.cfg.RingCapacity

	h, err := it.consumer.AcquireConsumeSlot(slotIndex)
	if err != nil {
		return nil, err
	}

	return &ReadResult{Handle: h, SlotIndex: slotIndex}, nil
}

// trySequential implements the SingleReader/SyncReader policies: a cursor
// (either the segment-shared offReadIndex, or this iterator's own
// localPosition for SyncReader) advances one slot per successful read,
// never skipping or repeating a slot.
func (it *SlotIterator) trySequential(buf []byte, cfg Config, sharedPosOffset uint64, localPos *uint64) (*ReadResult, error) {
	commitSeq := loadU64(buf, offCommitIndex)

	var pos uint64
	if localPos != nil {
		pos = *localPos
	} else {
		pos = loadU64(buf, sharedPosOffset)
	}

	if pos >= commitSeq {
		return nil, fmt.Errorf("no new committed slots past position %d: %w", pos, ErrNotReady)
	}

	slotIndex := pos % cfg.RingCapacity

	h, err := it.consumer.AcquireConsumeSlot(slotIndex)
	if err != nil {
		return nil, err
	}

	next := pos + 1
	if localPos != nil {
		*localPos = next
		setHeartbeatReadPosition(buf, it.consumer.heartbeatSlot, next)
	} else {
		storeU64(buf, sharedPosOffset, next)
	}

	return &ReadResult{Handle: h, SlotIndex: slotIndex}, nil
}

// Next blocks, retrying with the three-phase backoff, until a slot becomes
// available or timeoutMillis elapses.
func (it *SlotIterator) Next(timeoutMillis int64) (*ReadResult, error) {
	deadline := time.Now().Add(resolveTimeout(timeoutMillis))
	iteration := 0

	for {
		res, err := it.TryNext(0)
		if err == nil {
			return res, nil
		}

		if !errors.Is(err, ErrNotReady) {
			return nil, err
		}

		if time.Now().After(deadline) {
			bumpMetric(it.consumer.view.buf(), metricOffConsumerAcquireTimeouts)

			return nil, fmt.Errorf("next slot: %w", ErrTimeout)
		}

		platform.Backoff(iteration)
		iteration++
	}
}

// SeekLatest skips this iterator's cursor forward to the segment's current
// commit index, discarding any unread backlog (§4.7, used by a consumer
// that only cares about the most recent data going forward).
func (it *SlotIterator) SeekLatest() {
	c := it.consumer
	buf := c.view.buf()
	commitSeq := loadU64(buf, offCommitIndex)

	it.SeekTo(commitSeq)
}

// SeekTo sets this iterator's cursor to an explicit monotonic position. Has
// no effect under LatestOnly, which has no cursor.
func (it *SlotIterator) SeekTo(position uint64) {
	c := it.consumer

	switch c.view.cfg.ConsumerSyncPolicy {
	case SingleReader:
		storeU64(c.view.buf(), offReadIndex, position)
	case SyncReader:
		it.localPosition = position
		setHeartbeatReadPosition(c.view.buf(), c.heartbeatSlot, position)
	}
}
