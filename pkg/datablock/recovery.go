package datablock

import (
	"errors"
	"fmt"
	"time"

	"github.com/sdxhub/datablock/internal/platform"
)

// controlLockTimeout bounds how long a repair operation waits on the
// segment's control-zone lock before giving up (§4.1).
const controlLockTimeout = 2 * time.Second

// SlotDiagnosis describes the observed state of a single ring slot for the
// diagnostic/recovery handle (§4.9).
type SlotDiagnosis struct {
	SlotIndex   uint64
	State       SlotState
	WriterPID   uint64
	WriterAlive bool
	ReaderCount uint32
	IsZombie    bool
}

// Diagnostics is a read-only-by-default handle used by operators and
// monitoring tools to inspect a segment's health without participating in
// its producer/consumer protocol, and to repair it when a holder died
// mid-operation (§4.9). It never allocates a consumer heartbeat slot.
//
// Grounded on the teacher's repair.go concept of an out-of-band
// inspect/repair entry point, generalized from the ticket store's
// file-level repair to DataBlock's per-slot and per-consumer recovery.
type Diagnostics struct {
	view     *segmentView
	writable bool
	mu       *platform.RobustMutex
}

// OpenDiagnosticsReadOnly attaches to name for inspection only; repair
// operations on the returned handle return ErrClosed.
func OpenDiagnosticsReadOnly(name string, expectedConfig Config) (*Diagnostics, error) {
	layout := layoutFromConfig(expectedConfig)

	seg, err := platform.AttachSegmentReadOnly(name)
	if err != nil {
		return nil, fmt.Errorf("attach segment %q read-only: %w", name, err)
	}

	if int64(len(seg.Data)) != int64(layout.TotalSize) {
		_ = seg.Close()

		return nil, fmt.Errorf("segment %q size %d != expected %d: %w", name, len(seg.Data), layout.TotalSize, ErrIncompatible)
	}

	h := decodeHeader(seg.Data)
	if err := validateHeader(h, expectedConfig); err != nil {
		_ = seg.Close()

		return nil, err
	}

	return &Diagnostics{view: newSegmentView(seg, name, expectedConfig), writable: false}, nil
}

// withControlLock serializes a repair operation against every other
// Diagnostics handle (in this process or another) operating on the same
// segment, via an advisory flock on a control-zone lock file (§4.1). A
// previous holder found dead ([platform.ErrOwnerDied]) is not itself an
// error here: every repair operation below already re-validates the state
// it is about to mutate (liveness checks, checksum re-verification) before
// acting on it.
func (d *Diagnostics) withControlLock(fn func() error) error {
	if err := d.mu.Lock(controlLockTimeout); err != nil && !errors.Is(err, platform.ErrOwnerDied) {
		return fmt.Errorf("acquire control lock: %w", err)
	}
	defer d.mu.Unlock()

	return fn()
}

// OpenDiagnostics attaches to name for inspection and repair.
func OpenDiagnostics(name string, expectedConfig Config) (*Diagnostics, error) {
	layout := layoutFromConfig(expectedConfig)

	seg, err := platform.AttachSegment(name, int64(layout.TotalSize))
	if err != nil {
		return nil, fmt.Errorf("attach segment %q: %w", name, err)
	}

	h := decodeHeader(seg.Data)
	if err := validateHeader(h, expectedConfig); err != nil {
		_ = seg.Close()

		return nil, err
	}

	mu := platform.NewRobustMutex(platform.SegmentLockPath(name))

	return &Diagnostics{view: newSegmentView(seg, name, expectedConfig), writable: true, mu: mu}, nil
}

// Close unmaps the diagnostic handle's segment.
func (d *Diagnostics) Close() error {
	return d.view.close()
}

// DiagnoseSlot reports slotIndex's observed state, classifying it as a
// zombie when its writer lock is held by a dead process (§4.9).
func (d *Diagnostics) DiagnoseSlot(slotIndex uint64) (SlotDiagnosis, error) {
	if err := validateSlotIndex(d.view.cfg, slotIndex); err != nil {
		return SlotDiagnosis{}, err
	}

	buf := d.view.buf()
	layout := d.view.layout

	state := slotState(buf, layout, slotIndex)
	writerPID := slotWriterPID(buf, layout, slotIndex)
	readerCount := slotReaderCount(buf, layout, slotIndex)
	writerAlive := writerPID != 0 && platform.IsProcessAlive(writerPID)

	return SlotDiagnosis{
		SlotIndex:   slotIndex,
		State:       state,
		WriterPID:   writerPID,
		WriterAlive: writerAlive,
		ReaderCount: readerCount,
		IsZombie:    state == SlotWriting && writerPID != 0 && !writerAlive,
	}, nil
}

// DiagnoseAll reports SlotDiagnosis for every slot in the ring.
func (d *Diagnostics) DiagnoseAll() ([]SlotDiagnosis, error) {
	out := make([]SlotDiagnosis, 0, d.view.cfg.RingCapacity)

	for i := uint64(0); i < d.view.cfg.RingCapacity; i++ {
		diag, err := d.DiagnoseSlot(i)
		if err != nil {
			return nil, err
		}

		out = append(out, diag)
	}

	return out, nil
}

// ConsumerDiagnosis describes one consumer heartbeat entry.
type ConsumerDiagnosis struct {
	Slot          int
	PID           uint64
	LastSeenNanos uint64
	Alive         bool
}

// DiagnoseConsumers reports every active consumer heartbeat entry.
func (d *Diagnostics) DiagnoseConsumers() []ConsumerDiagnosis {
	snaps := snapshotHeartbeats(d.view.buf())
	out := make([]ConsumerDiagnosis, len(snaps))

	for i, s := range snaps {
		out[i] = ConsumerDiagnosis{Slot: s.Slot, PID: s.PID, LastSeenNanos: s.LastSeenNanos, Alive: s.ProcessAlive}
	}

	return out
}

// ValidateIntegrity re-checks every committed slot's checksum (when the
// segment's ChecksumPolicy is not disabled) and, if repair is true, resets
// any slot that fails verification to free so it no longer poisons
// consumers (§4.9).
func (d *Diagnostics) ValidateIntegrity(repair bool) ([]uint64, error) {
	if d.view.cfg.ChecksumPolicy == ChecksumDisabled {
		return nil, nil
	}

	if repair && !d.writable {
		return nil, fmt.Errorf("validate integrity: handle is read-only: %w", ErrClosed)
	}

	scan := func() []uint64 {
		var failed []uint64
		buf := d.view.buf()
		layout := d.view.layout

		for i := uint64(0); i < d.view.cfg.RingCapacity; i++ {
			if slotState(buf, layout, i) != SlotCommitted {
				continue
			}

			if err := verifyChecksum(buf, layout, d.view.cfg, i); err != nil {
				failed = append(failed, i)

				if repair {
					storeU32(buf, layout.stateRecordOffset(i)+slotOffState, uint32(SlotFree))
				}
			}
		}

		return failed
	}

	if !repair {
		return scan(), nil
	}

	var failed []uint64

	err := d.withControlLock(func() error {
		failed = scan()

		return nil
	})

	return failed, err
}

// ForceResetSlot returns slotIndex to free, clearing its writer PID and
// reader count. Recovery never mutates a slot owned by a live process
// unless force is true: with force false, ForceResetSlot returns ErrLocked
// if the slot's writer PID belongs to a live process (§4.9's
// force_reset_slot(index, force=false) contract). Intended for operator use
// after confirming via DiagnoseSlot that the slot is stuck.
func (d *Diagnostics) ForceResetSlot(slotIndex uint64, force bool) error {
	if !d.writable {
		return fmt.Errorf("force reset slot %d: %w", slotIndex, ErrClosed)
	}

	if err := validateSlotIndex(d.view.cfg, slotIndex); err != nil {
		return err
	}

	return d.withControlLock(func() error {
		recOffset := d.view.layout.stateRecordOffset(slotIndex)
		buf := d.view.buf()

		writerPID := loadU64(buf, recOffset+slotOffWriterPID)
		if !force && writerPID != 0 && platform.IsProcessAlive(writerPID) {
			return fmt.Errorf("force reset slot %d: writer %d is alive: %w", slotIndex, writerPID, ErrLocked)
		}

		storeU64(buf, recOffset+slotOffWriterPID, 0)
		storeU32(buf, recOffset+slotOffReaderCount, 0)
		storeU32(buf, recOffset+slotOffState, uint32(SlotFree))

		return nil
	})
}

// ReleaseZombieWriter clears slotIndex's writer PID and returns it to
// committed when write_generation is even (the dead writer never began its
// write: beginWriteGeneration had not yet made the generation odd) or to
// free when it is odd (a write was in progress), but only if that writer's
// process is confirmed dead. Returns false if the slot's writer is alive or already
// clear.
func (d *Diagnostics) ReleaseZombieWriter(slotIndex uint64) (bool, error) {
	if !d.writable {
		return false, fmt.Errorf("release zombie writer: %w", ErrClosed)
	}

	if err := validateSlotIndex(d.view.cfg, slotIndex); err != nil {
		return false, err
	}

	var released bool

	err := d.withControlLock(func() error {
		buf := d.view.buf()
		layout := d.view.layout
		recOffset := layout.stateRecordOffset(slotIndex)

		pid := slotWriterPID(buf, layout, slotIndex)
		if pid == 0 || platform.IsProcessAlive(pid) {
			return nil
		}

		storeU64(buf, recOffset+slotOffWriterPID, 0)

		gen := loadU64(buf, recOffset+slotOffWriteGeneration)
		if gen%2 == 0 {
			storeU32(buf, recOffset+slotOffState, uint32(SlotCommitted))
		} else {
			storeU32(buf, recOffset+slotOffState, uint32(SlotFree))
		}

		bumpMetric(buf, metricOffZombieWriterReclaims)
		released = true

		return nil
	})

	return released, err
}

// ReleaseZombieReaders decrements slotIndex's reader count back to zero if
// every consumer with an active (non-zero) heartbeat is confirmed dead,
// transitioning a draining slot to free. This is the diagnostic-handle
// equivalent of a reader crashing without calling ReleaseConsumeSlot.
func (d *Diagnostics) ReleaseZombieReaders(slotIndex uint64) (bool, error) {
	if !d.writable {
		return false, fmt.Errorf("release zombie readers: %w", ErrClosed)
	}

	if err := validateSlotIndex(d.view.cfg, slotIndex); err != nil {
		return false, err
	}

	var released bool

	err := d.withControlLock(func() error {
		buf := d.view.buf()
		layout := d.view.layout
		recOffset := layout.stateRecordOffset(slotIndex)

		if slotReaderCount(buf, layout, slotIndex) == 0 {
			return nil
		}

		for _, hb := range snapshotHeartbeats(buf) {
			if hb.ProcessAlive {
				return nil
			}
		}

		storeU32(buf, recOffset+slotOffReaderCount, 0)
		casU32(buf, recOffset+slotOffState, uint32(SlotDraining), uint32(SlotFree))
		bumpMetric(buf, metricOffZombieReaderReclaims)
		released = true

		return nil
	})

	return released, err
}

// CleanupDeadConsumers releases every consumer heartbeat entry whose PID is
// no longer alive, freeing their slots in the fixed heartbeat table.
// Returns the number of entries released.
func (d *Diagnostics) CleanupDeadConsumers() (int, error) {
	if !d.writable {
		return 0, fmt.Errorf("cleanup dead consumers: %w", ErrClosed)
	}

	released := 0

	err := d.withControlLock(func() error {
		buf := d.view.buf()

		for _, hb := range snapshotHeartbeats(buf) {
			if hb.ProcessAlive {
				continue
			}

			releaseHeartbeatSlot(buf, hb.Slot)
			released++
		}

		return nil
	})

	return released, err
}

// ProducerLiveness reports the producer's last heartbeat age and whether
// its PID is confirmed alive. A zero PID means the producer has never
// touched its heartbeat (e.g. a version predating this field).
func (d *Diagnostics) ProducerLiveness() (pid uint64, age time.Duration, alive bool) {
	buf := d.view.buf()

	pid = loadU64(buf, offProducerHeartbeatPID)
	lastSeen := loadU64(buf, offProducerHeartbeatAt)
	age = time.Duration(platform.MonotonicNanos()-int64(lastSeen)) * time.Nanosecond
	alive = pid != 0 && platform.IsProcessAlive(pid)

	return pid, age, alive
}
