package platform

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// ShmDir is the POSIX shared-memory mount point segment names are resolved
// against (§6.3). Overridable in tests so segment creation does not require
// /dev/shm to be writable by the test runner.
var ShmDir = "/dev/shm"

// ErrSegmentExists is returned by CreateSegment when the backing file
// already exists; only the producer creates a segment, and creation is
// single-shot per the segment's lifetime (§3.1).
var ErrSegmentExists = errors.New("platform: segment already exists")

// Segment is an open mapping of a shared-memory segment's backing file.
// It does not interpret the bytes; that is DataBlock's job. Close unmaps
// and closes the descriptor; it never removes the backing file — only
// Unlink does that, and only the producer calls it.
type Segment struct {
	Data []byte
	path string
	fd   int
}

func segmentPath(name string) string {
	return filepath.Join(ShmDir, name)
}

// SegmentLockPath returns the control-zone lock file path for name, used by
// RobustMutex to serialize multi-step segment-metadata operations (diagnostic
// repair) that do not fit the lock-free per-slot protocol (§4.1).
func SegmentLockPath(name string) string {
	return segmentPath(name) + ".lock"
}

// CreateSegment creates a new backing file of exactly size bytes and maps
// it read-write. It fails with ErrSegmentExists if the file is already
// present, mirroring the spec's "producer exclusively owns and creates"
// rule (§3.1) — consumers must use AttachSegment instead.
//
// A sidecar descriptor recording the creator's PID and creation time is
// written next to the segment (best-effort, via an atomic rename) so an
// administrator or a GC convention can identify abandoned segments after a
// producer crash (§6.3). The core itself never reads this file back.
func CreateSegment(name string, size int64) (*Segment, error) {
	path := segmentPath(name)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("%s: %w", path, ErrSegmentExists)
		}

		return nil, fmt.Errorf("create segment %s: %w", path, err)
	}

	if ftErr := unix.Ftruncate(fd, size); ftErr != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)

		return nil, fmt.Errorf("truncate segment %s: %w", path, ftErr)
	}

	data, mmapErr := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if mmapErr != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)

		return nil, fmt.Errorf("mmap segment %s: %w", path, mmapErr)
	}

	writeDescriptor(path)

	return &Segment{Data: data, path: path, fd: fd}, nil
}

// AttachSegment opens and maps an existing segment for read-write access.
// Consumers use this; it never creates the backing file.
func AttachSegment(name string, expectedSize int64) (*Segment, error) {
	path := segmentPath(name)

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("attach segment %s: %w", path, err)
	}

	var stat unix.Stat_t

	if statErr := unix.Fstat(fd, &stat); statErr != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("stat segment %s: %w", path, statErr)
	}

	if expectedSize > 0 && stat.Size != expectedSize {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("segment %s: size %d, expected %d", path, stat.Size, expectedSize)
	}

	data, mmapErr := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if mmapErr != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("mmap segment %s: %w", path, mmapErr)
	}

	return &Segment{Data: data, path: path, fd: fd}, nil
}

// AttachSegmentReadOnly opens and maps an existing segment for read-only
// access, used by the diagnostic handle (§4.9) so it never claims a
// consumer heartbeat slot nor risks mutating live state.
func AttachSegmentReadOnly(name string) (*Segment, error) {
	path := segmentPath(name)

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("attach segment %s: %w", path, err)
	}

	var stat unix.Stat_t

	if statErr := unix.Fstat(fd, &stat); statErr != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("stat segment %s: %w", path, statErr)
	}

	data, mmapErr := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_SHARED)
	if mmapErr != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("mmap segment %s: %w", path, mmapErr)
	}

	return &Segment{Data: data, path: path, fd: fd}, nil
}

// Close unmaps the segment and closes its descriptor. Safe to call once;
// idempotent calls after the first are a caller bug (spec §3.8: handles
// must be released before owner destruction), so Close does not attempt
// to be idempotent beyond not panicking on a zeroed Segment.
func (s *Segment) Close() error {
	if s == nil || s.Data == nil {
		return nil
	}

	err := unix.Munmap(s.Data)
	s.Data = nil

	if s.fd >= 0 {
		if closeErr := unix.Close(s.fd); closeErr != nil && err == nil {
			err = closeErr
		}

		s.fd = -1
	}

	return err
}

// UnlinkSegment removes the backing file and its ".owner" descriptor. Only
// the producer calls this, at clean
// shutdown (§3.1, §6.3); consumers never unlink.
func UnlinkSegment(name string) error {
	path := segmentPath(name)

	err := unix.Unlink(path)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("unlink segment %s: %w", path, err)
	}

	_ = unix.Unlink(path + ".owner")

	return nil
}

// writeDescriptor best-effort records the creating PID and creation
// timestamp next to the segment. Failures are not surfaced: the
// descriptor is a breadcrumb for administrators, never load-bearing for
// correctness (§6.3: "crash recovery relies on the administrator to
// unlink stale segments").
func writeDescriptor(segmentPath string) {
	body := fmt.Sprintf("pid=%d\ncreated_ns=%d\n", Pid(), MonotonicNanos())
	_ = atomic.WriteFile(segmentPath+".owner", strings.NewReader(body))
}
