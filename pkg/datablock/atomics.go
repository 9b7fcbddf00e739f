package datablock

import (
	"sync/atomic"
	"unsafe"
)

// Atomic accessors over the mmap'd segment buffer.
//
// Grounded on AlephTX's RingBuffer.slotPtr/seqlock pattern (feeder/shm/
// seqlock.go): an unsafe.Pointer cast of a fixed byte offset into the mmap'd
// slice, paired with sync/atomic loads and stores, so that concurrent
// processes mapping the same file observe each other's writes without a
// kernel round trip. All offsets here are pre-validated multiples of 4 or 8
// by Layout and the header offset constants, so the casts are always
// correctly aligned.

func u32At(buf []byte, offset uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[offset]))
}

func u64At(buf []byte, offset uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[offset]))
}

func loadU32(buf []byte, offset uint64) uint32 {
	return atomic.LoadUint32(u32At(buf, offset))
}

func storeU32(buf []byte, offset uint64, v uint32) {
	atomic.StoreUint32(u32At(buf, offset), v)
}

func addU32(buf []byte, offset uint64, delta uint32) uint32 {
	return atomic.AddUint32(u32At(buf, offset), delta)
}

func casU32(buf []byte, offset uint64, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32At(buf, offset), old, new)
}

func loadU64(buf []byte, offset uint64) uint64 {
	return atomic.LoadUint64(u64At(buf, offset))
}

func storeU64(buf []byte, offset uint64, v uint64) {
	atomic.StoreUint64(u64At(buf, offset), v)
}

func addU64(buf []byte, offset uint64, delta uint64) uint64 {
	return atomic.AddUint64(u64At(buf, offset), delta)
}

func casU64(buf []byte, offset uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(u64At(buf, offset), old, new)
}
