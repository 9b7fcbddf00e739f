// Package fingerprint provides the single cryptographic primitive the
// DataBlock core depends on: a deterministic, side-effect-free 256-bit
// BLAKE2b hash used for the schema fingerprint and the layout fingerprint
// (spec §4.2). It never evolves into a general crypto toolbox — one hash,
// one verify.
package fingerprint

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Size is the fingerprint width in bytes (32, i.e. BLAKE2b-256).
const Size = 32

// Sum computes the BLAKE2b-256 digest of data.
//
// Callers feeding struct fields into Sum must serialize them with the
// Builder below (or an equivalent canonical little-endian, padding-free
// encoding) rather than hashing a Go struct's in-memory layout, whose
// padding and field order are not portable across processes or compilers
// (spec §4.2).
func Sum(data []byte) [Size]byte {
	return blake2b.Sum256(data)
}

// Verify reports whether recomputed matches the fingerprint stored in the
// header at creation time.
func Verify(stored, recomputed [Size]byte) bool {
	return stored == recomputed
}

// Builder accumulates a canonical little-endian, field-by-field byte
// sequence for fingerprinting. Using explicit Append* calls instead of
// unsafe-casting a struct guarantees no compiler-inserted padding bytes
// leak into the hash input, and that the field order is the same on every
// platform regardless of struct layout rules.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty Builder with capacity hinted by size.
func NewBuilder(sizeHint int) *Builder {
	return &Builder{buf: make([]byte, 0, sizeHint)}
}

func (b *Builder) AppendU8(v uint8) *Builder {
	b.buf = append(b.buf, v)

	return b
}

func (b *Builder) AppendU16(v uint16) *Builder {
	var tmp [2]byte

	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)

	return b
}

func (b *Builder) AppendU32(v uint32) *Builder {
	var tmp [4]byte

	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)

	return b
}

func (b *Builder) AppendU64(v uint64) *Builder {
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)

	return b
}

func (b *Builder) AppendBytes(v []byte) *Builder {
	b.buf = append(b.buf, v...)

	return b
}

// Sum finalizes the builder and returns the BLAKE2b-256 digest of the
// accumulated bytes.
func (b *Builder) Sum() [Size]byte {
	return Sum(b.buf)
}

// Bytes returns the accumulated canonical byte sequence, for callers that
// need it for something other than hashing (e.g. tests asserting on the
// exact wire form).
func (b *Builder) Bytes() []byte {
	return b.buf
}
