package datablock

import (
	"fmt"
	"reflect"
	"unsafe"
)

// WriteTransactionGuard wraps a WriteHandle so callers can release it with a
// single deferred call instead of threading commit/abandon through every
// return path by hand (§4.8).
type WriteTransactionGuard struct {
	producer  *Producer
	handle    *WriteHandle
	committed bool
}

// Bytes returns the writable slice for this transaction's slot.
func (g *WriteTransactionGuard) Bytes() []byte { return g.producer.Bytes(g.handle) }

// SlotIndex returns the ring slot this transaction was acquired against.
func (g *WriteTransactionGuard) SlotIndex() uint64 { return g.handle.SlotIndex() }

// Commit marks the transaction for a commit on Close. Calling it more than
// once is harmless.
func (g *WriteTransactionGuard) Commit() { g.committed = true }

// Close releases the underlying slot, committing it if Commit was called
// and abandoning it otherwise. Safe to call via defer immediately after
// WithWriteTransaction-style acquisition.
func (g *WriteTransactionGuard) Close() error {
	return g.producer.ReleaseWriteSlot(g.handle, g.committed)
}

// BeginWriteTransaction acquires a write slot and wraps it in a guard. The
// caller must call Close (typically via defer) exactly once.
func (p *Producer) BeginWriteTransaction(timeoutMillis int64) (*WriteTransactionGuard, error) {
	h, err := p.AcquireWriteSlot(timeoutMillis)
	if err != nil {
		return nil, err
	}

	return &WriteTransactionGuard{producer: p, handle: h}, nil
}

// WithWriteTransaction acquires a write slot, invokes fn with its bytes, and
// commits the slot iff fn returns a nil error. This is the lambda-style
// equivalent of BeginWriteTransaction+Commit+Close for callers who prefer
// not to manage the guard themselves (§4.8).
func WithWriteTransaction(p *Producer, timeoutMillis int64, fn func(buf []byte) error) error {
	g, err := p.BeginWriteTransaction(timeoutMillis)
	if err != nil {
		return err
	}

	fnErr := fn(g.Bytes())
	if fnErr == nil {
		g.Commit()
	}

	if closeErr := g.Close(); closeErr != nil {
		if fnErr != nil {
			return fnErr
		}

		return closeErr
	}

	return fnErr
}

// ReadTransactionGuard wraps a ReadHandle so callers can release it with a
// single deferred call (§4.8).
type ReadTransactionGuard struct {
	consumer *Consumer
	handle   *ReadHandle
}

// Bytes returns the read-only slice for this transaction's slot.
func (g *ReadTransactionGuard) Bytes() []byte { return g.consumer.Bytes(g.handle) }

// SlotIndex returns the ring slot this transaction was acquired against.
func (g *ReadTransactionGuard) SlotIndex() uint64 { return g.handle.SlotIndex() }

// Validate confirms no writer raced this read; see [Consumer.ValidateRead].
func (g *ReadTransactionGuard) Validate() error { return g.consumer.ValidateRead(g.handle) }

// Close releases the underlying slot.
func (g *ReadTransactionGuard) Close() error {
	g.consumer.ReleaseConsumeSlot(g.handle)

	return nil
}

// BeginReadTransaction acquires slotIndex for reading and wraps it in a
// guard. The caller must call Close (typically via defer) exactly once.
func (c *Consumer) BeginReadTransaction(slotIndex uint64) (*ReadTransactionGuard, error) {
	h, err := c.AcquireConsumeSlot(slotIndex)
	if err != nil {
		return nil, err
	}

	return &ReadTransactionGuard{consumer: c, handle: h}, nil
}

// WithReadTransaction acquires slotIndex for reading, validates it, invokes
// fn with its bytes iff validation passed, and always releases the slot
// (§4.8).
func WithReadTransaction(c *Consumer, slotIndex uint64, fn func(buf []byte) error) error {
	g, err := c.BeginReadTransaction(slotIndex)
	if err != nil {
		return err
	}
	defer g.Close()

	if err := g.Validate(); err != nil {
		return err
	}

	return fn(g.Bytes())
}

// WithTypedWrite acquires a write slot, hands fn a *T view directly over
// the slot's bytes (no copy), and commits iff fn returns nil (§4.8).
//
// T's size must not exceed the segment's slot stride, and the slot's
// starting address must satisfy T's alignment; both are checked before fn
// runs. The data ring starts 64-byte aligned, but Config does not constrain
// the slot stride's alignment, so a slot after the first is only as aligned
// as its offset (DataRingOffset + index*stride) makes it; the alignment
// check rejects a type the slot's address does not satisfy.
func WithTypedWrite[T any](p *Producer, timeoutMillis int64, fn func(v *T) error) error {
	return WithWriteTransactionTyped(p, timeoutMillis, fn)
}

// WithWriteTransactionTyped is the explicit name behind WithTypedWrite; both
// are exported so callers can pick whichever reads better at the call site.
func WithWriteTransactionTyped[T any](p *Producer, timeoutMillis int64, fn func(v *T) error) error {
	return WithWriteTransaction(p, timeoutMillis, func(buf []byte) error {
		v, err := typedView[T](buf)
		if err != nil {
			return err
		}

		return fn(v)
	})
}

// WithTypedRead acquires slotIndex for reading, validates it, hands fn a
// read-only *T view directly over the slot's bytes iff validation passed,
// and always releases the slot (§4.8). No validation is repeated after fn
// returns.
func WithTypedRead[T any](c *Consumer, slotIndex uint64, fn func(v *T) error) error {
	return WithReadTransaction(c, slotIndex, func(buf []byte) error {
		v, err := typedView[T](buf)
		if err != nil {
			return err
		}

		return fn(v)
	})
}

// typedView reinterprets buf's backing array as a *T, checking size and
// alignment first.
func typedView[T any](buf []byte) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))

	if size > len(buf) {
		return nil, fmt.Errorf("type %s is %d bytes, slot holds %d: %w", reflect.TypeOf(zero), size, len(buf), ErrTypeTooLarge)
	}

	align := uintptr(reflect.TypeOf(zero).Align())
	addr := uintptr(unsafe.Pointer(&buf[0]))

	if addr%align != 0 {
		return nil, fmt.Errorf("slot address %#x is not %d-byte aligned for type %s: %w", addr, align, reflect.TypeOf(zero), ErrMisaligned)
	}

	return (*T)(unsafe.Pointer(&buf[0])), nil
}
