// Package datablock implements the Data Exchange Hub (DataBlock): a
// zero-copy, single-producer/multiple-consumer shared-memory ring used for
// scientific instrumentation and real-time data acquisition. One process
// (the producer) publishes fixed-size records into a shared-memory segment;
// zero or more peer processes (consumers) observe them without copying.
//
// # Basic usage
//
//	cfg := datablock.Config{
//	    BufferPolicy:       datablock.BufferOverwrite,
//	    ConsumerSyncPolicy: datablock.LatestOnly,
//	    PhysicalPageSize:   4096,
//	    RingCapacity:       64,
//	    ChecksumPolicy:     datablock.ChecksumDisabled,
//	}
//
//	prod, err := datablock.Create("telemetry", cfg)
//	defer prod.Destroy()
//
//	w, err := prod.AcquireWriteSlot(100)
//	copy(prod.Bytes(w), payload)
//	err = prod.ReleaseWriteSlot(w, true) // true = commit
//
//	cons, err := datablock.Attach("telemetry", datablock.AttachOptions{ExpectedConfig: cfg})
//	defer cons.Detach()
//
//	it := cons.SlotIterator()
//	r, err := it.TryNext(100)
//	_ = cons.Bytes(r.Handle)
//	err = cons.ValidateRead(r.Handle)
//	cons.ReleaseConsumeSlot(r.Handle)
//
// # Concurrency
//
// Producer and Consumer are each safe for concurrent use by multiple
// goroutines within one process (an internal mutex serializes slot
// acquisition). Across processes, synchronization is entirely through
// atomics in the shared header and per-slot coordination records — see
// [Producer] and [Consumer].
//
// # Error handling
//
// Hot-path operations (AcquireWriteSlot, ReleaseWriteSlot,
// AcquireConsumeSlot, ValidateRead, ReleaseConsumeSlot) never panic on
// expected contention; they report it with wrapped sentinel errors
// ([ErrTimeout], [ErrNotReady], [ErrGenerationChanged],
// [ErrChecksumMismatch]) classified with errors.Is. Configuration and
// attach-time integrity errors ([ErrInvalidConfig], [ErrIncompatible],
// [ErrCorrupt]) are returned from Create, Attach and OpenDiagnostics*.
package datablock
