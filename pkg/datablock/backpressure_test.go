package datablock_test

import (
	"errors"
	"testing"

	"github.com/sdxhub/datablock/pkg/datablock"
)

func Test_SingleReader_Producer_Blocks_When_Ring_Is_Full(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.ConsumerSyncPolicy = datablock.SingleReader
	cfg.RingCapacity = 2
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	// Fill the ring without any consumption: RingCapacity writes succeed.
	for i := 0; i < int(cfg.RingCapacity); i++ {
		writeAndCommit(t, p, byte(i))
	}

	// The ring is now full relative to the shared read_index (still at 0):
	// the next acquire must time out rather than overwrite unconsumed data.
	if _, err := p.AcquireWriteSlot(50); !errors.Is(err, datablock.ErrTimeout) {
		t.Fatalf("AcquireWriteSlot() on full ring = %v, want ErrTimeout", err)
	}

	if m := p.GetMetrics(); m.BackpressureEvents == 0 {
		t.Errorf("BackpressureEvents = 0, want > 0 after a backpressure timeout")
	}

	// Consuming one slot advances read_index and frees up room.
	it := c.SlotIterator()

	res, err := it.TryNext(0)
	if err != nil {
		t.Fatalf("TryNext() = %v, want nil", err)
	}

	c.ReleaseConsumeSlot(res.Handle)

	if _, err := p.AcquireWriteSlot(500); err != nil {
		t.Fatalf("AcquireWriteSlot() after consumption = %v, want nil", err)
	}
}

func Test_SyncReader_Producer_Does_Not_Block_Before_Any_Consumer_Attaches(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.ConsumerSyncPolicy = datablock.SyncReader
	cfg.RingCapacity = 2
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	for i := 0; i < int(cfg.RingCapacity)*3; i++ {
		writeAndCommit(t, p, byte(i))
	}
}

func Test_SyncReader_Producer_Blocks_On_Slowest_Consumer(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.ConsumerSyncPolicy = datablock.SyncReader
	cfg.RingCapacity = 2
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	fast, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() fast = %v, want nil", err)
	}
	defer fast.Detach()

	slow, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() slow = %v, want nil", err)
	}
	defer slow.Detach()

	for i := 0; i < int(cfg.RingCapacity); i++ {
		writeAndCommit(t, p, byte(i))
	}

	fastIt := fast.SlotIterator()

	for i := 0; i < int(cfg.RingCapacity); i++ {
		res, err := fastIt.TryNext(0)
		if err != nil {
			t.Fatalf("fast TryNext() iteration %d = %v, want nil", i, err)
		}

		fast.ReleaseConsumeSlot(res.Handle)
	}

	// fast has consumed everything, but slow has not advanced: the producer
	// must still block against slow, the slower of the two.
	if _, err := p.AcquireWriteSlot(50); !errors.Is(err, datablock.ErrTimeout) {
		t.Fatalf("AcquireWriteSlot() with slow consumer behind = %v, want ErrTimeout", err)
	}

	slowIt := slow.SlotIterator()

	res, err := slowIt.TryNext(0)
	if err != nil {
		t.Fatalf("slow TryNext() = %v, want nil", err)
	}

	slow.ReleaseConsumeSlot(res.Handle)

	if _, err := p.AcquireWriteSlot(500); err != nil {
		t.Fatalf("AcquireWriteSlot() after slow consumed one = %v, want nil", err)
	}
}
