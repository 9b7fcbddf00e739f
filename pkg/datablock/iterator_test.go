package datablock_test

import (
	"errors"
	"testing"

	"github.com/sdxhub/datablock/pkg/datablock"
)

func writeAndCommit(t *testing.T, p *datablock.Producer, payload byte) *datablock.WriteHandle {
	t.Helper()

	wh, err := p.AcquireWriteSlot(0)
	if err != nil {
		t.Fatalf("AcquireWriteSlot() = %v, want nil", err)
	}

	buf := p.Bytes(wh)
	buf[0] = payload

	if err := p.ReleaseWriteSlot(wh, true); err != nil {
		t.Fatalf("ReleaseWriteSlot() = %v, want nil", err)
	}

	return wh
}

func Test_SlotIterator_LatestOnly_Always_Returns_Most_Recent_Slot(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.ConsumerSyncPolicy = datablock.LatestOnly
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	writeAndCommit(t, p, 1)
	writeAndCommit(t, p, 2)
	last := writeAndCommit(t, p, 3)

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	it := c.SlotIterator()

	res, err := it.TryNext(0)
	if err != nil {
		t.Fatalf("TryNext() = %v, want nil", err)
	}

	if res.SlotIndex != last.SlotIndex() {
		t.Errorf("TryNext() slot = %d, want most recent slot %d", res.SlotIndex, last.SlotIndex())
	}

	c.ReleaseConsumeSlot(res.Handle)

	// A second call with nothing new committed still returns the same
	// latest slot under latest_only (no cursor to advance).
	res2, err := it.TryNext(0)
	if err != nil {
		t.Fatalf("TryNext() second call = %v, want nil", err)
	}

	if res2.SlotIndex != last.SlotIndex() {
		t.Errorf("TryNext() second call slot = %d, want %d", res2.SlotIndex, last.SlotIndex())
	}

	c.ReleaseConsumeSlot(res2.Handle)
}

func Test_SlotIterator_SingleReader_Advances_Sequentially_Without_Skipping(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.ConsumerSyncPolicy = datablock.SingleReader
	cfg.RingCapacity = 8
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	first := writeAndCommit(t, p, 10)
	second := writeAndCommit(t, p, 20)

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	it := c.SlotIterator()

	res1, err := it.TryNext(0)
	if err != nil {
		t.Fatalf("TryNext() first = %v, want nil", err)
	}

	if res1.SlotIndex != first.SlotIndex() {
		t.Errorf("first TryNext() slot = %d, want %d", res1.SlotIndex, first.SlotIndex())
	}

	c.ReleaseConsumeSlot(res1.Handle)

	res2, err := it.TryNext(0)
	if err != nil {
		t.Fatalf("TryNext() second = %v, want nil", err)
	}

	if res2.SlotIndex != second.SlotIndex() {
		t.Errorf("second TryNext() slot = %d, want %d", res2.SlotIndex, second.SlotIndex())
	}

	c.ReleaseConsumeSlot(res2.Handle)

	if _, err := it.TryNext(0); !errors.Is(err, datablock.ErrNotReady) {
		t.Errorf("TryNext() with nothing new = %v, want ErrNotReady", err)
	}
}

func Test_SlotIterator_SeekLatest_Skips_Backlog(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.ConsumerSyncPolicy = datablock.SingleReader
	cfg.RingCapacity = 8
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	writeAndCommit(t, p, 1)
	writeAndCommit(t, p, 2)
	writeAndCommit(t, p, 3)

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	it := c.SlotIterator()
	it.SeekLatest()

	if _, err := it.TryNext(0); !errors.Is(err, datablock.ErrNotReady) {
		t.Errorf("TryNext() after SeekLatest() with no new writes = %v, want ErrNotReady", err)
	}

	next := writeAndCommit(t, p, 4)

	res, err := it.TryNext(0)
	if err != nil {
		t.Fatalf("TryNext() after new write = %v, want nil", err)
	}

	if res.SlotIndex != next.SlotIndex() {
		t.Errorf("TryNext() slot = %d, want %d", res.SlotIndex, next.SlotIndex())
	}

	c.ReleaseConsumeSlot(res.Handle)
}

func Test_SlotIterator_SyncReader_Tracks_Position_Per_Consumer(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.ConsumerSyncPolicy = datablock.SyncReader
	cfg.RingCapacity = 8
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	first := writeAndCommit(t, p, 1)

	c1, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() c1 = %v, want nil", err)
	}
	defer c1.Detach()

	c2, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() c2 = %v, want nil", err)
	}
	defer c2.Detach()

	it1 := c1.SlotIterator()
	it2 := c2.SlotIterator()

	res1, err := it1.TryNext(0)
	if err != nil {
		t.Fatalf("c1 TryNext() = %v, want nil", err)
	}

	if res1.SlotIndex != first.SlotIndex() {
		t.Errorf("c1 TryNext() slot = %d, want %d", res1.SlotIndex, first.SlotIndex())
	}

	c1.ReleaseConsumeSlot(res1.Handle)

	// c2 has not consumed anything yet; its own cursor should still see the
	// first slot regardless of c1's progress.
	res2, err := it2.TryNext(0)
	if err != nil {
		t.Fatalf("c2 TryNext() = %v, want nil", err)
	}

	if res2.SlotIndex != first.SlotIndex() {
		t.Errorf("c2 TryNext() slot = %d, want %d", res2.SlotIndex, first.SlotIndex())
	}

	c2.ReleaseConsumeSlot(res2.Handle)
}
