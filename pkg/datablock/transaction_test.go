package datablock_test

import (
	"errors"
	"testing"

	"github.com/sdxhub/datablock/pkg/datablock"
)

type sampleRecord struct {
	A uint64
	B uint64
}

func Test_WithWriteTransaction_Commits_On_Nil_Error(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	err = datablock.WithWriteTransaction(p, 0, func(buf []byte) error {
		copy(buf, []byte("committed"))
		return nil
	})
	if err != nil {
		t.Fatalf("WithWriteTransaction() = %v, want nil", err)
	}

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	if _, err := c.AcquireConsumeSlot(0); err != nil {
		t.Errorf("AcquireConsumeSlot(0) = %v, want nil (transaction should have committed)", err)
	}
}

func Test_WithWriteTransaction_Abandons_On_Error(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	sentinel := errors.New("application rejected this write")

	err = datablock.WithWriteTransaction(p, 0, func(buf []byte) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithWriteTransaction() = %v, want sentinel", err)
	}

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	if _, err := c.AcquireConsumeSlot(0); !errors.Is(err, datablock.ErrNotReady) {
		t.Errorf("AcquireConsumeSlot(0) = %v, want ErrNotReady (transaction should have abandoned)", err)
	}
}

func Test_WithReadTransaction_Validates_And_Releases(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	wh, err := p.AcquireWriteSlot(0)
	if err != nil {
		t.Fatalf("AcquireWriteSlot() = %v, want nil", err)
	}

	copy(p.Bytes(wh), []byte("abc"))

	if err := p.ReleaseWriteSlot(wh, true); err != nil {
		t.Fatalf("ReleaseWriteSlot() = %v, want nil", err)
	}

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	var seen string

	err = datablock.WithReadTransaction(c, wh.SlotIndex(), func(buf []byte) error {
		seen = string(buf[:3])
		return nil
	})
	if err != nil {
		t.Fatalf("WithReadTransaction() = %v, want nil", err)
	}

	if seen != "abc" {
		t.Errorf("WithReadTransaction() saw %q, want %q", seen, "abc")
	}

	// The guard must have released the slot: a second transaction can
	// acquire it again.
	if err := datablock.WithReadTransaction(c, wh.SlotIndex(), func(buf []byte) error { return nil }); err != nil {
		t.Errorf("second WithReadTransaction() = %v, want nil", err)
	}
}

func Test_WithTypedWrite_And_WithTypedRead_Round_Trip_A_Struct(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	err = datablock.WithTypedWrite[sampleRecord](p, 0, func(v *sampleRecord) error {
		v.A = 7
		v.B = 42
		return nil
	})
	if err != nil {
		t.Fatalf("WithTypedWrite() = %v, want nil", err)
	}

	c, err := datablock.Attach(name, datablock.AttachOptions{ExpectedConfig: cfg})
	if err != nil {
		t.Fatalf("Attach() = %v, want nil", err)
	}
	defer c.Detach()

	var got sampleRecord

	err = datablock.WithTypedRead[sampleRecord](c, 0, func(v *sampleRecord) error {
		got = *v
		return nil
	})
	if err != nil {
		t.Fatalf("WithTypedRead() = %v, want nil", err)
	}

	if got.A != 7 || got.B != 42 {
		t.Errorf("WithTypedRead() = %+v, want {A:7 B:42}", got)
	}
}

func Test_WithTypedWrite_Rejects_Oversized_Type(t *testing.T) {
	withTempShmDir(t)

	cfg := testConfig()
	cfg.PhysicalPageSize = 4
	name := uniqueSegmentName(t)

	p, err := datablock.Create(name, cfg)
	if err != nil {
		t.Fatalf("Create() = %v, want nil", err)
	}
	defer p.Destroy()

	err = datablock.WithTypedWrite[sampleRecord](p, 0, func(v *sampleRecord) error { return nil })
	if !errors.Is(err, datablock.ErrTypeTooLarge) {
		t.Errorf("WithTypedWrite() with a 16-byte type over a 4-byte slot = %v, want ErrTypeTooLarge", err)
	}
}
