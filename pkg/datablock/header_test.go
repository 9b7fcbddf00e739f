package datablock

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_EncodeDecodeHeader_Round_Trips_Static_Fields(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BufferPolicy:        BufferBlocking,
		ConsumerSyncPolicy:  SyncReader,
		PhysicalPageSize:    128,
		LogicalUnitSize:     256,
		RingCapacity:        9,
		FlexibleZoneSize:    64,
		ChecksumPolicy:      ChecksumEnforced,
		ChecksumAlgorithm:   ChecksumAlgorithmBlake2b256,
		SchemaVersionPacked: PackSchemaVersion(1, 2, 3),
	}
	cfg.SharedSecret[0] = 0xAB
	cfg.SchemaFingerprint[31] = 0xCD

	layout := layoutFromConfig(cfg)
	want := Header{
		ABIMajor:          abiMajor,
		ABIMinor:          abiMinor,
		TotalSize:         layout.TotalSize,
		Config:            cfg,
		LayoutFingerprint: computeLayoutFingerprint(cfg),
	}
	copy(want.Magic[:], headerMagic)

	buf := encodeHeader(want)
	if len(buf) != headerSizeBytes {
		t.Fatalf("encodeHeader len = %d, want %d", len(buf), headerSizeBytes)
	}

	got := decodeHeader(buf)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decodeHeader(encodeHeader(want)) round-trip mismatch (-want +got):\n%s", diff)
	}
}

func Test_ComputeLayoutFingerprint_Is_Independent_Of_NonLayout_Fields(t *testing.T) {
	t.Parallel()

	base := Config{
		BufferPolicy:       BufferOverwrite,
		ConsumerSyncPolicy: LatestOnly,
		PhysicalPageSize:   64,
		RingCapacity:       8,
		ChecksumPolicy:     ChecksumDisabled,
	}

	other := base
	other.SchemaVersionPacked = PackSchemaVersion(9, 9, 9)
	other.SharedSecret[0] = 0xFF

	if computeLayoutFingerprint(base) != computeLayoutFingerprint(other) {
		t.Errorf("layout fingerprint changed when only non-layout fields differed")
	}

	changed := base
	changed.RingCapacity = 9

	if computeLayoutFingerprint(base) == computeLayoutFingerprint(changed) {
		t.Errorf("layout fingerprint did not change when RingCapacity differed")
	}
}

func Test_ValidateHeader_Detects_Each_Mismatch_Class(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BufferPolicy:       BufferOverwrite,
		ConsumerSyncPolicy: LatestOnly,
		PhysicalPageSize:   64,
		RingCapacity:       8,
		ChecksumPolicy:     ChecksumDisabled,
	}
	cfg.SharedSecret[0] = 0x11
	cfg.SchemaFingerprint[0] = 0x22

	h := Header{ABIMajor: abiMajor, ABIMinor: abiMinor, Config: cfg, LayoutFingerprint: computeLayoutFingerprint(cfg)}
	copy(h.Magic[:], headerMagic)

	if err := validateHeader(h, cfg); err != nil {
		t.Fatalf("validateHeader(matching config) = %v, want nil", err)
	}

	badMagic := h
	badMagic.Magic = [8]byte{}
	if err := validateHeader(badMagic, cfg); err == nil {
		t.Errorf("validateHeader(bad magic) = nil, want error")
	}

	badABI := h
	badABI.ABIMajor = abiMajor + 1
	if err := validateHeader(badABI, cfg); err == nil {
		t.Errorf("validateHeader(bad ABI) = nil, want error")
	}

	mismatchedCapacity := cfg
	mismatchedCapacity.RingCapacity = cfg.RingCapacity + 1
	if err := validateHeader(h, mismatchedCapacity); err == nil {
		t.Errorf("validateHeader(mismatched ring capacity) = nil, want error")
	}

	wrongSchema := cfg
	wrongSchema.SchemaFingerprint[0] = 0x99
	if err := validateHeader(h, wrongSchema); err == nil {
		t.Errorf("validateHeader(wrong schema fingerprint) = nil, want error")
	}

	wrongSecret := cfg
	wrongSecret.SharedSecret[0] = 0x99
	if err := validateHeader(h, wrongSecret); err == nil {
		t.Errorf("validateHeader(wrong shared secret) = nil, want error")
	}
}
