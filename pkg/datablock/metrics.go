package datablock

// Metrics block: a fixed set of relaxed-atomic counters living in the
// header's dynamic region (offMetricsBlock), incremented on the hot path and
// readable by any attached process via GetMetrics without taking a lock.
// Ordering is relaxed (plain atomic load/add, no fences) since these are
// observational counters, not coordination state (§3.3).
const (
	metricOffSlotsWritten   = 0 * 8
	metricOffSlotsCommitted = 1 * 8
	metricOffSlotsDropped   = 2 * 8
	// metricOffWriteTimeouts counts only acquireWrite deadlines hit while
	// the slot's writer lock itself was held (state SlotWriting, owner
	// alive); a deadline hit while only waiting on readers to drain is
	// counted separately by metricOffReaderDrainTimeouts (§4.4, §8.3).
	metricOffWriteTimeouts = 3 * 8
	// metricOffReadTimeouts is reserved for a future bounded-blocking read
	// acquire; AcquireConsumeSlot never blocks today, so nothing bumps it.
	metricOffReadTimeouts            = 4 * 8
	metricOffWriterLockContentions   = 5 * 8
	metricOffReaderDrainWaits        = 6 * 8
	metricOffZombieWriterReclaims    = 7 * 8
	metricOffZombieReaderReclaims    = 8 * 8
	metricOffChecksumFailures        = 9 * 8
	metricOffGenerationChanged       = 10 * 8
	metricOffSpinlockContentions     = 11 * 8
	metricOffSpinlockTimeouts        = 12 * 8
	metricOffHeartbeatSlotExhausted  = 13 * 8
	metricOffBackpressureEvents      = 14 * 8
	metricOffConsumerAcquireTimeouts = 15 * 8
	metricOffReaderDrainTimeouts     = 16 * 8

	metricsBlockFieldCount = 17
	metricsBlockSize       = metricsBlockFieldCount * 8
)

// Metrics is a point-in-time snapshot of a segment's counters (§4.9's
// "observational" metrics, also exposed directly via Producer/Consumer
// GetMetrics).
type Metrics struct {
	SlotsWritten            uint64
	SlotsCommitted          uint64
	SlotsDropped            uint64
	WriteTimeouts           uint64
	ReadTimeouts            uint64
	WriterLockContentions   uint64
	ReaderDrainWaits        uint64
	ZombieWriterReclaims    uint64
	ZombieReaderReclaims    uint64
	ChecksumFailures        uint64
	GenerationChangedEvents uint64
	SpinlockContentions     uint64
	SpinlockTimeouts        uint64
	HeartbeatSlotExhausted  uint64
	BackpressureEvents      uint64
	ConsumerAcquireTimeouts uint64
	ReaderDrainTimeouts     uint64
}

func snapshotMetrics(buf []byte) Metrics {
	base := uint64(offMetricsBlock)

	return Metrics{
		SlotsWritten:            loadU64(buf, base+metricOffSlotsWritten),
		SlotsCommitted:          loadU64(buf, base+metricOffSlotsCommitted),
		SlotsDropped:            loadU64(buf, base+metricOffSlotsDropped),
		WriteTimeouts:           loadU64(buf, base+metricOffWriteTimeouts),
		ReadTimeouts:            loadU64(buf, base+metricOffReadTimeouts),
		WriterLockContentions:   loadU64(buf, base+metricOffWriterLockContentions),
		ReaderDrainWaits:        loadU64(buf, base+metricOffReaderDrainWaits),
		ZombieWriterReclaims:    loadU64(buf, base+metricOffZombieWriterReclaims),
		ZombieReaderReclaims:    loadU64(buf, base+metricOffZombieReaderReclaims),
		ChecksumFailures:        loadU64(buf, base+metricOffChecksumFailures),
		GenerationChangedEvents: loadU64(buf, base+metricOffGenerationChanged),
		SpinlockContentions:     loadU64(buf, base+metricOffSpinlockContentions),
		SpinlockTimeouts:        loadU64(buf, base+metricOffSpinlockTimeouts),
		HeartbeatSlotExhausted:  loadU64(buf, base+metricOffHeartbeatSlotExhausted),
		BackpressureEvents:      loadU64(buf, base+metricOffBackpressureEvents),
		ConsumerAcquireTimeouts: loadU64(buf, base+metricOffConsumerAcquireTimeouts),
		ReaderDrainTimeouts:     loadU64(buf, base+metricOffReaderDrainTimeouts),
	}
}

func resetMetrics(buf []byte) {
	base := uint64(offMetricsBlock)
	for i := 0; i < metricsBlockFieldCount; i++ {
		storeU64(buf, base+uint64(i*8), 0)
	}
}

func bumpMetric(buf []byte, fieldOffset uint64) {
	addU64(buf, uint64(offMetricsBlock)+fieldOffset, 1)
}
