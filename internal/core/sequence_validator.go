package core

import (
	"errors"
	"fmt"
)

var ErrStaleFeed = errors.New("stale feed update")

// SequenceValidator tracks the last applied sequence per feed partition.
// Not thread-safe: only the deterministic core goroutine touches it.
type SequenceValidator struct {
	lastSeq map[string]int64 // partition -> last applied sequence
	metrics *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastSeq: make(map[string]int64),
		metrics: NewSequenceMetrics(),
	}
}

// ValidateFeedSequence rejects a reading at or below the last applied one.
// Gaps are tolerated: a newer reading supersedes everything before it.
// It does not advance; call Advance once the reading is applied.
func (sv *SequenceValidator) ValidateFeedSequence(partition string, seq int64) error {
	last := sv.lastSeq[partition]
	if seq <= last {
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("%w: partition=%s, last=%d, got=%d", ErrStaleFeed, partition, last, seq)
	}
	if seq > last+1 {
		sv.metrics.RecordGap(partition)
	}
	return nil
}

func (sv *SequenceValidator) Advance(partition string, seq int64) {
	sv.lastSeq[partition] = seq
}

func (sv *SequenceValidator) GetLastSequence(partition string) int64 {
	return sv.lastSeq[partition]
}

// GetAllPartitions returns a copy for snapshots.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.lastSeq))
	for k, v := range sv.lastSeq {
		out[k] = v
	}
	return out
}

// RestorePartition sets a partition's last sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.lastSeq[partition] = seq
}

func (sv *SequenceValidator) Metrics() *SequenceMetrics { return sv.metrics }

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe: only the deterministic core goroutine touches it.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
