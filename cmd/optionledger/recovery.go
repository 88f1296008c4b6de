package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

var errHashMismatch = errors.New("state hash mismatch")

// recovery rebuilds the core from the latest verified snapshot plus the tail
// of the event log. It runs before the engine goroutine starts, so it drives
// the core directly.
type recovery struct {
	snapMgr *persistence.SnapshotManager
	idem    *persistence.PostgresIdempotencyChecker
	log     zerolog.Logger

	restored bool
}

func (r *recovery) restore(ctx context.Context, c *core.DeterministicCore) error {
	snap, err := r.snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		r.log.Info().Msg("no snapshot found, cold start from sequence 0")
		return nil
	}

	var state core.SnapshotState
	if err := json.Unmarshal(snap.Data, &state); err != nil {
		return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
	}
	if err := c.RestoreFromSnapshot(&state); err != nil {
		return fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
	}

	hash := c.GetStateHash()
	if !bytes.Equal(hash[:], snap.StateHash) {
		return fmt.Errorf("%w: snapshot %d stored %x, restored %x", errHashMismatch, snap.Sequence, snap.StateHash, hash)
	}
	r.restored = true
	r.log.Info().Int64("sequence", snap.Sequence).Msg("state restored from snapshot")
	return nil
}

// replay re-applies every logged command from the core's sequence onward and
// checks each recomputed state hash against the logged one.
func (r *recovery) replay(ctx context.Context, c *core.DeterministicCore) error {
	from := c.GetSequence()
	var replayed int64

	for {
		rows, err := r.snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if err := replayRow(c, row); err != nil {
				return err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if replayed > 0 {
		r.log.Info().Int64("events", replayed).Int64("sequence", c.GetSequence()).Msg("event log replayed")
	}
	return nil
}

func replayRow(c *core.DeterministicCore, row persistence.EventRow) error {
	if row.Sequence != c.GetSequence() {
		return fmt.Errorf("event log gap: expected sequence %d, found %d", c.GetSequence(), row.Sequence)
	}
	evt, err := event.DecodeNamed(row.EventType, row.Payload)
	if err != nil {
		return fmt.Errorf("decode logged event %d: %w", row.Sequence, err)
	}
	env, err := c.ReplayEvent(evt)
	if err != nil {
		return fmt.Errorf("replay event %d (%s): %w", row.Sequence, row.EventType, err)
	}
	if env == nil {
		return fmt.Errorf("replay event %d (%s): skipped as duplicate", row.Sequence, row.EventType)
	}
	if !bytes.Equal(env.StateHash[:], row.StateHash) {
		return fmt.Errorf("%w at sequence %d: logged %x, replayed %x", errHashMismatch, row.Sequence, row.StateHash, env.StateHash)
	}
	return nil
}

// warmLRU loads recent keys from the event log when no snapshot supplied them.
func (r *recovery) warmLRU(ctx context.Context, c *core.DeterministicCore, capacity int) error {
	if r.restored {
		return nil
	}
	keys, err := r.idem.RecentKeys(ctx, capacity)
	if err != nil {
		return err
	}
	c.WarmLRU(keys)
	if len(keys) > 0 {
		r.log.Info().Int("keys", len(keys)).Msg("idempotency LRU warmed from event log")
	}
	return nil
}

// snapshotter captures engine state between commands and stores it.
type snapshotter struct {
	engine  *core.Engine
	snapMgr *persistence.SnapshotManager
	log     zerolog.Logger
	metrics *observability.Metrics
}

// Take snapshots the live engine and returns the snapshot's sequence.
func (s *snapshotter) Take(ctx context.Context) (int64, error) {
	var state *core.SnapshotState
	if err := s.engine.Query(ctx, func(v *core.View) { state = v.Snapshot() }); err != nil {
		return 0, err
	}
	return s.save(ctx, state)
}

// save stores state and marks it verified once the event log holds every
// command it covers. An unverified snapshot is never restored from.
func (s *snapshotter) save(ctx context.Context, state *core.SnapshotState) (int64, error) {
	start := time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{
		Sequence:  state.Sequence,
		StateHash: state.StateHash[:],
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return 0, err
	}

	logged, err := s.waitLogged(ctx, state.Sequence-1, 5*time.Second)
	if err != nil {
		return 0, fmt.Errorf("read event log tail: %w", err)
	}
	if logged < state.Sequence-1 {
		s.log.Warn().
			Int64("sequence", state.Sequence).
			Int64("logged", logged).
			Msg("snapshot ahead of event log, left unverified")
		return state.Sequence, nil
	}
	if err := s.snapMgr.MarkVerified(ctx, state.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		s.metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	s.log.Info().Int64("sequence", state.Sequence).Int("bytes", len(data)).Msg("snapshot saved")
	return state.Sequence, nil
}

// waitLogged polls the event log tail until it reaches seq or timeout passes,
// and returns the last tail it read.
func (s *snapshotter) waitLogged(ctx context.Context, seq int64, timeout time.Duration) (int64, error) {
	deadline := time.Now().Add(timeout)
	for {
		logged, err := s.snapMgr.GetLatestSequence(ctx)
		if err != nil || logged >= seq || time.Now().After(deadline) {
			return logged, err
		}
		select {
		case <-ctx.Done():
			return logged, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// RunPeriodic snapshots every interval events, checking every 10s.
func (s *snapshotter) RunPeriodic(ctx context.Context, interval int64) {
	if interval <= 0 {
		return
	}

	var last int64
	if err := s.engine.Query(ctx, func(v *core.View) { last = v.Sequence() }); err != nil {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var current int64
			if err := s.engine.Query(ctx, func(v *core.View) { current = v.Sequence() }); err != nil {
				return
			}
			if current-last < interval {
				continue
			}
			seq, err := s.Take(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq
		}
	}
}
