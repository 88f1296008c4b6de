package persistence_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/persistence"
	"OptionLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func sampleOutput(t *testing.T, seq int64) persistence.CoreOutput {
	t.Helper()
	batchID := uuid.New()
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: uuid.NewString(),
		EventType:      event.EventTypeInitiateDeposit,
		Caller:         alice,
		Timestamp:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Payload:        []byte(`{"amount_quote":"10"}`),
		Emitted: []event.Emitted{event.DepositQueued{
			Depositor:       alice,
			Beneficiary:     alice,
			DepositQueueID:  1,
			AmountDeposited: fpmath.MustParse("10"),
		}},
		StateHash: [32]byte{1},
		PrevHash:  [32]byte{2},
	}
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      env.IdempotencyKey,
			Sequence:      seq,
			DebitAccount:  ledger.NewAccountKey(common.HexToAddress("0x1001"), ledger.AssetQuote),
			CreditAccount: ledger.NewAccountKey(alice, ledger.AssetQuote),
			AssetID:       ledger.AssetQuote,
			Amount:        fpmath.MustParse("10.5"),
			JournalType:   ledger.JournalTypeTransfer,
		}},
	}
	out, err := persistence.NewCoreOutput(env, batch)
	require.NoError(t, err)
	return out
}

func TestNewCoreOutput(t *testing.T) {
	out := sampleOutput(t, 42)

	assert.Equal(t, int64(42), out.EventRow.Sequence)
	assert.Equal(t, "InitiateDeposit", out.EventRow.EventType)
	assert.Equal(t, alice.Hex(), out.EventRow.Caller)
	assert.Len(t, out.EventRow.StateHash, 32)
	assert.Equal(t, byte(1), out.EventRow.StateHash[0])

	var emitted []persistence.EmittedRecord
	require.NoError(t, json.Unmarshal(out.EventRow.Emitted, &emitted))
	require.Len(t, emitted, 1)
	assert.Equal(t, "DepositQueued", emitted[0].Name)
	assert.Contains(t, string(emitted[0].Data), `"amount_deposited":"10"`)

	require.Len(t, out.JournalRows, 1)
	j := out.JournalRows[0]
	assert.Equal(t, "10.5", j.Amount)
	assert.Equal(t, "holder:"+alice.Hex()+":quote", j.CreditAccount)
	assert.Equal(t, uint16(ledger.AssetQuote), j.AssetID)
}

func TestNewCoreOutput_NoBatch(t *testing.T) {
	out, err := persistence.NewCoreOutput(&event.EventEnvelope{EventType: event.EventTypeUpdateCBs}, nil)
	require.NoError(t, err)
	assert.Empty(t, out.JournalRows)
	assert.JSONEq(t, `[]`, string(out.EventRow.Emitted))
}

// ============================================================================
// Postgres-backed tests
// ============================================================================

func TestEventLogRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, "", zerolog.Nop()).Up(ctx))

	in := make(chan persistence.CoreOutput, 4)
	worker := persistence.NewPersistenceWorker(db, in, 2, time.Millisecond, zerolog.Nop(), nil)
	in <- sampleOutput(t, 0)
	in <- sampleOutput(t, 1)
	close(in)
	require.NoError(t, worker.Run(ctx))

	snaps := persistence.NewSnapshotManager(db)
	latest, err := snaps.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	rows, err := snaps.LoadEventsFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "InitiateDeposit", rows[0].EventType)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("InitiateDeposit", rows[0].IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, dup)

	keys, err := checker.RecentKeys(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestMigratorStatus(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	m := persistence.NewMigrator(db, "", zerolog.Nop())
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "second run is a no-op")

	all, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "000001", all[0].Version)
	assert.Equal(t, "000002_projections.up.sql", all[1].File)
	for _, st := range all {
		assert.True(t, st.Applied, st.File)
	}
}

func TestSnapshotSaveLoad(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, "", zerolog.Nop()).Up(ctx))
	snaps := persistence.NewSnapshotManager(db)

	snap := &persistence.SnapshotData{
		Sequence:  7,
		StateHash: make([]byte, 32),
		Data:      json.RawMessage(`{"sequence":7}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, snaps.SaveSnapshot(ctx, snap))

	loaded, err := snaps.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "unverified snapshots are not loaded")

	require.NoError(t, snaps.MarkVerified(ctx, 7))
	loaded, err = snaps.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(7), loaded.Sequence)
	assert.JSONEq(t, `{"sequence":7}`, string(loaded.Data))
}
