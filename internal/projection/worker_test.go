package projection_test

import (
	"context"
	"testing"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/persistence"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/projection"
	"OptionLedger/internal/state"
	"OptionLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func sampleCoreOutput(seq int64) core.CoreOutput {
	st := state.NewPoolState()
	st.Deposits.Enqueue(alice, fpmath.MustParse("100"), t0)
	st.Withdrawals.Enqueue(bob, fpmath.MustParse("40"), t0)
	st.Withdrawals.FillHead(fpmath.MustParse("15"), fpmath.MustParse("15"))
	st.CircuitBreaker.Extend(t0.Add(time.Hour))
	st.InsolventSettlementAmount = fpmath.MustParse("30")

	return core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:  seq,
			EventType: event.EventTypeProcessWithdrawalQueue,
			Timestamp: t0,
			Emitted: []event.Emitted{
				event.DepositQueued{DepositQueueID: 1},
				event.DepositProcessed{DepositQueueID: 0},
				event.WithdrawPartiallyProcessed{WithdrawalQueueID: 1},
				event.WithdrawPartiallyProcessed{WithdrawalQueueID: 1},
				event.QuoteLocked{},
			},
		},
		Pool: st,
		Liquidity: &pool.Liquidity{
			FreeLiquidity: fpmath.MustParse("900"),
			NAV:           fpmath.MustParse("1000"),
			TokenPrice:    fpmath.One(),
			SpotPrice:     fpmath.MustParse("2000"),
		},
		Balances: []core.BalanceEntry{
			{Holder: alice, AssetID: ledger.AssetShare, Balance: fpmath.MustParse("12.5")},
		},
	}
}

func TestFromCore(t *testing.T) {
	po := projection.FromCore(sampleCoreOutput(9))

	assert.Equal(t, int64(9), po.Sequence)
	assert.Equal(t, "ProcessWithdrawalQueue", po.EventType)

	require.Len(t, po.Balances, 1)
	assert.Equal(t, projection.BalanceRow{Holder: alice.Hex(), Asset: "share", Balance: "12.5"}, po.Balances[0])

	require.Len(t, po.Deposits, 1, "the fast path id 0 has no ticket")
	assert.Equal(t, uint64(1), po.Deposits[0].TicketID)
	assert.Equal(t, "100", po.Deposits[0].AmountQuote)
	assert.False(t, po.Deposits[0].Processed)

	require.Len(t, po.Withdrawals, 1, "repeated ids collapse")
	assert.Equal(t, "25", po.Withdrawals[0].TokensRemaining)
	assert.Equal(t, "15", po.Withdrawals[0].QuoteSent)

	require.NotNil(t, po.Liquidity)
	assert.Equal(t, "900", po.Liquidity.FreeLiquidity)
	assert.Equal(t, "1", po.Liquidity.TokenPrice)
	assert.Equal(t, "30", po.Liquidity.InsolventSettlements)
	require.NotNil(t, po.Liquidity.CBUntil)
	assert.True(t, po.Liquidity.CBUntil.Equal(t0.Add(time.Hour)))
}

func TestFromCore_NoSpotPrice(t *testing.T) {
	out := sampleCoreOutput(1)
	out.Liquidity = nil
	out.Pool.CircuitBreaker = state.CircuitBreaker{}

	po := projection.FromCore(out)
	assert.Nil(t, po.Liquidity)
	assert.Len(t, po.Deposits, 1)
}

// ============================================================================
// Postgres-backed tests
// ============================================================================

func TestProjectionWorker_Apply(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, "", zerolog.Nop()).Up(ctx))
	pg := testutil.SetupTestPool(t)

	in := make(chan projection.ProjectionOutput, 2)
	worker := projection.NewProjectionWorker(pg, in, zerolog.Nop(), nil)
	in <- projection.FromCore(sampleCoreOutput(4))

	older := projection.FromCore(sampleCoreOutput(3))
	older.Balances[0].Balance = "1"
	in <- older
	close(in)
	require.NoError(t, worker.Run(ctx))
	assert.Equal(t, int64(3), worker.LastSequence())

	var balance string
	require.NoError(t, pg.QueryRow(ctx,
		`SELECT balance::text FROM projections.balances WHERE holder = $1 AND asset = 'share'`,
		alice.Hex()).Scan(&balance))
	assert.Equal(t, "12.500000000000000000", balance, "an older sequence never overwrites")

	var watermark int64
	require.NoError(t, pg.QueryRow(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = 'pool'`).Scan(&watermark))
	assert.Equal(t, int64(4), watermark)

	var remaining string
	require.NoError(t, pg.QueryRow(ctx,
		`SELECT tokens_remaining::text FROM projections.withdrawal_tickets WHERE ticket_id = 1`).Scan(&remaining))
	assert.Equal(t, "25.000000000000000000", remaining)
}
