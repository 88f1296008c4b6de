package state_test

import (
	"testing"
	"time"

	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func dec(s string) fpmath.Decimal { return fpmath.MustParse(s) }

// ============================================================================
// Test: PoolParameters
// ============================================================================

func TestValidatePoolParameters_Defaults(t *testing.T) {
	require.NoError(t, state.ValidatePoolParameters(state.DefaultPoolParameters()))
}

func TestValidatePoolParameters_Bounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *state.PoolParameters)
	}{
		{"deposit delay 365d", func(p *state.PoolParameters) { p.DepositDelay = 365 * 24 * time.Hour }},
		{"withdrawal delay 365d", func(p *state.PoolParameters) { p.WithdrawalDelay = 365 * 24 * time.Hour }},
		{"guardian delay 365d", func(p *state.PoolParameters) { p.GuardianDelay = 365 * 24 * time.Hour }},
		{"withdrawal fee 20%", func(p *state.PoolParameters) { p.WithdrawalFee = dec("0.2") }},
		{"liquidity threshold 100%", func(p *state.PoolParameters) { p.LiquidityCBThreshold = fpmath.One() }},
		{"liquidity timeout 60d", func(p *state.PoolParameters) { p.LiquidityCBTimeout = 60 * 24 * time.Hour }},
		{"iv timeout 60d", func(p *state.PoolParameters) { p.IVVarianceCBTimeout = 60 * 24 * time.Hour }},
		{"skew timeout 60d", func(p *state.PoolParameters) { p.SkewVarianceCBTimeout = 60 * 24 * time.Hour }},
		{"board settlement timeout 10d", func(p *state.PoolParameters) { p.BoardSettlementCBTimeout = 10 * 24 * time.Hour }},
		{"negative delay", func(p *state.PoolParameters) { p.DepositDelay = -time.Second }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := state.DefaultPoolParameters()
			tc.mutate(&p)
			assert.ErrorIs(t, state.ValidatePoolParameters(p), state.ErrInvalidPoolParameters)
		})
	}
}

func TestValidatePoolParameters_FirstNegativeDurationIsReported(t *testing.T) {
	p := state.DefaultPoolParameters()
	p.WithdrawalDelay = -time.Second
	p.GuardianDelay = -time.Second
	p.SkewVarianceCBTimeout = -time.Second

	for i := 0; i < 20; i++ {
		err := state.ValidatePoolParameters(p)
		require.ErrorIs(t, err, state.ErrInvalidPoolParameters)
		assert.Contains(t, err.Error(), "withdrawal_delay must be >= 0")
	}
}

func TestParamsManager_RejectedUpdateKeepsOldSet(t *testing.T) {
	pm, err := state.NewParamsManager(state.DefaultPoolParameters())
	require.NoError(t, err)

	bad := state.DefaultPoolParameters()
	bad.WithdrawalFee = dec("0.5")
	require.Error(t, pm.Update(bad))
	assert.True(t, pm.Get().WithdrawalFee.Eq(dec("0.01")))
}

// ============================================================================
// Test: CollateralLedger
// ============================================================================

func TestCollateralLedger_FreeClampsAtZero(t *testing.T) {
	var c state.CollateralLedger
	require.NoError(t, c.LockQuote(dec("10")))
	require.NoError(t, c.LockBase(dec("2")))
	c.FreeQuote(dec("15"))
	c.FreeBase(dec("1"))

	assert.True(t, c.LockedQuote.IsZero())
	assert.True(t, c.LockedBase.Eq(dec("1")))
}

// ============================================================================
// Test: CircuitBreaker
// ============================================================================

func TestCircuitBreaker_SkipsWhenNothingAtRisk(t *testing.T) {
	var cb state.CircuitBreaker
	trig, moved := cb.Update(state.CBSignals{IVVariance: dec("5")}, state.DefaultPoolParameters(), t0)
	assert.False(t, moved)
	assert.False(t, trig.Any())
	assert.True(t, cb.Until.IsZero())
}

func TestCircuitBreaker_LongestTimeoutWins(t *testing.T) {
	p := state.DefaultPoolParameters()
	var cb state.CircuitBreaker

	trig, moved := cb.Update(state.CBSignals{
		FreeLiquidity: dec("0"),
		NAV:           dec("100"),
		UsedCollat:    dec("50"),
		IVVariance:    dec("0.5"),
	}, p, t0)

	require.True(t, moved)
	assert.True(t, trig.Liquidity)
	assert.True(t, trig.IVVariance)
	assert.False(t, trig.SkewVariance)
	assert.Equal(t, t0.Add(p.LiquidityCBTimeout), cb.Until)
}

func TestCircuitBreaker_ZeroNAVCountsAsNoFreeLiquidity(t *testing.T) {
	p := state.DefaultPoolParameters()
	var cb state.CircuitBreaker

	trig, moved := cb.Update(state.CBSignals{
		NAV:             fpmath.Zero(),
		OptionValueDebt: fpmath.Positive(dec("1")),
	}, p, t0)
	assert.True(t, moved)
	assert.True(t, trig.Liquidity)
}

func TestCircuitBreaker_NeverMovesBackward(t *testing.T) {
	p := state.DefaultPoolParameters()
	var cb state.CircuitBreaker
	require.True(t, cb.Extend(t0.Add(48*time.Hour)))

	assert.False(t, cb.BoardSettled(p, t0))
	assert.Equal(t, t0.Add(48*time.Hour), cb.Until)

	assert.True(t, cb.BoardSettled(p, t0.Add(47*time.Hour)))
	assert.Equal(t, t0.Add(47*time.Hour).Add(p.BoardSettlementCBTimeout), cb.Until)
}

func TestCircuitBreaker_CanProcess(t *testing.T) {
	delay := 24 * time.Hour
	guardianDelay := 72 * time.Hour
	cb := state.CircuitBreaker{Until: t0.Add(10 * 24 * time.Hour)}

	// breaker active
	assert.False(t, cb.CanProcess(t0, delay, false, false, guardianDelay, t0.Add(2*24*time.Hour)))
	// guardian bypass after guardian delay, even while stale
	assert.True(t, cb.CanProcess(t0, delay, true, true, guardianDelay, t0.Add(4*24*time.Hour)))
	// guardian before guardian delay
	assert.False(t, cb.CanProcess(t0, delay, false, true, guardianDelay, t0.Add(2*24*time.Hour)))

	cb.Until = time.Time{}
	// exactly at the delay boundary is not enough
	assert.False(t, cb.CanProcess(t0, delay, false, false, guardianDelay, t0.Add(delay)))
	assert.True(t, cb.CanProcess(t0, delay, false, false, guardianDelay, t0.Add(delay+time.Second)))
	// stale cache blocks non-guardian
	assert.False(t, cb.CanProcess(t0, delay, true, false, guardianDelay, t0.Add(delay+time.Second)))
}

// ============================================================================
// Test: Queues
// ============================================================================

func TestDepositQueue_FIFO(t *testing.T) {
	q := state.NewDepositQueue()
	first := q.Enqueue(alice, dec("100"), t0)
	second := q.Enqueue(bob, dec("50"), t0)

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
	assert.True(t, q.TotalQueued.Eq(dec("150")))

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, alice, head.Beneficiary)

	processed := q.ProcessHead(dec("90"), t0)
	assert.True(t, processed.Processed)
	assert.True(t, q.TotalQueued.Eq(dec("50")))
	assert.True(t, q.TotalQueued.Eq(q.SumPending()))
	assert.Equal(t, uint64(2), q.Head)

	assert.True(t, processed.AmountQuote.Eq(dec("100")))

	stored, ok := q.Get(1)
	require.True(t, ok)
	assert.True(t, stored.MintedTokens.Eq(dec("90")))
	assert.True(t, stored.AmountQuote.IsZero())
}

func TestWithdrawalQueue_PartialFillKeepsHead(t *testing.T) {
	q := state.NewWithdrawalQueue()
	q.Enqueue(alice, dec("100"), t0)

	entry, done := q.FillHead(dec("60"), dec("60"))
	assert.False(t, done)
	assert.Equal(t, uint64(1), q.Head)
	assert.True(t, entry.AmountTokensRemaining.Eq(dec("40")))
	assert.True(t, q.TotalQueued.Eq(dec("40")))

	entry, done = q.FillHead(dec("40"), dec("40"))
	assert.True(t, done)
	assert.Equal(t, uint64(2), q.Head)
	assert.True(t, entry.QuoteSentCumulative.Eq(dec("100")))
	assert.True(t, q.TotalQueued.IsZero())

	_, ok := q.Peek()
	assert.False(t, ok)
}

func TestQueueClone_IsIndependent(t *testing.T) {
	s := state.NewPoolState()
	s.Deposits.Enqueue(alice, dec("1"), t0)

	c := s.Clone()
	c.Deposits.ProcessHead(dec("1"), t0)

	head, ok := s.Deposits.Peek()
	require.True(t, ok)
	assert.False(t, head.Processed)
}

// ============================================================================
// Test: InsolvencyLedger
// ============================================================================

func TestInsolvencyLedger_Netting(t *testing.T) {
	var l state.InsolvencyLedger
	l.RecordQuoteShortfall(dec("30"))

	assert.True(t, l.NetQuote(dec("20")).IsZero())
	assert.True(t, l.ExcessQuote.Eq(dec("10")))

	residual := l.NetQuote(dec("25"))
	assert.True(t, residual.Eq(dec("15")))
	assert.True(t, l.ExcessQuote.IsZero())

	assert.True(t, l.NetBase(dec("2")).Eq(dec("2")))
}
