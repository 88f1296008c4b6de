package core_test

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"testing"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	addrs = core.Addresses{
		Pool:            common.HexToAddress("0x0000000000000000000000000000000000001001"),
		OptionMarket:    common.HexToAddress("0x0000000000000000000000000000000000002002"),
		Vault:           common.HexToAddress("0x0000000000000000000000000000000000003003"),
		PoolHedger:      common.HexToAddress("0x0000000000000000000000000000000000004004"),
		Owner:           common.HexToAddress("0x0000000000000000000000000000000000005005"),
		ExchangeReserve: common.HexToAddress("0x0000000000000000000000000000000000007007"),
	}

	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// --- Test helpers ---

func dec(s string) fpmath.Decimal { return fpmath.MustParse(s) }

func meta(caller common.Address) event.Meta {
	return event.Meta{CommandID: uuid.New(), Caller: caller, Timestamp: t0}
}

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(core.Config{
		Addresses: addrs,
		Params:    state.DefaultPoolParameters(),
	}, persistChan, projChan, nil, zerolog.Nop(), nil)
	require.NoError(t, err)
	return c, persistChan, projChan
}

func fund(holder common.Address, asset, amount string) *event.AssetFunded {
	return &event.AssetFunded{Meta: meta(holder), Holder: holder, Asset: asset, Amount: dec(amount)}
}

func feed(seq int64, spot string) *event.MarketFeedUpdate {
	return &event.MarketFeedUpdate{Meta: meta(common.Address{}), FeedSequence: seq, SpotPrice: dec(spot)}
}

func deposit(from common.Address, amount string) *event.InitiateDeposit {
	return &event.InitiateDeposit{Meta: meta(from), Beneficiary: from, AmountQuote: dec(amount)}
}

func mustProcess(t *testing.T, c *core.DeterministicCore, evt event.Event) *event.EventEnvelope {
	t.Helper()
	env, err := c.ProcessEvent(evt)
	require.NoError(t, err)
	require.NotNil(t, env)
	return env
}

func emittedNames(env *event.EventEnvelope) []string {
	out := make([]string, 0, len(env.Emitted))
	for _, e := range env.Emitted {
		out = append(out, e.Name())
	}
	return out
}

// bootstrap funds the exchange reserve, alice and bob, publishes a spot price
// and has alice deposit 1000 quote through the fast path.
func bootstrap(t *testing.T, c *core.DeterministicCore) {
	t.Helper()
	mustProcess(t, c, fund(addrs.ExchangeReserve, "quote", "1000000"))
	mustProcess(t, c, fund(addrs.ExchangeReserve, "base", "1000000"))
	mustProcess(t, c, fund(alice, "quote", "1000"))
	mustProcess(t, c, fund(bob, "quote", "50"))
	mustProcess(t, c, feed(1, "2"))
	mustProcess(t, c, deposit(alice, "1000"))
}

// ============================================================================
// Test: command flow
// ============================================================================

func TestCore_DepositFastPath(t *testing.T) {
	c, persistChan, projChan := newTestCore(t)
	bootstrap(t, c)

	assert.Equal(t, int64(6), c.GetSequence())
	require.Len(t, persistChan, 6)
	require.Len(t, projChan, 6)

	var last core.CoreOutput
	for i := 0; i < 6; i++ {
		last = <-persistChan
	}
	assert.Equal(t, int64(5), last.Envelope.Sequence)
	assert.Equal(t, event.EventTypeInitiateDeposit, last.Envelope.EventType)
	assert.Equal(t, []string{"DepositProcessed"}, emittedNames(last.Envelope))

	require.NotNil(t, last.Batch)
	require.NoError(t, last.Batch.Validate())
	require.NotNil(t, last.Liquidity)
	assert.Equal(t, "1000", last.Liquidity.NAV.String())
	assert.Equal(t, "1", last.Liquidity.TokenPrice.String())
	assert.Equal(t, "1000", last.Liquidity.FreeLiquidity.String())
}

func TestCore_InsolventShortSettlement(t *testing.T) {
	c, _, _ := newTestCore(t)
	bootstrap(t, c)

	mustProcess(t, c, &event.PositionOpened{
		Meta:       meta(addrs.OptionMarket),
		PositionID: 1,
		StrikeID:   7,
		Owner:      bob,
		OptionType: "SHORT_PUT_QUOTE",
		Size:       dec("1"),
		Collateral: dec("50"),
	})
	mustProcess(t, c, &event.StrikeExpired{
		Meta:        meta(addrs.OptionMarket),
		StrikeID:    7,
		StrikePrice: dec("100"),
		ExpiryPrice: dec("20"),
	})

	env := mustProcess(t, c, &event.SettleOptions{Meta: meta(alice), PositionIDs: []uint64{1}})
	assert.Contains(t, emittedNames(env), "PositionSettled")
	assert.Contains(t, emittedNames(env), "InsolventSettlementAmountUpdated")

	// put worth 80 against 50 collateral: the pool covers 30
	engine := core.NewEngine(c, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	require.NoError(t, engine.Query(ctx, func(v *core.View) {
		assert.Equal(t, "30", v.Pool().InsolventSettlementAmount.String())
		assert.Equal(t, "970", v.Balance(addrs.Pool, ledger.AssetQuote).String())
		assert.Equal(t, "80", v.Balance(addrs.Vault, ledger.AssetQuote).String())
		assert.True(t, v.Balance(bob, ledger.AssetQuote).IsZero())
		assert.Empty(t, v.OpenPositions())
	}))
}

func TestCore_DuplicateCommandIsDropped(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	bootstrap(t, c)
	for len(persistChan) > 0 {
		<-persistChan
	}

	mustProcess(t, c, fund(bob, "quote", "100"))
	dup := deposit(bob, "100")
	mustProcess(t, c, dup)
	seq := c.GetSequence()

	env, err := c.ProcessEvent(dup)
	require.NoError(t, err)
	assert.Nil(t, env)
	assert.Equal(t, seq, c.GetSequence())
	assert.Len(t, persistChan, 2)
}

func TestCore_StaleFeedRejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustProcess(t, c, feed(3, "2"))
	seq := c.GetSequence()

	_, err := c.ProcessEvent(feed(3, "5"))
	assert.ErrorIs(t, err, core.ErrStaleFeed)
	_, err = c.ProcessEvent(feed(2, "5"))
	assert.ErrorIs(t, err, core.ErrStaleFeed)
	assert.Equal(t, seq, c.GetSequence())

	mustProcess(t, c, feed(10, "5"))
}

func TestCore_RejectedCommandLeavesNoTrace(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	bootstrap(t, c)
	for len(persistChan) > 0 {
		<-persistChan
	}
	seq := c.GetSequence()
	hash := c.GetStateHash()

	// bob only holds 50
	_, err := c.ProcessEvent(deposit(bob, "500"))
	require.Error(t, err)

	_, err = c.ProcessEvent(fund(bob, "share", "1"))
	assert.ErrorIs(t, err, core.ErrUnknownAsset)

	_, err = c.ProcessEvent(&event.PositionOpened{Meta: meta(bob), PositionID: 9, StrikeID: 1, Owner: bob, OptionType: "LONG_CALL", Size: dec("1")})
	assert.ErrorIs(t, err, core.ErrOnlyMarket)

	assert.Equal(t, seq, c.GetSequence())
	assert.Equal(t, hash, c.GetStateHash())
	assert.Empty(t, persistChan)

	snap := c.CreateSnapshotState()
	for _, b := range snap.Balances {
		if b.Holder == bob {
			assert.Equal(t, "50", b.Balance.String())
		}
	}
}

func TestCore_TransferQuoteToHedgeNeedsSpot(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.ProcessEvent(&event.TransferQuoteToHedge{Meta: meta(addrs.PoolHedger), Amount: dec("1")})
	assert.Error(t, err)
	assert.Equal(t, int64(0), c.GetSequence())
}

// ============================================================================
// Test: hash chain and recovery
// ============================================================================

func TestCore_HashChain(t *testing.T) {
	c, _, _ := newTestCore(t)
	genesis := sha256.Sum256([]byte(core.GenesisHashSeed))
	assert.Equal(t, genesis, c.GetStateHash())

	first := mustProcess(t, c, fund(alice, "quote", "10"))
	second := mustProcess(t, c, fund(alice, "base", "10"))

	assert.Equal(t, genesis, first.PrevHash)
	assert.Equal(t, first.StateHash, second.PrevHash)
	assert.NotEqual(t, first.StateHash, second.StateHash)
	assert.Equal(t, second.StateHash, c.GetStateHash())
}

func TestCore_DeterministicAcrossInstances(t *testing.T) {
	cmds := []event.Event{
		fund(addrs.ExchangeReserve, "quote", "1000000"),
		fund(alice, "quote", "1000"),
		feed(1, "2"),
		deposit(alice, "1000"),
		&event.InitiateWithdraw{Meta: meta(alice), Beneficiary: alice, AmountShares: dec("100")},
	}

	a, _, _ := newTestCore(t)
	b, _, _ := newTestCore(t)
	for _, cmd := range cmds {
		envA := mustProcess(t, a, cmd)
		envB := mustProcess(t, b, cmd)
		assert.Equal(t, envA.StateHash, envB.StateHash, cmd.EventType().String())
	}
}

func TestCore_SnapshotRestore(t *testing.T) {
	a, _, _ := newTestCore(t)
	bootstrap(t, a)

	data, err := json.Marshal(a.CreateSnapshotState())
	require.NoError(t, err)
	var snap core.SnapshotState
	require.NoError(t, json.Unmarshal(data, &snap))

	b, _, _ := newTestCore(t)
	require.NoError(t, b.RestoreFromSnapshot(&snap))
	assert.Equal(t, a.GetSequence(), b.GetSequence())
	assert.Equal(t, a.GetStateHash(), b.GetStateHash())

	next := &event.InitiateWithdraw{Meta: meta(alice), Beneficiary: alice, AmountShares: dec("250")}
	envA := mustProcess(t, a, next)
	envB := mustProcess(t, b, next)
	assert.Equal(t, envA.StateHash, envB.StateHash)

	// the restored LRU still knows the bootstrap commands
	dup := fund(bob, "quote", "1")
	mustProcess(t, a, dup)
	restored, err := json.Marshal(a.CreateSnapshotState())
	require.NoError(t, err)
	var again core.SnapshotState
	require.NoError(t, json.Unmarshal(restored, &again))
	c, _, _ := newTestCore(t)
	require.NoError(t, c.RestoreFromSnapshot(&again))
	env, err := c.ProcessEvent(dup)
	require.NoError(t, err)
	assert.Nil(t, env)
}

// Logged payloads decode back into commands that replay to the same hashes,
// even on a core whose duplicate check would reject them as live commands.
func TestCore_ReplayFromLoggedPayloads(t *testing.T) {
	a, persistChan, _ := newTestCore(t)
	bootstrap(t, a)
	mustProcess(t, a, &event.InitiateWithdraw{Meta: meta(alice), Beneficiary: alice, AmountShares: dec("100")})

	b, _, _ := newTestCore(t)
	for len(persistChan) > 0 {
		out := <-persistChan
		evt, err := event.DecodeNamed(out.Envelope.EventType.String(), out.Envelope.Payload)
		require.NoError(t, err)

		// mark the key seen first, the way the event log would
		b.WarmLRU([]string{out.Envelope.EventType.String() + ":" + out.Envelope.IdempotencyKey})

		env, err := b.ReplayEvent(evt)
		require.NoError(t, err)
		require.NotNil(t, env, out.Envelope.EventType.String())
		assert.Equal(t, out.Envelope.Sequence, env.Sequence)
		assert.Equal(t, out.Envelope.StateHash, env.StateHash)
	}
	assert.Equal(t, a.GetStateHash(), b.GetStateHash())
}

func TestCore_RestoreRejectsBrokenConservation(t *testing.T) {
	a, _, _ := newTestCore(t)
	bootstrap(t, a)
	snap := a.CreateSnapshotState()
	snap.Balances = append(snap.Balances, core.BalanceEntry{Holder: bob, AssetID: ledger.AssetQuote, Balance: dec("1")})

	b, _, _ := newTestCore(t)
	assert.Error(t, b.RestoreFromSnapshot(snap))
}

func TestCore_LedgerClockOnlyMovesForward(t *testing.T) {
	c, _, _ := newTestCore(t)
	bootstrap(t, c)
	assert.Equal(t, t0, c.GetClock())

	at := func(caller common.Address, ts time.Time) event.Meta {
		m := meta(caller)
		m.Timestamp = ts
		return m
	}
	later := t0.Add(time.Hour)
	mustProcess(t, c, &event.UpdateCBs{Meta: at(bob, later)})
	assert.Equal(t, later, c.GetClock())

	seq, hash := c.GetSequence(), c.GetStateHash()
	_, err := c.ProcessEvent(&event.InitiateDeposit{
		Meta: at(bob, later.Add(-time.Minute)), Beneficiary: bob, AmountQuote: dec("10"),
	})
	assert.ErrorIs(t, err, core.ErrClockRegression)
	assert.Equal(t, seq, c.GetSequence())
	assert.Equal(t, hash, c.GetStateHash())
	assert.Equal(t, later, c.GetClock())

	// same instant is fine
	mustProcess(t, c, &event.InitiateDeposit{Meta: at(bob, later), Beneficiary: bob, AmountQuote: dec("10")})

	data, err := json.Marshal(c.CreateSnapshotState())
	require.NoError(t, err)
	var snap core.SnapshotState
	require.NoError(t, json.Unmarshal(data, &snap))
	restored, _, _ := newTestCore(t)
	require.NoError(t, restored.RestoreFromSnapshot(&snap))
	assert.True(t, later.Equal(restored.GetClock()))

	_, err = restored.ProcessEvent(&event.UpdateCBs{Meta: at(bob, t0)})
	assert.ErrorIs(t, err, core.ErrClockRegression)
}

// ============================================================================
// Test: engine actor
// ============================================================================

func TestEngine_SubmitAndQuery(t *testing.T) {
	c, _, _ := newTestCore(t)
	engine := core.NewEngine(c, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	_, err := engine.Submit(ctx, fund(alice, "quote", "1000"))
	require.NoError(t, err)
	_, err = engine.Submit(ctx, feed(1, "2"))
	require.NoError(t, err)
	env, err := engine.Submit(ctx, deposit(alice, "1000"))
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, engine.Query(ctx, func(v *core.View) {
		assert.Equal(t, int64(3), v.Sequence())
		assert.Equal(t, "1000", v.Balance(alice, ledger.AssetShare).String())
		check, err := v.TokenPriceWithCheck()
		assert.NoError(t, err)
		assert.Equal(t, "1", check.TokenPrice.String())
		assert.False(t, check.IsStale)
	}))

	cancel()
	require.NoError(t, <-done)
	_, err = engine.Submit(context.Background(), fund(alice, "quote", "1"))
	assert.ErrorIs(t, err, core.ErrEngineStopped)
}

func TestEngine_ClockStampsSubmittedCommands(t *testing.T) {
	c, _, _ := newTestCore(t)
	now := t0.Add(time.Hour)
	engine := core.NewEngine(c, 16).WithClock(func() time.Time { return now })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	// the submitter's timestamp is ignored, even a backdated one
	backdated := fund(alice, "quote", "1000")
	backdated.Timestamp = t0.Add(-24 * time.Hour)
	env, err := engine.Submit(ctx, backdated)
	require.NoError(t, err)
	assert.Equal(t, now, env.Timestamp)

	// a wall clock that steps back cannot move the ledger clock back
	now = t0
	env, err = engine.Submit(ctx, fund(bob, "quote", "10"))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), env.Timestamp)

	// replayed commands keep their logged time
	_, err = engine.Replay(ctx, fund(bob, "quote", "1"))
	assert.ErrorIs(t, err, core.ErrClockRegression)
}
