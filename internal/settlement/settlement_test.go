package settlement_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/market"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2026, 3, 27, 8, 0, 0, 0, time.UTC)

	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000001001")
	marketAddr = common.HexToAddress("0x0000000000000000000000000000000000002002")
	vaultAddr  = common.HexToAddress("0x0000000000000000000000000000000000003003")

	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func dec(s string) fpmath.Decimal { return fpmath.MustParse(s) }

func at(caller common.Address) pool.Call { return pool.Call{Caller: caller, Now: t0} }

// ============================================================================
// Fakes
// ============================================================================

type fakePool struct {
	bank           *ledger.Bank
	reclaimedQuote []fpmath.Decimal
	reclaimedBase  []fpmath.Decimal
	failReclaim    error
}

func (p *fakePool) SendSettlementValue(c pool.Call, user common.Address, amount fpmath.Decimal) error {
	if c.Caller != vaultAddr {
		return pool.ErrOnlyShortCollateral
	}
	return p.bank.Token(ledger.AssetQuote).Transfer(poolAddr, user, amount)
}

func (p *fakePool) ReclaimInsolventQuote(c pool.Call, amount fpmath.Decimal) error {
	if p.failReclaim != nil {
		return p.failReclaim
	}
	p.reclaimedQuote = append(p.reclaimedQuote, amount)
	return p.bank.Token(ledger.AssetQuote).Transfer(poolAddr, vaultAddr, amount)
}

func (p *fakePool) ReclaimInsolventBase(c pool.Call, amount fpmath.Decimal) error {
	p.reclaimedBase = append(p.reclaimedBase, amount)
	return p.bank.Token(ledger.AssetBase).Transfer(poolAddr, vaultAddr, amount)
}

type fakeRegistry struct {
	positions map[uint64]settlement.Position
	strikes   map[uint64]settlement.SettlementParams
	settled   map[uint64]bool
}

func (r *fakeRegistry) PositionsWithOwner(ids []uint64) ([]settlement.Position, error) {
	out := make([]settlement.Position, 0, len(ids))
	for _, id := range ids {
		pos, ok := r.positions[id]
		if !ok || r.settled[id] {
			return nil, fmt.Errorf("position %d not active", id)
		}
		out = append(out, pos)
	}
	return out, nil
}

func (r *fakeRegistry) SettlePositions(ids []uint64) error {
	for _, id := range ids {
		r.settled[id] = true
	}
	return nil
}

func (r *fakeRegistry) SettlementParameters(strikeID uint64) (settlement.SettlementParams, error) {
	return r.strikes[strikeID], nil
}

type fixture struct {
	bank     *ledger.Bank
	pool     *fakePool
	registry *fakeRegistry
	vault    *settlement.Vault
	events   *event.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bank := ledger.NewBank()
	f := &fixture{
		bank: bank,
		pool: &fakePool{bank: bank},
		registry: &fakeRegistry{
			positions: map[uint64]settlement.Position{},
			strikes:   map[uint64]settlement.SettlementParams{},
			settled:   map[uint64]bool{},
		},
		events: event.NewRecorder(),
	}
	f.vault = settlement.NewVault(vaultAddr, poolAddr, marketAddr, settlement.Deps{
		Pool:      f.pool,
		Quote:     bank.Token(ledger.AssetQuote),
		Base:      bank.Token(ledger.AssetBase),
		Positions: f.registry,
		Events:    f.events,
		Journal:   []ledger.Journaled{bank},
		Logger:    zerolog.Nop(),
	})
	f.mint(ledger.AssetQuote, poolAddr, "100000")
	f.mint(ledger.AssetBase, poolAddr, "1000")
	return f
}

func (f *fixture) mint(asset ledger.AssetID, holder common.Address, amount string) {
	if err := f.bank.Token(asset).Mint(holder, dec(amount)); err != nil {
		panic(err)
	}
}

func (f *fixture) balance(asset ledger.AssetID, holder common.Address) fpmath.Decimal {
	return f.bank.Token(asset).BalanceOf(holder)
}

// open registers a position and, for shorts, puts its collateral in the vault.
func (f *fixture) open(id, strikeID uint64, owner common.Address, typ settlement.OptionType, amount, collateral string) {
	f.registry.positions[id] = settlement.Position{
		ID: id, StrikeID: strikeID, Owner: owner, Type: typ,
		Amount: dec(amount), Collateral: dec(collateral),
	}
	if typ.IsLong() {
		return
	}
	if typ.IsBaseCollateralized() {
		f.mint(ledger.AssetBase, vaultAddr, collateral)
	} else {
		f.mint(ledger.AssetQuote, vaultAddr, collateral)
	}
}

func (f *fixture) expire(strikeID uint64, strike, expiry, ratio string) {
	f.registry.strikes[strikeID] = settlement.SettlementParams{
		StrikePrice: dec(strike),
		ExpiryPrice: dec(expiry),
		ProfitRatio: dec(ratio),
	}
}

// ============================================================================
// Test: payouts
// ============================================================================

func TestPayoutFormulas(t *testing.T) {
	cases := []struct {
		name                      string
		typ                       settlement.OptionType
		strike, spot, ratio, size string
		want                      string
	}{
		{"long call itm", settlement.LongCall, "100", "120", "0", "2", "40"},
		{"long call otm", settlement.LongCall, "100", "90", "0", "2", "0"},
		{"long put itm", settlement.LongPut, "100", "75", "0", "2", "50"},
		{"short call base uses ratio", settlement.ShortCallBase, "100", "150", "0.25", "4", "1"},
		{"short call quote", settlement.ShortCallQuote, "100", "130", "0", "1.5", "45"},
		{"short put quote otm", settlement.ShortPutQuote, "100", "130", "0", "1", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				got fpmath.Decimal
				err error
			)
			if tc.typ.IsLong() {
				got, err = settlement.LongPayout(tc.typ, dec(tc.strike), dec(tc.spot), dec(tc.size))
			} else {
				got, err = settlement.AMMProfit(tc.typ, dec(tc.strike), dec(tc.spot), dec(tc.ratio), dec(tc.size))
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestShortOutcome(t *testing.T) {
	returned, insolvent := settlement.ShortOutcome(dec("50"), dec("80"))
	assert.True(t, returned.IsZero())
	assert.True(t, insolvent.Eq(dec("30")))

	returned, insolvent = settlement.ShortOutcome(dec("100"), dec("80"))
	assert.True(t, returned.Eq(dec("20")))
	assert.True(t, insolvent.IsZero())
}

func TestOptionTypeText(t *testing.T) {
	b, err := settlement.ShortCallBase.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SHORT_CALL_BASE", string(b))

	var typ settlement.OptionType
	require.NoError(t, typ.UnmarshalText([]byte("long_put")))
	assert.Equal(t, settlement.LongPut, typ)
	assert.Error(t, typ.UnmarshalText([]byte("straddle")))
}

// ============================================================================
// Test: SettleOptions
// ============================================================================

func TestSettleOptions_InsolventShortReclaimsFromPool(t *testing.T) {
	f := newFixture(t)
	f.open(1, 7, alice, settlement.ShortPutQuote, "1", "50")
	f.expire(7, "100", "20", "0")

	require.NoError(t, f.vault.SettleOptions(at(bob), []uint64{1}))

	assert.True(t, f.balance(ledger.AssetQuote, alice).IsZero())
	require.Len(t, f.pool.reclaimedQuote, 1)
	assert.True(t, f.pool.reclaimedQuote[0].Eq(dec("30")))
	assert.True(t, f.registry.settled[1])

	var settled *event.PositionSettled
	for _, e := range f.events.Drain() {
		if ps, ok := e.(event.PositionSettled); ok {
			settled = &ps
		}
	}
	require.NotNil(t, settled)
	assert.True(t, settled.InsolventAmount.Eq(dec("30")))
	assert.True(t, settled.SettlementAmount.IsZero())
	assert.Equal(t, bob, settled.Settler)
}

func TestSettleOptions_LongsPaidByPool(t *testing.T) {
	f := newFixture(t)
	f.open(1, 7, alice, settlement.LongCall, "2", "0")
	f.open(2, 7, bob, settlement.LongPut, "2", "0")
	f.expire(7, "100", "120", "0")

	require.NoError(t, f.vault.SettleOptions(at(bob), []uint64{1, 2}))
	assert.True(t, f.balance(ledger.AssetQuote, alice).Eq(dec("40")))
	assert.True(t, f.balance(ledger.AssetQuote, bob).IsZero())
	assert.Empty(t, f.pool.reclaimedQuote)
}

func TestSettleOptions_BaseCollateralReturned(t *testing.T) {
	f := newFixture(t)
	f.open(1, 7, alice, settlement.ShortCallBase, "4", "3")
	f.expire(7, "100", "150", "0.25")

	require.NoError(t, f.vault.SettleOptions(at(alice), []uint64{1}))
	assert.True(t, f.balance(ledger.AssetBase, alice).Eq(dec("2")))
	assert.True(t, f.balance(ledger.AssetBase, vaultAddr).Eq(dec("1")))
	assert.Empty(t, f.pool.reclaimedBase)
}

func TestSettleOptions_BoardNotSettledMovesNothing(t *testing.T) {
	f := newFixture(t)
	f.open(1, 7, alice, settlement.ShortCallQuote, "1", "50")
	f.open(2, 8, bob, settlement.LongCall, "1", "0")
	f.expire(7, "100", "120", "0")
	f.expire(8, "100", "0", "0")

	err := f.vault.SettleOptions(at(bob), []uint64{1, 2})
	assert.ErrorIs(t, err, settlement.ErrBoardNotSettled)

	assert.True(t, f.balance(ledger.AssetQuote, vaultAddr).Eq(dec("50")))
	assert.True(t, f.balance(ledger.AssetQuote, alice).IsZero())
	assert.False(t, f.registry.settled[1])
	assert.Empty(t, f.events.Drain())
}

func TestSettleOptions_PoolFailureRollsBackPayouts(t *testing.T) {
	f := newFixture(t)
	f.open(1, 7, alice, settlement.ShortCallQuote, "1", "50")
	f.open(2, 7, bob, settlement.ShortPutQuote, "1", "10")
	f.expire(7, "100", "120", "0")
	f.pool.failReclaim = errors.New("pool out of free liquidity")

	// alice gets 30 back, bob's put is out of the money, nothing insolvent
	require.NoError(t, f.vault.SettleOptions(at(bob), []uint64{1, 2}))
	assert.True(t, f.balance(ledger.AssetQuote, alice).Eq(dec("30")))
	assert.True(t, f.balance(ledger.AssetQuote, bob).Eq(dec("10")))

	f.open(3, 9, alice, settlement.ShortCallQuote, "1", "5")
	f.expire(9, "100", "120", "0")
	err := f.vault.SettleOptions(at(bob), []uint64{3})
	require.Error(t, err)
	assert.True(t, f.balance(ledger.AssetQuote, alice).Eq(dec("30")))
	assert.False(t, f.registry.settled[3])
}

func TestSettleOptions_Empty(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.vault.SettleOptions(at(bob), nil), settlement.ErrNoPositions)
}

// ============================================================================
// Test: board settlement and netting
// ============================================================================

func TestBoardSettlement_RecordsShortfallAndNetsLaterInsolvency(t *testing.T) {
	f := newFixture(t)
	f.mint(ledger.AssetQuote, vaultAddr, "5")

	_, _, err := f.vault.BoardSettlement(at(alice), fpmath.Zero(), dec("25"))
	assert.ErrorIs(t, err, pool.ErrOnlyOptionMarket)

	baseShort, quoteShort, err := f.vault.BoardSettlement(at(marketAddr), fpmath.Zero(), dec("25"))
	require.NoError(t, err)
	assert.True(t, baseShort.IsZero())
	assert.True(t, quoteShort.Eq(dec("20")))
	assert.True(t, f.vault.State().Insolvency.ExcessQuote.Eq(dec("20")))
	assert.True(t, f.balance(ledger.AssetQuote, vaultAddr).IsZero())

	// 30 insolvent: 20 was already absorbed, only 10 is reclaimed
	f.open(1, 7, alice, settlement.ShortPutQuote, "1", "50")
	f.expire(7, "100", "20", "0")
	require.NoError(t, f.vault.SettleOptions(at(bob), []uint64{1}))

	require.Len(t, f.pool.reclaimedQuote, 1)
	assert.True(t, f.pool.reclaimedQuote[0].Eq(dec("10")))
	assert.True(t, f.vault.State().Insolvency.ExcessQuote.IsZero())
}

func TestInsolvencyNetting_ExcessCoversBatch(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.vault.BoardSettlement(at(marketAddr), dec("2"), fpmath.Zero())
	require.NoError(t, err)

	f.open(1, 7, alice, settlement.ShortCallBase, "4", "0.5")
	f.expire(7, "100", "150", "0.25")
	require.NoError(t, f.vault.SettleOptions(at(bob), []uint64{1}))

	assert.Empty(t, f.pool.reclaimedBase)
	assert.True(t, f.vault.State().Insolvency.ExcessBase.Eq(dec("1.5")))
}

func TestInsolvencyNetting_NeverReclaimsMoreThanInsolvent(t *testing.T) {
	f := newFixture(t)
	var insolventTotal fpmath.Decimal
	var id uint64

	for round := 0; round < 6; round++ {
		if round%2 == 0 {
			_, _, err := f.vault.BoardSettlement(at(marketAddr), fpmath.Zero(), dec("15"))
			require.NoError(t, err)
		}
		id++
		f.open(id, id, alice, settlement.ShortPutQuote, "1", "50")
		f.expire(id, "100", "40", "0")
		require.NoError(t, f.vault.SettleOptions(at(bob), []uint64{id}))
		insolventTotal = insolventTotal.Add(dec("10"))

		var reclaimed fpmath.Decimal
		for _, r := range f.pool.reclaimedQuote {
			reclaimed = reclaimed.Add(r)
		}
		assert.True(t, reclaimed.Lte(insolventTotal), "round %d: reclaimed %s > insolvent %s", round, reclaimed, insolventTotal)
	}
}

func TestSendQuoteCollateral_ClampsToBalance(t *testing.T) {
	f := newFixture(t)
	f.mint(ledger.AssetQuote, vaultAddr, "7")

	require.NoError(t, f.vault.SendQuoteCollateral(at(marketAddr), alice, dec("10")))
	assert.True(t, f.balance(ledger.AssetQuote, alice).Eq(dec("7")))
	assert.True(t, f.vault.State().Insolvency.ExcessQuote.Eq(dec("3")))

	f.mint(ledger.AssetBase, vaultAddr, "1")
	require.NoError(t, f.vault.SendBaseCollateral(at(marketAddr), alice, dec("1")))
	assert.True(t, f.balance(ledger.AssetBase, alice).Eq(dec("1")))
	assert.True(t, f.vault.State().Insolvency.ExcessBase.IsZero())

	assert.ErrorIs(t, f.vault.SendBaseCollateral(at(alice), alice, dec("1")), pool.ErrOnlyOptionMarket)
}

// ============================================================================
// Test: repeated ids against the real position book
// ============================================================================

func TestSettleOptions_RepeatedIDPaysOnce(t *testing.T) {
	f := newFixture(t)
	book := market.NewPositionBook(f.bank, vaultAddr)
	f.vault = settlement.NewVault(vaultAddr, poolAddr, marketAddr, settlement.Deps{
		Pool:      f.pool,
		Quote:     f.bank.Token(ledger.AssetQuote),
		Base:      f.bank.Token(ledger.AssetBase),
		Positions: book,
		Events:    f.events,
		Journal:   []ledger.Journaled{f.bank, book},
		Logger:    zerolog.Nop(),
	})

	for id, owner := range map[uint64]common.Address{1: alice, 2: bob} {
		f.mint(ledger.AssetQuote, owner, "100")
		_, err := book.Open(&event.PositionOpened{
			PositionID: id, StrikeID: 7, Owner: owner,
			OptionType: "SHORT_PUT_QUOTE", Size: dec("1"), Collateral: dec("100"),
		})
		require.NoError(t, err)
	}
	require.NoError(t, book.Expire(&event.StrikeExpired{
		StrikeID: 7, StrikePrice: dec("100"), ExpiryPrice: dec("100"), ProfitRatio: dec("0"),
	}))

	err := f.vault.SettleOptions(at(alice), []uint64{1, 1})
	assert.ErrorIs(t, err, settlement.ErrDuplicatePosition)
	assert.True(t, f.balance(ledger.AssetQuote, alice).IsZero())
	assert.Equal(t, "200", f.balance(ledger.AssetQuote, vaultAddr).String())
	assert.Len(t, book.OpenPositions(), 2)

	_, err = book.PositionsWithOwner([]uint64{2, 2})
	assert.ErrorIs(t, err, settlement.ErrDuplicatePosition)
	assert.ErrorIs(t, book.SettlePositions([]uint64{2, 2}), settlement.ErrDuplicatePosition)

	require.NoError(t, f.vault.SettleOptions(at(alice), []uint64{1, 2}))
	assert.Equal(t, "100", f.balance(ledger.AssetQuote, alice).String())
	assert.Equal(t, "100", f.balance(ledger.AssetQuote, bob).String())
	assert.True(t, f.balance(ledger.AssetQuote, vaultAddr).IsZero())
	assert.Empty(t, book.OpenPositions())
}
