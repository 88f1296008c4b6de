package market_test

import (
	"testing"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/market"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	reserve = common.HexToAddress("0x0000000000000000000000000000000000007007")
	vault   = common.HexToAddress("0x0000000000000000000000000000000000003003")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func dec(s string) fpmath.Decimal { return fpmath.MustParse(s) }

func feedAt(seq int64, spot string) *event.MarketFeedUpdate {
	return &event.MarketFeedUpdate{
		Meta:             event.Meta{Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		FeedSequence:     seq,
		SpotPrice:        dec(spot),
		OptionNetValue:   fpmath.Negative(dec("12.5")),
		LiveBoards:       2,
		IVVariance:       dec("0.1"),
		HedgerPending:    dec("7"),
		HedgerUsed:       dec("3"),
		BaseSwapFeeRate:  dec("0.01"),
		QuoteSwapFeeRate: dec("0.02"),
	}
}

func TestFeed_AppliesReadings(t *testing.T) {
	f := market.NewFeed()
	_, err := f.SpotPrice()
	assert.ErrorIs(t, err, market.ErrNoSpotPrice)

	require.NoError(t, f.Apply(feedAt(1, "2000")))
	spot, err := f.SpotPrice()
	require.NoError(t, err)
	assert.Equal(t, "2000", spot.String())
	assert.Equal(t, "-12.5", f.GlobalOptionNetValue().String())
	assert.Equal(t, 2, f.NumLiveBoards())
	assert.False(t, f.IsGlobalCacheStale(spot))
	assert.True(t, f.IsGlobalCacheStale(dec("1999")))

	pending, used := f.HedgingLiquidity(spot)
	assert.True(t, pending.Eq(dec("7")))
	assert.True(t, used.Eq(dec("3")))
}

func TestFeed_RejectsOldSequence(t *testing.T) {
	f := market.NewFeed()
	require.NoError(t, f.Apply(feedAt(5, "2000")))
	assert.Error(t, f.Apply(feedAt(5, "2100")))
	assert.Error(t, f.Apply(feedAt(4, "2100")))
	require.NoError(t, f.Apply(feedAt(9, "2100")))
	assert.Equal(t, int64(9), f.State().Sequence)
}

func TestFeed_SnapshotRevert(t *testing.T) {
	f := market.NewFeed()
	require.NoError(t, f.Apply(feedAt(1, "2000")))

	id := f.Snapshot()
	require.NoError(t, f.Apply(feedAt(2, "2500")))
	f.ResetInteractionDelay()
	f.RevertToSnapshot(id)

	assert.Equal(t, int64(1), f.State().Sequence)
	assert.Equal(t, 0, f.State().HedgerResets)
}

func TestExchange_Swaps(t *testing.T) {
	bank := ledger.NewBank()
	feed := market.NewFeed()
	require.NoError(t, feed.Apply(feedAt(1, "2")))
	ex := market.NewExchange(feed, bank, reserve)

	require.NoError(t, bank.Token(ledger.AssetQuote).Mint(reserve, dec("1000")))
	require.NoError(t, bank.Token(ledger.AssetBase).Mint(reserve, dec("1000")))
	require.NoError(t, bank.Token(ledger.AssetBase).Mint(alice, dec("10")))

	// 10 base * 2 * (1 - 0.01)
	received, err := ex.ExchangeFromExactBase(alice, dec("10"))
	require.NoError(t, err)
	assert.Equal(t, "19.8", received.String())
	assert.Equal(t, "19.8", bank.Token(ledger.AssetQuote).BalanceOf(alice).String())

	// 5 base * 2 * 1.02
	estimate, err := ex.EstimateExchangeToExactBase(dec("5"))
	require.NoError(t, err)
	assert.Equal(t, "10.2", estimate.String())

	_, _, err = ex.ExchangeToExactBaseWithLimit(alice, dec("5"), dec("10"))
	assert.ErrorIs(t, err, market.ErrQuoteLimitExceeded)

	spent, got, err := ex.ExchangeToExactBaseWithLimit(alice, dec("5"), fpmath.Unbounded())
	require.NoError(t, err)
	assert.Equal(t, "10.2", spent.String())
	assert.Equal(t, "5", got.String())
	assert.Equal(t, "9.6", bank.Token(ledger.AssetQuote).BalanceOf(alice).String())
	assert.Equal(t, "5", bank.Token(ledger.AssetBase).BalanceOf(alice).String())

	require.NoError(t, bank.Validator().ValidateConservation())
}

func TestPositionBook_OpenMovesShortCollateral(t *testing.T) {
	bank := ledger.NewBank()
	book := market.NewPositionBook(bank, vault)
	require.NoError(t, bank.Token(ledger.AssetBase).Mint(alice, dec("3")))

	pos, err := book.Open(&event.PositionOpened{
		PositionID: 1, StrikeID: 7, Owner: alice,
		OptionType: "SHORT_CALL_BASE", Size: dec("4"), Collateral: dec("3"),
	})
	require.NoError(t, err)
	assert.Equal(t, settlement.ShortCallBase, pos.Type)
	assert.Equal(t, "3", bank.Token(ledger.AssetBase).BalanceOf(vault).String())

	base, quote := book.CollateralHeld()
	assert.Equal(t, "3", base.String())
	assert.True(t, quote.IsZero())

	_, err = book.Open(&event.PositionOpened{PositionID: 1, StrikeID: 7, Owner: alice, OptionType: "LONG_CALL", Size: dec("1")})
	assert.ErrorIs(t, err, market.ErrPositionExists)

	_, err = book.Open(&event.PositionOpened{PositionID: 2, StrikeID: 7, Owner: alice, OptionType: "SHORT_PUT_QUOTE", Size: dec("1"), Collateral: dec("50")})
	assert.Error(t, err, "alice has no quote")
}

func TestPositionBook_SettleLifecycle(t *testing.T) {
	bank := ledger.NewBank()
	book := market.NewPositionBook(bank, vault)

	_, err := book.Open(&event.PositionOpened{PositionID: 1, StrikeID: 7, Owner: alice, OptionType: "LONG_PUT", Size: dec("1")})
	require.NoError(t, err)

	params, err := book.SettlementParameters(7)
	require.NoError(t, err)
	assert.True(t, params.ExpiryPrice.IsZero())

	require.NoError(t, book.Expire(&event.StrikeExpired{StrikeID: 7, StrikePrice: dec("100"), ExpiryPrice: dec("90")}))
	assert.ErrorIs(t, book.Expire(&event.StrikeExpired{StrikeID: 7, ExpiryPrice: dec("1")}), market.ErrStrikeExpired)

	_, err = book.Open(&event.PositionOpened{PositionID: 2, StrikeID: 7, Owner: alice, OptionType: "LONG_PUT", Size: dec("1")})
	assert.ErrorIs(t, err, market.ErrStrikeExpired)

	assert.ErrorIs(t, book.SettlePositions([]uint64{1, 99}), market.ErrPositionNotFound)
	assert.Len(t, book.OpenPositions(), 1)

	require.NoError(t, book.SettlePositions([]uint64{1}))
	_, err = book.PositionsWithOwner([]uint64{1})
	assert.ErrorIs(t, err, market.ErrPositionSettled)
	assert.Empty(t, book.OpenPositions())
}
