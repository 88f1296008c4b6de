package pool

import (
	"time"

	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Call identifies who invoked an operation and the versioned time it runs at.
type Call struct {
	Caller common.Address
	Now    time.Time
}

// PriceOracle quotes the spot price and executes base/quote swaps for a holder.
type PriceOracle interface {
	SpotPrice() (fpmath.Decimal, error)
	BaseSwapFeeRate() fpmath.Decimal
	QuoteSwapFeeRate() fpmath.Decimal
	EstimateExchangeToExactBase(amountBase fpmath.Decimal) (fpmath.Decimal, error)
	// ExchangeFromExactBase sells amountBase of holder's base for quote.
	ExchangeFromExactBase(holder common.Address, amountBase fpmath.Decimal) (quoteReceived fpmath.Decimal, err error)
	// ExchangeToExactBaseWithLimit buys amountBase for holder spending at most quoteLimit.
	ExchangeToExactBaseWithLimit(holder common.Address, amountBase, quoteLimit fpmath.Decimal) (quoteSpent, baseReceived fpmath.Decimal, err error)
}

// OptionValuation exposes the market's aggregate option book.
type OptionValuation interface {
	// GlobalOptionNetValue is what the pool owes (positive) or is owed
	// (negative) on all open options.
	GlobalOptionNetValue() fpmath.SignedDecimal
	IsGlobalCacheStale(spot fpmath.Decimal) bool
	MaxIVVariance() fpmath.Decimal
	MaxSkewVariance() fpmath.Decimal
	NumLiveBoards() int
}

type AssetToken interface {
	BalanceOf(holder common.Address) fpmath.Decimal
	Transfer(from, to common.Address, amount fpmath.Decimal) error
}

type ShareToken interface {
	BalanceOf(holder common.Address) fpmath.Decimal
	TotalSupply() fpmath.Decimal
	Mint(to common.Address, amount fpmath.Decimal) error
	Burn(from common.Address, amount fpmath.Decimal) error
}

type HedgerStrategy interface {
	HedgingLiquidity(spot fpmath.Decimal) (pending, used fpmath.Decimal)
	ResetInteractionDelay()
}
