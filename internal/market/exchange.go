package market

import (
	"errors"
	"fmt"

	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

var ErrQuoteLimitExceeded = errors.New("exchange cost exceeds quote limit")

// Exchange swaps base and quote for a holder against a reserve account in the
// bank, at the feed's spot price plus the feed's swap fee.
type Exchange struct {
	feed    *Feed
	quote   *ledger.Token
	base    *ledger.Token
	reserve common.Address
}

func NewExchange(feed *Feed, bank *ledger.Bank, reserve common.Address) *Exchange {
	return &Exchange{
		feed:    feed,
		quote:   bank.Token(ledger.AssetQuote),
		base:    bank.Token(ledger.AssetBase),
		reserve: reserve,
	}
}

func (e *Exchange) SpotPrice() (fpmath.Decimal, error) { return e.feed.SpotPrice() }

func (e *Exchange) BaseSwapFeeRate() fpmath.Decimal  { return e.feed.st.BaseSwapFeeRate }
func (e *Exchange) QuoteSwapFeeRate() fpmath.Decimal { return e.feed.st.QuoteSwapFeeRate }

// EstimateExchangeToExactBase = amountBase * spot * (1 + quoteFee)
func (e *Exchange) EstimateExchangeToExactBase(amountBase fpmath.Decimal) (fpmath.Decimal, error) {
	spot, err := e.feed.SpotPrice()
	if err != nil {
		return fpmath.Zero(), err
	}
	value, err := amountBase.CheckedMul(spot)
	if err != nil {
		return fpmath.Zero(), err
	}
	return value.CheckedMul(fpmath.One().Add(e.QuoteSwapFeeRate()))
}

// ExchangeFromExactBase sells amountBase for amountBase * spot * (1 - baseFee).
func (e *Exchange) ExchangeFromExactBase(holder common.Address, amountBase fpmath.Decimal) (fpmath.Decimal, error) {
	spot, err := e.feed.SpotPrice()
	if err != nil {
		return fpmath.Zero(), err
	}
	value, err := amountBase.CheckedMul(spot)
	if err != nil {
		return fpmath.Zero(), err
	}
	received := value.Mul(fpmath.One().SubFloor(e.BaseSwapFeeRate()))
	if err := e.base.Transfer(holder, e.reserve, amountBase); err != nil {
		return fpmath.Zero(), fmt.Errorf("sell base: %w", err)
	}
	if err := e.quote.Transfer(e.reserve, holder, received); err != nil {
		return fpmath.Zero(), fmt.Errorf("sell base: reserve: %w", err)
	}
	return received, nil
}

func (e *Exchange) ExchangeToExactBaseWithLimit(holder common.Address, amountBase, quoteLimit fpmath.Decimal) (quoteSpent, baseReceived fpmath.Decimal, err error) {
	cost, err := e.EstimateExchangeToExactBase(amountBase)
	if err != nil {
		return fpmath.Zero(), fpmath.Zero(), err
	}
	if cost.Gt(quoteLimit) {
		return fpmath.Zero(), fpmath.Zero(), fmt.Errorf("%w: cost %s, limit %s", ErrQuoteLimitExceeded, cost, quoteLimit)
	}
	if err := e.quote.Transfer(holder, e.reserve, cost); err != nil {
		return fpmath.Zero(), fpmath.Zero(), fmt.Errorf("buy base: %w", err)
	}
	if err := e.base.Transfer(e.reserve, holder, amountBase); err != nil {
		return fpmath.Zero(), fpmath.Zero(), fmt.Errorf("buy base: reserve: %w", err)
	}
	return cost, amountBase, nil
}
