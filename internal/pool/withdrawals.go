package pool

import (
	"fmt"

	"OptionLedger/internal/event"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// InitiateWithdraw burns amountShares from the caller. With no live boards the
// quote is paid out immediately, otherwise a withdrawal ticket is queued.
func (p *Pool) InitiateWithdraw(c Call, beneficiary common.Address, amountShares fpmath.Decimal) error {
	return p.run("InitiateWithdraw", func() error {
		if beneficiary == (common.Address{}) {
			return ErrInvalidBeneficiary
		}
		params := p.params.Get()
		if amountShares.Lt(params.MinDepositWithdraw) {
			return fmt.Errorf("%w: %s < %s", ErrMinimumWithdrawNotMet, amountShares, params.MinDepositWithdraw)
		}

		if p.valuation.NumLiveBoards() == 0 {
			spot, err := p.spotPrice()
			if err != nil {
				return err
			}
			price, err := p.tokenPrice(spot)
			if err != nil {
				return err
			}
			// burned first: the balance check bounds amountShares before it is priced
			if err := p.burnShares(c.Caller, amountShares); err != nil {
				return err
			}
			quoteOut, err := amountShares.CheckedMul(price)
			if err != nil {
				return fmt.Errorf("price withdrawal: %w", err)
			}
			if err := p.sendQuote(beneficiary, quoteOut); err != nil {
				return err
			}
			p.emit(event.WithdrawProcessed{
				Caller:                 c.Caller,
				Beneficiary:            beneficiary,
				AmountWithdrawn:        amountShares,
				TokenPrice:             price,
				QuoteReceived:          quoteOut,
				TotalQueuedWithdrawals: p.st.Withdrawals.TotalQueued,
				Timestamp:              c.Now,
			})
			p.log.Info().
				Str("beneficiary", beneficiary.Hex()).
				Str("shares", amountShares.String()).
				Str("quote", quoteOut.String()).
				Msg("withdrawal processed immediately")
			return nil
		}

		if err := p.burnShares(c.Caller, amountShares); err != nil {
			return err
		}
		entry := p.st.Withdrawals.Enqueue(beneficiary, amountShares, c.Now)
		p.emit(event.WithdrawQueued{
			Withdrawer:             c.Caller,
			Beneficiary:            beneficiary,
			WithdrawalQueueID:      entry.ID,
			AmountWithdrawn:        amountShares,
			TotalQueuedWithdrawals: p.st.Withdrawals.TotalQueued,
			Timestamp:              c.Now,
		})
		p.log.Debug().Uint64("ticket", entry.ID).Str("shares", amountShares.String()).Msg("withdrawal queued")
		return nil
	})
}

// ProcessWithdrawalQueue pays out up to limit queued withdrawals. Liquidity is
// recomputed before every ticket since each payout changes it. A ticket that
// can only be partly paid stays at the head and ends the batch.
func (p *Pool) ProcessWithdrawalQueue(c Call, limit int) error {
	return p.run("ProcessWithdrawalQueue", func() error {
		if limit > MaxQueueBatch {
			limit = MaxQueueBatch
		}
		params := p.params.Get()
		isGuardian := c.Caller == params.GuardianAddress

		for i := 0; i < limit; i++ {
			head, ok := p.st.Withdrawals.Peek()
			if !ok {
				break
			}

			spot, err := p.spotPrice()
			if err != nil {
				return err
			}
			liq, err := p.computeLiquidity(spot)
			if err != nil {
				return err
			}
			stale := p.valuation.IsGlobalCacheStale(spot)

			if !p.st.CircuitBreaker.CanProcess(head.InitiatedAt, params.WithdrawalDelay, stale,
				isGuardian, params.GuardianDelay, c.Now) {
				break
			}

			price := liq.TokenPrice
			if p.valuation.NumLiveBoards() > 0 {
				price = price.Mul(fpmath.One().SubFloor(params.WithdrawalFee))
			}
			if price.IsZero() {
				break
			}
			burnable, err := liq.BurnableLiquidity.CheckedDiv(price)
			if err != nil {
				return fmt.Errorf("ticket %d: %w", head.ID, err)
			}
			if burnable.IsZero() {
				break
			}

			shares := fpmath.Min(head.AmountTokensRemaining, burnable)
			quoteOut, err := shares.CheckedMul(price)
			if err != nil {
				return fmt.Errorf("ticket %d: %w", head.ID, err)
			}
			if err := p.sendQuote(head.Beneficiary, quoteOut); err != nil {
				return fmt.Errorf("ticket %d: %w", head.ID, err)
			}

			entry, done := p.st.Withdrawals.FillHead(shares, quoteOut)
			if !done {
				p.emit(event.WithdrawPartiallyProcessed{
					Caller:                 c.Caller,
					Beneficiary:            entry.Beneficiary,
					WithdrawalQueueID:      entry.ID,
					AmountWithdrawn:        shares,
					TokenPrice:             price,
					QuoteReceived:          quoteOut,
					TotalQueuedWithdrawals: p.st.Withdrawals.TotalQueued,
					Timestamp:              c.Now,
				})
				p.ticketMetric("partial")
				p.log.Info().Uint64("ticket", entry.ID).
					Str("remaining", entry.AmountTokensRemaining.String()).
					Msg("withdrawal partially processed")
				break
			}

			p.emit(event.WithdrawProcessed{
				Caller:                 c.Caller,
				Beneficiary:            entry.Beneficiary,
				WithdrawalQueueID:      entry.ID,
				AmountWithdrawn:        shares,
				TokenPrice:             price,
				QuoteReceived:          quoteOut,
				TotalQueuedWithdrawals: p.st.Withdrawals.TotalQueued,
				Timestamp:              c.Now,
			})
			p.ticketMetric("full")
		}
		return nil
	})
}

func (p *Pool) ticketMetric(outcome string) {
	if p.metrics != nil {
		p.metrics.PoolTicketsProcessed.WithLabelValues("withdrawal", outcome).Inc()
	}
}

func (p *Pool) burnShares(from common.Address, amount fpmath.Decimal) error {
	if err := p.shares.Burn(from, amount); err != nil {
		return fmt.Errorf("burn shares from %s: %w", from.Hex(), err)
	}
	return nil
}
