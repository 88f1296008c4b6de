package pool

import (
	"fmt"

	"OptionLedger/internal/event"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// InitiateDeposit pulls amountQuote from the caller. With no live boards the
// shares are minted straight away at the current price, otherwise the deposit
// is queued for ProcessDepositQueue.
func (p *Pool) InitiateDeposit(c Call, beneficiary common.Address, amountQuote fpmath.Decimal) error {
	return p.run("InitiateDeposit", func() error {
		if beneficiary == (common.Address{}) {
			return ErrInvalidBeneficiary
		}
		params := p.params.Get()
		if amountQuote.Lt(params.MinDepositWithdraw) {
			return fmt.Errorf("%w: %s < %s", ErrMinimumDepositNotMet, amountQuote, params.MinDepositWithdraw)
		}

		if p.valuation.NumLiveBoards() == 0 {
			spot, err := p.spotPrice()
			if err != nil {
				return err
			}
			// priced before the quote arrives so the deposit does not price itself
			price, err := p.tokenPrice(spot)
			if err != nil {
				return err
			}
			if price.IsZero() {
				return ErrZeroTokenPrice
			}
			if err := p.pullQuote(c.Caller, amountQuote); err != nil {
				return err
			}
			minted, err := amountQuote.CheckedDiv(price)
			if err != nil {
				return fmt.Errorf("price deposit: %w", err)
			}
			if err := p.shares.Mint(beneficiary, minted); err != nil {
				return fmt.Errorf("mint shares: %w", err)
			}
			p.emit(event.DepositProcessed{
				Caller:          c.Caller,
				Beneficiary:     beneficiary,
				AmountDeposited: amountQuote,
				TokenPrice:      price,
				TokensReceived:  minted,
				Timestamp:       c.Now,
			})
			p.log.Info().
				Str("beneficiary", beneficiary.Hex()).
				Str("amount", amountQuote.String()).
				Str("minted", minted.String()).
				Msg("deposit processed immediately")
			return nil
		}

		if err := p.pullQuote(c.Caller, amountQuote); err != nil {
			return err
		}
		entry := p.st.Deposits.Enqueue(beneficiary, amountQuote, c.Now)
		p.emit(event.DepositQueued{
			Depositor:         c.Caller,
			Beneficiary:       beneficiary,
			DepositQueueID:    entry.ID,
			AmountDeposited:   amountQuote,
			TotalQueuedAmount: p.st.Deposits.TotalQueued,
			Timestamp:         c.Now,
		})
		p.log.Debug().Uint64("ticket", entry.ID).Str("amount", amountQuote.String()).Msg("deposit queued")
		return nil
	})
}

// ProcessDepositQueue mints shares for up to limit queued deposits in FIFO
// order, stopping at the first ticket that may not be processed yet. Price and
// staleness are read once for the whole batch.
func (p *Pool) ProcessDepositQueue(c Call, limit int) error {
	return p.run("ProcessDepositQueue", func() error {
		if limit > MaxQueueBatch {
			limit = MaxQueueBatch
		}
		spot, err := p.spotPrice()
		if err != nil {
			return err
		}
		price, err := p.tokenPrice(spot)
		if err != nil {
			return err
		}
		stale := p.valuation.IsGlobalCacheStale(spot)
		params := p.params.Get()
		isGuardian := c.Caller == params.GuardianAddress

		processed := 0
		for i := 0; i < limit; i++ {
			head, ok := p.st.Deposits.Peek()
			if !ok {
				break
			}
			if !p.st.CircuitBreaker.CanProcess(head.InitiatedAt, params.DepositDelay, stale,
				isGuardian, params.GuardianDelay, c.Now) {
				break
			}
			if price.IsZero() {
				break
			}

			minted, err := head.AmountQuote.CheckedDiv(price)
			if err != nil {
				return fmt.Errorf("ticket %d: %w", head.ID, err)
			}
			if err := p.shares.Mint(head.Beneficiary, minted); err != nil {
				return fmt.Errorf("mint shares for ticket %d: %w", head.ID, err)
			}
			done := p.st.Deposits.ProcessHead(minted, c.Now)
			p.emit(event.DepositProcessed{
				Caller:          c.Caller,
				Beneficiary:     done.Beneficiary,
				DepositQueueID:  done.ID,
				AmountDeposited: done.AmountQuote,
				TokenPrice:      price,
				TokensReceived:  minted,
				Timestamp:       c.Now,
			})
			if p.metrics != nil {
				p.metrics.PoolTicketsProcessed.WithLabelValues("deposit", "full").Inc()
			}
			processed++
		}

		if processed > 0 {
			p.log.Info().Int("processed", processed).
				Str("remaining_queued", p.st.Deposits.TotalQueued.String()).
				Msg("deposit queue processed")
		}
		return nil
	})
}

func (p *Pool) pullQuote(from common.Address, amount fpmath.Decimal) error {
	if err := p.quote.Transfer(from, p.addr, amount); err != nil {
		return fmt.Errorf("%w: quote from %s: %v", ErrTransferFailed, from.Hex(), err)
	}
	return nil
}

func (p *Pool) sendQuote(to common.Address, amount fpmath.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if err := p.quote.Transfer(p.addr, to, amount); err != nil {
		return fmt.Errorf("%w: quote to %s: %v", ErrTransferFailed, to.Hex(), err)
	}
	return nil
}
