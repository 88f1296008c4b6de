// internal/event/pool_events.go
package event

import (
	"time"

	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// DepositQueued: a deposit entered the queue.
type DepositQueued struct {
	Depositor         common.Address `json:"depositor"`
	Beneficiary       common.Address `json:"beneficiary"`
	DepositQueueID    uint64         `json:"deposit_queue_id"`
	AmountDeposited   fpmath.Decimal `json:"amount_deposited"`
	TotalQueuedAmount fpmath.Decimal `json:"total_queued_amount"`
	Timestamp         time.Time      `json:"timestamp"`
}

func (DepositQueued) Name() string { return "DepositQueued" }

// DepositProcessed: shares were minted for a deposit. DepositQueueID is 0 on
// the fast path.
type DepositProcessed struct {
	Caller          common.Address `json:"caller"`
	Beneficiary     common.Address `json:"beneficiary"`
	DepositQueueID  uint64         `json:"deposit_queue_id"`
	AmountDeposited fpmath.Decimal `json:"amount_deposited"`
	TokenPrice      fpmath.Decimal `json:"token_price"`
	TokensReceived  fpmath.Decimal `json:"tokens_received"`
	Timestamp       time.Time      `json:"timestamp"`
}

func (DepositProcessed) Name() string { return "DepositProcessed" }

type WithdrawQueued struct {
	Withdrawer             common.Address `json:"withdrawer"`
	Beneficiary            common.Address `json:"beneficiary"`
	WithdrawalQueueID      uint64         `json:"withdrawal_queue_id"`
	AmountWithdrawn        fpmath.Decimal `json:"amount_withdrawn"`
	TotalQueuedWithdrawals fpmath.Decimal `json:"total_queued_withdrawals"`
	Timestamp              time.Time      `json:"timestamp"`
}

func (WithdrawQueued) Name() string { return "WithdrawQueued" }

// WithdrawProcessed: a withdrawal was paid in full. WithdrawalQueueID is 0 on
// the fast path.
type WithdrawProcessed struct {
	Caller                 common.Address `json:"caller"`
	Beneficiary            common.Address `json:"beneficiary"`
	WithdrawalQueueID      uint64         `json:"withdrawal_queue_id"`
	AmountWithdrawn        fpmath.Decimal `json:"amount_withdrawn"`
	TokenPrice             fpmath.Decimal `json:"token_price"`
	QuoteReceived          fpmath.Decimal `json:"quote_received"`
	TotalQueuedWithdrawals fpmath.Decimal `json:"total_queued_withdrawals"`
	Timestamp              time.Time      `json:"timestamp"`
}

func (WithdrawProcessed) Name() string { return "WithdrawProcessed" }

type WithdrawPartiallyProcessed struct {
	Caller                 common.Address `json:"caller"`
	Beneficiary            common.Address `json:"beneficiary"`
	WithdrawalQueueID      uint64         `json:"withdrawal_queue_id"`
	AmountWithdrawn        fpmath.Decimal `json:"amount_withdrawn"`
	TokenPrice             fpmath.Decimal `json:"token_price"`
	QuoteReceived          fpmath.Decimal `json:"quote_received"`
	TotalQueuedWithdrawals fpmath.Decimal `json:"total_queued_withdrawals"`
	Timestamp              time.Time      `json:"timestamp"`
}

func (WithdrawPartiallyProcessed) Name() string { return "WithdrawPartiallyProcessed" }

type CircuitBreakerUpdated struct {
	Expiry               time.Time      `json:"expiry"`
	IVVarianceCrossed    bool           `json:"iv_variance_crossed"`
	SkewVarianceCrossed  bool           `json:"skew_variance_crossed"`
	LiquidityCrossed     bool           `json:"liquidity_crossed"`
	FreeLiquidityPercent fpmath.Decimal `json:"free_liquidity_percent"`
}

func (CircuitBreakerUpdated) Name() string { return "CircuitBreakerUpdated" }

type BoardSettlementCircuitBreakerUpdated struct {
	Expiry time.Time `json:"expiry"`
}

func (BoardSettlementCircuitBreakerUpdated) Name() string {
	return "BoardSettlementCircuitBreakerUpdated"
}

type QuoteLocked struct {
	QuoteLocked    fpmath.Decimal `json:"quote_locked"`
	LockedQuoteNow fpmath.Decimal `json:"locked_quote_now"`
}

func (QuoteLocked) Name() string { return "QuoteLocked" }

type BaseLocked struct {
	BaseLocked    fpmath.Decimal `json:"base_locked"`
	LockedBaseNow fpmath.Decimal `json:"locked_base_now"`
}

func (BaseLocked) Name() string { return "BaseLocked" }

type QuoteFreed struct {
	QuoteFreed     fpmath.Decimal `json:"quote_freed"`
	LockedQuoteNow fpmath.Decimal `json:"locked_quote_now"`
}

func (QuoteFreed) Name() string { return "QuoteFreed" }

type BaseFreed struct {
	BaseFreed     fpmath.Decimal `json:"base_freed"`
	LockedBaseNow fpmath.Decimal `json:"locked_base_now"`
}

func (BaseFreed) Name() string { return "BaseFreed" }

type BasePurchased struct {
	QuoteSpent   fpmath.Decimal `json:"quote_spent"`
	BaseReceived fpmath.Decimal `json:"base_received"`
}

func (BasePurchased) Name() string { return "BasePurchased" }

type BaseSold struct {
	AmountBase    fpmath.Decimal `json:"amount_base"`
	QuoteReceived fpmath.Decimal `json:"quote_received"`
}

func (BaseSold) Name() string { return "BaseSold" }

type PremiumTransferred struct {
	Recipient           common.Address `json:"recipient"`
	RecipientPortion    fpmath.Decimal `json:"recipient_portion"`
	OptionMarketPortion fpmath.Decimal `json:"option_market_portion"`
}

func (PremiumTransferred) Name() string { return "PremiumTransferred" }

type BoardSettlementRecorded struct {
	InsolventSettlementAmount   fpmath.Decimal `json:"insolvent_settlement_amount"`
	AmountQuoteReserved         fpmath.Decimal `json:"amount_quote_reserved"`
	TotalOutstandingSettlements fpmath.Decimal `json:"total_outstanding_settlements"`
}

func (BoardSettlementRecorded) Name() string { return "BoardSettlement" }

type OutstandingSettlementSent struct {
	User                        common.Address `json:"user"`
	Amount                      fpmath.Decimal `json:"amount"`
	TotalOutstandingSettlements fpmath.Decimal `json:"total_outstanding_settlements"`
}

func (OutstandingSettlementSent) Name() string { return "OutstandingSettlementSent" }

type InsolventSettlementAmountUpdated struct {
	AmountQuoteAdded               fpmath.Decimal `json:"amount_quote_added"`
	TotalInsolventSettlementAmount fpmath.Decimal `json:"total_insolvent_settlement_amount"`
}

func (InsolventSettlementAmountUpdated) Name() string { return "InsolventSettlementAmountUpdated" }

type QuoteTransferredToHedger struct {
	Amount fpmath.Decimal `json:"amount"`
}

func (QuoteTransferredToHedger) Name() string { return "QuoteTransferredToHedger" }

type PoolParamsUpdated struct {
	Guardian common.Address `json:"guardian"`
}

func (PoolParamsUpdated) Name() string { return "PoolParamsUpdated" }
