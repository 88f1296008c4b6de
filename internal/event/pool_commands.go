package event

import (
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

type InitiateDeposit struct {
	Meta
	Beneficiary common.Address `json:"beneficiary"`
	AmountQuote fpmath.Decimal `json:"amount_quote"`
}

func (*InitiateDeposit) EventType() EventType { return EventTypeInitiateDeposit }

type InitiateWithdraw struct {
	Meta
	Beneficiary  common.Address `json:"beneficiary"`
	AmountShares fpmath.Decimal `json:"amount_shares"`
}

func (*InitiateWithdraw) EventType() EventType { return EventTypeInitiateWithdraw }

type ProcessDepositQueue struct {
	Meta
	Limit int `json:"limit"`
}

func (*ProcessDepositQueue) EventType() EventType { return EventTypeProcessDepositQueue }

type ProcessWithdrawalQueue struct {
	Meta
	Limit int `json:"limit"`
}

func (*ProcessWithdrawalQueue) EventType() EventType { return EventTypeProcessWithdrawalQueue }

// LockQuote locks pool quote against a sold option. A nil FreeLiquidity means
// the ledger computes it from the current snapshot.
type LockQuote struct {
	Meta
	Amount        fpmath.Decimal  `json:"amount"`
	FreeLiquidity *fpmath.Decimal `json:"free_liquidity,omitempty"`
}

func (*LockQuote) EventType() EventType { return EventTypeLockQuote }

type LockBase struct {
	Meta
	Amount        fpmath.Decimal  `json:"amount"`
	FreeLiquidity *fpmath.Decimal `json:"free_liquidity,omitempty"`
}

func (*LockBase) EventType() EventType { return EventTypeLockBase }

type FreeQuoteCollateralAndSendPremium struct {
	Meta
	AmountQuoteFreed fpmath.Decimal `json:"amount_quote_freed"`
	Recipient        common.Address `json:"recipient"`
	TotalCost        fpmath.Decimal `json:"total_cost"`
	ReservedFee      fpmath.Decimal `json:"reserved_fee"`
}

func (*FreeQuoteCollateralAndSendPremium) EventType() EventType {
	return EventTypeFreeQuoteCollateralAndSendPremium
}

type LiquidateBaseAndSendPremium struct {
	Meta
	AmountBase  fpmath.Decimal `json:"amount_base"`
	Recipient   common.Address `json:"recipient"`
	TotalCost   fpmath.Decimal `json:"total_cost"`
	ReservedFee fpmath.Decimal `json:"reserved_fee"`
}

func (*LiquidateBaseAndSendPremium) EventType() EventType {
	return EventTypeLiquidateBaseAndSendPremium
}

type SendShortPremium struct {
	Meta
	Recipient     common.Address  `json:"recipient"`
	Amount        fpmath.Decimal  `json:"amount"`
	FreeLiquidity *fpmath.Decimal `json:"free_liquidity,omitempty"`
	ReservedFee   fpmath.Decimal  `json:"reserved_fee"`
}

func (*SendShortPremium) EventType() EventType { return EventTypeSendShortPremium }

type ExchangeBase struct {
	Meta
}

func (*ExchangeBase) EventType() EventType { return EventTypeExchangeBase }

type UpdateCBs struct {
	Meta
}

func (*UpdateCBs) EventType() EventType { return EventTypeUpdateCBs }

type BoardSettlement struct {
	Meta
	InsolventSettlements fpmath.Decimal `json:"insolvent_settlements"`
	AmountQuoteFreed     fpmath.Decimal `json:"amount_quote_freed"`
	AmountQuoteReserved  fpmath.Decimal `json:"amount_quote_reserved"`
	AmountBaseFreed      fpmath.Decimal `json:"amount_base_freed"`
}

func (*BoardSettlement) EventType() EventType { return EventTypeBoardSettlement }

type TransferQuoteToHedge struct {
	Meta
	Amount fpmath.Decimal `json:"amount"`
}

func (*TransferQuoteToHedge) EventType() EventType { return EventTypeTransferQuoteToHedge }

// PoolParamsUpdate installs a new parameter set. Only the pool owner may submit it.
type PoolParamsUpdate struct {
	Meta
	Params state.PoolParameters `json:"params"`
}

func (*PoolParamsUpdate) EventType() EventType { return EventTypePoolParamsUpdate }
