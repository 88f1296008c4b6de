// internal/event/settlement_events.go
package event

import (
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// PositionSettled is emitted once per position settled by the vault.
type PositionSettled struct {
	PositionID       uint64         `json:"position_id"`
	Settler          common.Address `json:"settler"`
	Owner            common.Address `json:"owner"`
	StrikePrice      fpmath.Decimal `json:"strike_price"`
	PriceAtExpiry    fpmath.Decimal `json:"price_at_expiry"`
	OptionType       string         `json:"option_type"`
	Amount           fpmath.Decimal `json:"amount"`
	SettlementAmount fpmath.Decimal `json:"settlement_amount"`
	InsolventAmount  fpmath.Decimal `json:"insolvent_amount"`
}

func (PositionSettled) Name() string { return "PositionSettled" }

type BoardSettlementCollateralSent struct {
	AmountBaseSent     fpmath.Decimal `json:"amount_base_sent"`
	AmountQuoteSent    fpmath.Decimal `json:"amount_quote_sent"`
	LPBaseInsolvency   fpmath.Decimal `json:"lp_base_insolvency"`
	LPQuoteInsolvency  fpmath.Decimal `json:"lp_quote_insolvency"`
	LPBaseExcessTotal  fpmath.Decimal `json:"lp_base_excess_total"`
	LPQuoteExcessTotal fpmath.Decimal `json:"lp_quote_excess_total"`
}

func (BoardSettlementCollateralSent) Name() string { return "BoardSettlementCollateralSent" }

type QuoteSent struct {
	Receiver common.Address `json:"receiver"`
	Amount   fpmath.Decimal `json:"amount"`
}

func (QuoteSent) Name() string { return "QuoteSent" }

type BaseSent struct {
	Receiver common.Address `json:"receiver"`
	Amount   fpmath.Decimal `json:"amount"`
}

func (BaseSent) Name() string { return "BaseSent" }

// InsolvencyNetted reports how a batch's insolvency was split between prior
// excess and the residual reclaimed from the pool.
type InsolvencyNetted struct {
	Asset           string         `json:"asset"`
	Insolvent       fpmath.Decimal `json:"insolvent"`
	Reclaimed       fpmath.Decimal `json:"reclaimed"`
	ExcessRemaining fpmath.Decimal `json:"excess_remaining"`
}

func (InsolvencyNetted) Name() string { return "InsolvencyNetted" }
