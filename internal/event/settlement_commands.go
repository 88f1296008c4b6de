// internal/event/settlement_commands.go
package event

import (
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// SettleOptions settles expired positions against the short collateral vault.
type SettleOptions struct {
	Meta
	PositionIDs []uint64 `json:"position_ids"`
}

func (*SettleOptions) EventType() EventType { return EventTypeSettleOptions }

// VaultBoardSettlement moves the collateral the pool is owed for an expired
// board from the vault into the pool.
type VaultBoardSettlement struct {
	Meta
	AmountBase  fpmath.Decimal `json:"amount_base"`
	AmountQuote fpmath.Decimal `json:"amount_quote"`
}

func (*VaultBoardSettlement) EventType() EventType { return EventTypeVaultBoardSettlement }

type SendQuoteCollateral struct {
	Meta
	Recipient common.Address `json:"recipient"`
	Amount    fpmath.Decimal `json:"amount"`
}

func (*SendQuoteCollateral) EventType() EventType { return EventTypeSendQuoteCollateral }

type SendBaseCollateral struct {
	Meta
	Recipient common.Address `json:"recipient"`
	Amount    fpmath.Decimal `json:"amount"`
}

func (*SendBaseCollateral) EventType() EventType { return EventTypeSendBaseCollateral }
