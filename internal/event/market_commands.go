// internal/event/market_commands.go
package event

import (
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// MarketFeedUpdate carries every external market reading the ledger depends on.
// FeedSequence is monotonic; stale or duplicate readings are rejected.
type MarketFeedUpdate struct {
	Meta
	FeedSequence     int64                `json:"feed_sequence"`
	SpotPrice        fpmath.Decimal       `json:"spot_price"`
	OptionNetValue   fpmath.SignedDecimal `json:"option_net_value"`
	CacheStale       bool                 `json:"cache_stale"`
	LiveBoards       int                  `json:"live_boards"`
	IVVariance       fpmath.Decimal       `json:"iv_variance"`
	SkewVariance     fpmath.Decimal       `json:"skew_variance"`
	HedgerPending    fpmath.Decimal       `json:"hedger_pending"`
	HedgerUsed       fpmath.Decimal       `json:"hedger_used"`
	BaseSwapFeeRate  fpmath.Decimal       `json:"base_swap_fee_rate"`
	QuoteSwapFeeRate fpmath.Decimal       `json:"quote_swap_fee_rate"`
}

func (*MarketFeedUpdate) EventType() EventType { return EventTypeMarketFeedUpdate }

// AssetFunded credits an external holder with quote or base from outside the ledger.
type AssetFunded struct {
	Meta
	Holder common.Address `json:"holder"`
	Asset  string         `json:"asset"`
	Amount fpmath.Decimal `json:"amount"`
}

func (*AssetFunded) EventType() EventType { return EventTypeAssetFunded }

// PositionOpened registers an option position. Short positions move their
// collateral from the owner into the vault.
type PositionOpened struct {
	Meta
	PositionID uint64         `json:"position_id"`
	StrikeID   uint64         `json:"strike_id"`
	Owner      common.Address `json:"owner"`
	OptionType string         `json:"option_type"`
	Size       fpmath.Decimal `json:"size"`
	Collateral fpmath.Decimal `json:"collateral"`
}

func (*PositionOpened) EventType() EventType { return EventTypePositionOpened }

// StrikeExpired records the settlement parameters of a strike at expiry.
type StrikeExpired struct {
	Meta
	StrikeID    uint64         `json:"strike_id"`
	StrikePrice fpmath.Decimal `json:"strike_price"`
	ExpiryPrice fpmath.Decimal `json:"expiry_price"`
	ProfitRatio fpmath.Decimal `json:"profit_ratio"`
}

func (*StrikeExpired) EventType() EventType { return EventTypeStrikeExpired }
