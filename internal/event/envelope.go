package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType discriminator for inbound events. Every state change in the ledger
// is caused by exactly one inbound event, so the log can be replayed.
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Liquidity pool entry points
	EventTypeInitiateDeposit
	EventTypeInitiateWithdraw
	EventTypeProcessDepositQueue
	EventTypeProcessWithdrawalQueue
	EventTypeLockQuote
	EventTypeLockBase
	EventTypeFreeQuoteCollateralAndSendPremium
	EventTypeLiquidateBaseAndSendPremium
	EventTypeSendShortPremium
	EventTypeExchangeBase
	EventTypeUpdateCBs
	EventTypeBoardSettlement
	EventTypeTransferQuoteToHedge
	EventTypePoolParamsUpdate

	// Collateral vault entry points
	EventTypeSettleOptions
	EventTypeVaultBoardSettlement
	EventTypeSendQuoteCollateral
	EventTypeSendBaseCollateral

	// Market inputs
	EventTypeMarketFeedUpdate
	EventTypeAssetFunded
	EventTypePositionOpened
	EventTypeStrikeExpired
)

var eventTypeNames = map[EventType]string{
	EventTypeInitiateDeposit:                   "InitiateDeposit",
	EventTypeInitiateWithdraw:                  "InitiateWithdraw",
	EventTypeProcessDepositQueue:               "ProcessDepositQueue",
	EventTypeProcessWithdrawalQueue:            "ProcessWithdrawalQueue",
	EventTypeLockQuote:                         "LockQuote",
	EventTypeLockBase:                          "LockBase",
	EventTypeFreeQuoteCollateralAndSendPremium: "FreeQuoteCollateralAndSendPremium",
	EventTypeLiquidateBaseAndSendPremium:       "LiquidateBaseAndSendPremium",
	EventTypeSendShortPremium:                  "SendShortPremium",
	EventTypeExchangeBase:                      "ExchangeBase",
	EventTypeUpdateCBs:                         "UpdateCBs",
	EventTypeBoardSettlement:                   "BoardSettlement",
	EventTypeTransferQuoteToHedge:              "TransferQuoteToHedge",
	EventTypePoolParamsUpdate:                  "PoolParamsUpdate",
	EventTypeSettleOptions:                     "SettleOptions",
	EventTypeVaultBoardSettlement:              "VaultBoardSettlement",
	EventTypeSendQuoteCollateral:               "SendQuoteCollateral",
	EventTypeSendBaseCollateral:                "SendBaseCollateral",
	EventTypeMarketFeedUpdate:                  "MarketFeedUpdate",
	EventTypeAssetFunded:                       "AssetFunded",
	EventTypePositionOpened:                    "PositionOpened",
	EventTypeStrikeExpired:                     "StrikeExpired",
}

var eventTypesByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for t, n := range eventTypeNames {
		m[n] = t
	}
	return m
}()

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType maps a wire name back to its discriminator.
func ParseEventType(name string) (EventType, bool) {
	et, ok := eventTypesByName[name]
	return et, ok
}

// AllEventTypes lists every known inbound type in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeInitiateDeposit; et <= EventTypeStrikeExpired; et++ {
		out = append(out, et)
	}
	return out
}

// EventEnvelope wraps every inbound event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	Caller common.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded inbound event
	Payload []byte

	// Domain events emitted while applying this event
	Emitted []Emitted

	// SHA-256 chain over (prev_hash, sequence, digest)
	StateHash [32]byte
	PrevHash  [32]byte
}

// Event is the interface all inbound events implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// CallerAddress is the identity the role checks run against
	CallerAddress() common.Address

	// OccurredAt is the versioned timestamp the ledger uses as "now"
	OccurredAt() time.Time
}

// Meta carries the fields every inbound event shares.
type Meta struct {
	CommandID uuid.UUID      `json:"command_id"`
	Caller    common.Address `json:"caller"`
	Timestamp time.Time      `json:"timestamp"`
}

func (m Meta) IdempotencyKey() string { return m.CommandID.String() }
func (m Meta) CallerAddress() common.Address { return m.Caller }
func (m Meta) OccurredAt() time.Time { return m.Timestamp }

// Stamp replaces the submitter's timestamp with the ledger's own.
func (m *Meta) Stamp(t time.Time) { m.Timestamp = t.UTC().Round(0) }

// Stamper is implemented by every command pointer through its embedded Meta.
type Stamper interface {
	Stamp(t time.Time)
}

// Emitted is a domain event produced by the ledger.
type Emitted interface {
	Name() string
}
