package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingCommandID = errors.New("missing command_id")
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrMalformedPayload = errors.New("malformed payload")
)

var constructors = map[EventType]func() Event{
	EventTypeInitiateDeposit:                   func() Event { return &InitiateDeposit{} },
	EventTypeInitiateWithdraw:                  func() Event { return &InitiateWithdraw{} },
	EventTypeProcessDepositQueue:               func() Event { return &ProcessDepositQueue{} },
	EventTypeProcessWithdrawalQueue:            func() Event { return &ProcessWithdrawalQueue{} },
	EventTypeLockQuote:                         func() Event { return &LockQuote{} },
	EventTypeLockBase:                          func() Event { return &LockBase{} },
	EventTypeFreeQuoteCollateralAndSendPremium: func() Event { return &FreeQuoteCollateralAndSendPremium{} },
	EventTypeLiquidateBaseAndSendPremium:       func() Event { return &LiquidateBaseAndSendPremium{} },
	EventTypeSendShortPremium:                  func() Event { return &SendShortPremium{} },
	EventTypeExchangeBase:                      func() Event { return &ExchangeBase{} },
	EventTypeUpdateCBs:                         func() Event { return &UpdateCBs{} },
	EventTypeBoardSettlement:                   func() Event { return &BoardSettlement{} },
	EventTypeTransferQuoteToHedge:              func() Event { return &TransferQuoteToHedge{} },
	EventTypePoolParamsUpdate:                  func() Event { return &PoolParamsUpdate{} },
	EventTypeSettleOptions:                     func() Event { return &SettleOptions{} },
	EventTypeVaultBoardSettlement:              func() Event { return &VaultBoardSettlement{} },
	EventTypeSendQuoteCollateral:               func() Event { return &SendQuoteCollateral{} },
	EventTypeSendBaseCollateral:                func() Event { return &SendBaseCollateral{} },
	EventTypeMarketFeedUpdate:                  func() Event { return &MarketFeedUpdate{} },
	EventTypeAssetFunded:                       func() Event { return &AssetFunded{} },
	EventTypePositionOpened:                    func() Event { return &PositionOpened{} },
	EventTypeStrikeExpired:                     func() Event { return &StrikeExpired{} },
}

// Decode builds the typed command for et from its JSON payload. Used both for
// inbound messages and for replaying the event log.
func Decode(et EventType, payload []byte) (Event, error) {
	ctor, ok := constructors[et]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, et)
	}
	evt := ctor()
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, et, err)
	}
	if evt.IdempotencyKey() == uuid.Nil.String() {
		return nil, fmt.Errorf("decode %s: %w", et, ErrMissingCommandID)
	}
	if evt.OccurredAt().IsZero() {
		return nil, fmt.Errorf("decode %s: %w", et, ErrMissingTimestamp)
	}
	return evt, nil
}

// DecodeNamed is Decode keyed by the wire name.
func DecodeNamed(name string, payload []byte) (Event, error) {
	et, ok := ParseEventType(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
	return Decode(et, payload)
}
