package pool

import (
	"errors"
	"fmt"

	fpmath "OptionLedger/internal/math"
)

// Validation
var (
	ErrInvalidBeneficiary    = errors.New("invalid beneficiary")
	ErrMinimumDepositNotMet  = errors.New("minimum deposit not met")
	ErrMinimumWithdrawNotMet = errors.New("minimum withdraw not met")
	ErrZeroTokenPrice        = errors.New("token price is zero")
)

// Authorization
var (
	ErrOnlyOptionMarket    = errors.New("only option market")
	ErrOnlyShortCollateral = errors.New("only short collateral")
	ErrOnlyPoolHedger      = errors.New("only pool hedger")
	ErrOnlyOwner           = errors.New("only owner")
)

// Insufficiency
var (
	ErrInsufficientFreeLiquidity                = errors.New("insufficient free liquidity")
	ErrInsufficientFreeLiquidityForBaseExchange = errors.New("insufficient free liquidity for base exchange")
	ErrSendPremiumNotEnoughCollateral           = errors.New("not enough collateral to send premium")
)

// Transfer and execution
var (
	ErrReentrantCall     = errors.New("reentrant call")
	ErrTransferFailed    = errors.New("token transfer failed")
	ErrOracleUnavailable = errors.New("price oracle unavailable")
)

// ErrAccountingInvariant is matched by every AccountingInvariantError.
var ErrAccountingInvariant = errors.New("accounting invariant violation")

// AccountingInvariantError means the pool's books no longer add up: the
// reserved amounts exceed assets, or option debt exceeds what is left.
type AccountingInvariantError struct {
	Kind     string
	Assets   fpmath.Decimal
	Required fpmath.Decimal
}

func (e *AccountingInvariantError) Error() string {
	return fmt.Sprintf("accounting invariant violation (%s): assets %s < required %s",
		e.Kind, e.Assets, e.Required)
}

func (e *AccountingInvariantError) Is(target error) bool {
	return target == ErrAccountingInvariant
}

const (
	InvariantReservedExceedsAssets = "reserved_exceeds_assets"
	InvariantDebtExceedsAssets     = "debt_exceeds_assets"
)
