package server

import (
	"context"
	"errors"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ingestion"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/market"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/settlement"
	"OptionLedger/internal/state"

	"google.golang.org/grpc/codes"
)

var codeTable = []struct {
	code codes.Code
	errs []error
}{
	{codes.InvalidArgument, []error{
		pool.ErrInvalidBeneficiary,
		pool.ErrMinimumDepositNotMet,
		pool.ErrMinimumWithdrawNotMet,
		state.ErrInvalidPoolParameters,
		event.ErrUnknownEventType,
		event.ErrMissingCommandID,
		event.ErrMissingTimestamp,
		event.ErrMalformedPayload,
		core.ErrUnknownAsset,
		core.ErrStaleFeed,
		market.ErrInvalidPosition,
		settlement.ErrDuplicatePosition,
		fpmath.ErrOverflow,
		ingestion.ErrZeroAmount,
		errBadRequest,
	}},
	{codes.PermissionDenied, []error{
		pool.ErrOnlyOptionMarket,
		pool.ErrOnlyShortCollateral,
		pool.ErrOnlyPoolHedger,
		pool.ErrOnlyOwner,
		core.ErrOnlyMarket,
	}},
	{codes.NotFound, []error{market.ErrPositionNotFound, errNotFound}},
	{codes.AlreadyExists, []error{market.ErrPositionExists}},
	{codes.FailedPrecondition, []error{
		pool.ErrInsufficientFreeLiquidity,
		pool.ErrInsufficientFreeLiquidityForBaseExchange,
		pool.ErrSendPremiumNotEnoughCollateral,
		pool.ErrZeroTokenPrice,
		ledger.ErrInsufficientBalance,
		settlement.ErrBoardNotSettled,
		settlement.ErrNoPositions,
		market.ErrPositionSettled,
		market.ErrStrikeExpired,
		market.ErrQuoteLimitExceeded,
		core.ErrClockRegression,
	}},
	{codes.Unavailable, []error{market.ErrNoSpotPrice, pool.ErrOracleUnavailable, core.ErrEngineStopped, errNoReadModel}},
	{codes.Aborted, []error{pool.ErrReentrantCall}},
	{codes.Internal, []error{pool.ErrAccountingInvariant, pool.ErrTransferFailed}},
	{codes.DeadlineExceeded, []error{context.DeadlineExceeded}},
	{codes.Canceled, []error{context.Canceled}},
}

var (
	errBadRequest  = errors.New("bad request")
	errNotFound    = errors.New("not found")
	// returned by history and admin routes when the server runs without a
	// read model or persistence
	errNoReadModel = errors.New("read model not configured")
)

// CodeOf classifies a ledger error. Unclassified errors are Internal.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	for _, row := range codeTable {
		for _, target := range row.errs {
			if errors.Is(err, target) {
				return row.code
			}
		}
	}
	return codes.Internal
}
