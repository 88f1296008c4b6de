package state

import (
	"errors"
	"fmt"
	"time"

	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidPoolParameters = errors.New("invalid pool parameters")

const (
	maxQueueDelay         = 365 * 24 * time.Hour
	maxCBTimeout          = 60 * 24 * time.Hour
	maxBoardSettlementCBT = 10 * 24 * time.Hour
)

// PoolParameters is the governance-controlled configuration of the pool.
type PoolParameters struct {
	MinDepositWithdraw       fpmath.Decimal `json:"min_deposit_withdraw"`
	DepositDelay             time.Duration  `json:"deposit_delay"`
	WithdrawalDelay          time.Duration  `json:"withdrawal_delay"`
	WithdrawalFee            fpmath.Decimal `json:"withdrawal_fee"`
	LiquidityCBThreshold     fpmath.Decimal `json:"liquidity_cb_threshold"`
	LiquidityCBTimeout       time.Duration  `json:"liquidity_cb_timeout"`
	IVVarianceCBThreshold    fpmath.Decimal `json:"iv_variance_cb_threshold"`
	IVVarianceCBTimeout      time.Duration  `json:"iv_variance_cb_timeout"`
	SkewVarianceCBThreshold  fpmath.Decimal `json:"skew_variance_cb_threshold"`
	SkewVarianceCBTimeout    time.Duration  `json:"skew_variance_cb_timeout"`
	GuardianAddress          common.Address `json:"guardian_address"`
	GuardianDelay            time.Duration  `json:"guardian_delay"`
	BoardSettlementCBTimeout time.Duration  `json:"board_settlement_cb_timeout"`
	MaxFeePaid               fpmath.Decimal `json:"max_fee_paid"`
}

// DefaultPoolParameters mirrors a conservative production deployment.
func DefaultPoolParameters() PoolParameters {
	return PoolParameters{
		MinDepositWithdraw:       fpmath.FromInt(1),
		DepositDelay:             7 * 24 * time.Hour,
		WithdrawalDelay:          7 * 24 * time.Hour,
		WithdrawalFee:            fpmath.MustParse("0.01"),
		LiquidityCBThreshold:     fpmath.MustParse("0.01"),
		LiquidityCBTimeout:       3 * 24 * time.Hour,
		IVVarianceCBThreshold:    fpmath.MustParse("0.1"),
		IVVarianceCBTimeout:      12 * time.Hour,
		SkewVarianceCBThreshold:  fpmath.MustParse("0.35"),
		SkewVarianceCBTimeout:    12 * time.Hour,
		GuardianDelay:            14 * 24 * time.Hour,
		BoardSettlementCBTimeout: 6 * time.Hour,
		MaxFeePaid:               fpmath.MustParse("0.1"),
	}
}

// ValidatePoolParameters enforces the bounds a parameter set must satisfy
// before it can be installed.
func ValidatePoolParameters(p PoolParameters) error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"deposit_delay", p.DepositDelay},
		{"withdrawal_delay", p.WithdrawalDelay},
		{"guardian_delay", p.GuardianDelay},
		{"liquidity_cb_timeout", p.LiquidityCBTimeout},
		{"iv_variance_cb_timeout", p.IVVarianceCBTimeout},
		{"skew_variance_cb_timeout", p.SkewVarianceCBTimeout},
		{"board_settlement_cb_timeout", p.BoardSettlementCBTimeout},
	}
	for _, f := range durations {
		if f.d < 0 {
			return fmt.Errorf("%w: %s must be >= 0, got %s", ErrInvalidPoolParameters, f.name, f.d)
		}
	}

	if p.DepositDelay >= maxQueueDelay {
		return fmt.Errorf("%w: deposit_delay must be < 365d, got %s", ErrInvalidPoolParameters, p.DepositDelay)
	}
	if p.WithdrawalDelay >= maxQueueDelay {
		return fmt.Errorf("%w: withdrawal_delay must be < 365d, got %s", ErrInvalidPoolParameters, p.WithdrawalDelay)
	}
	if p.GuardianDelay >= maxQueueDelay {
		return fmt.Errorf("%w: guardian_delay must be < 365d, got %s", ErrInvalidPoolParameters, p.GuardianDelay)
	}
	if p.WithdrawalFee.Gte(fpmath.MustParse("0.2")) {
		return fmt.Errorf("%w: withdrawal_fee must be < 0.2, got %s", ErrInvalidPoolParameters, p.WithdrawalFee)
	}
	if p.LiquidityCBThreshold.Gte(fpmath.One()) {
		return fmt.Errorf("%w: liquidity_cb_threshold must be < 1, got %s", ErrInvalidPoolParameters, p.LiquidityCBThreshold)
	}
	if p.LiquidityCBTimeout >= maxCBTimeout {
		return fmt.Errorf("%w: liquidity_cb_timeout must be < 60d, got %s", ErrInvalidPoolParameters, p.LiquidityCBTimeout)
	}
	if p.IVVarianceCBTimeout >= maxCBTimeout {
		return fmt.Errorf("%w: iv_variance_cb_timeout must be < 60d, got %s", ErrInvalidPoolParameters, p.IVVarianceCBTimeout)
	}
	if p.SkewVarianceCBTimeout >= maxCBTimeout {
		return fmt.Errorf("%w: skew_variance_cb_timeout must be < 60d, got %s", ErrInvalidPoolParameters, p.SkewVarianceCBTimeout)
	}
	if p.BoardSettlementCBTimeout >= maxBoardSettlementCBT {
		return fmt.Errorf("%w: board_settlement_cb_timeout must be < 10d, got %s", ErrInvalidPoolParameters, p.BoardSettlementCBTimeout)
	}
	return nil
}

// ParamsManager holds the active parameter set. It is journaled so a parameter
// change rolls back with the command that made it.
type ParamsManager struct {
	params PoolParameters
	saved  []PoolParameters
}

func NewParamsManager(initial PoolParameters) (*ParamsManager, error) {
	if err := ValidatePoolParameters(initial); err != nil {
		return nil, err
	}
	return &ParamsManager{params: initial}, nil
}

func (pm *ParamsManager) Get() PoolParameters {
	return pm.params
}

// Update installs a new parameter set; an invalid set leaves the old one active.
func (pm *ParamsManager) Update(p PoolParameters) error {
	if err := ValidatePoolParameters(p); err != nil {
		return err
	}
	pm.params = p
	return nil
}

func (pm *ParamsManager) Snapshot() int {
	pm.saved = append(pm.saved, pm.params)
	return len(pm.saved) - 1
}

func (pm *ParamsManager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(pm.saved) {
		panic(fmt.Sprintf("FATAL: invalid params snapshot %d (have %d)", id, len(pm.saved)))
	}
	pm.params = pm.saved[id]
	pm.saved = pm.saved[:id]
}

func (pm *ParamsManager) Commit(id int) {
	if id < len(pm.saved) {
		pm.saved = pm.saved[:id]
	}
}
