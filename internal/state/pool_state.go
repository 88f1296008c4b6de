package state

import fpmath "OptionLedger/internal/math"

// PoolState is everything the liquidity pool owns besides token balances.
// It is a plain value so an operation can work on a clone and commit by swap.
type PoolState struct {
	Collateral                  CollateralLedger `json:"collateral"`
	CircuitBreaker              CircuitBreaker   `json:"circuit_breaker"`
	Deposits                    DepositQueue     `json:"deposits"`
	Withdrawals                 WithdrawalQueue  `json:"withdrawals"`
	TotalOutstandingSettlements fpmath.Decimal   `json:"total_outstanding_settlements"`
	InsolventSettlementAmount   fpmath.Decimal   `json:"insolvent_settlement_amount"`
}

func NewPoolState() *PoolState {
	return &PoolState{
		Deposits:    NewDepositQueue(),
		Withdrawals: NewWithdrawalQueue(),
	}
}

// Clone returns a deep copy.
func (s *PoolState) Clone() *PoolState {
	c := *s
	c.Deposits = s.Deposits.Clone()
	c.Withdrawals = s.Withdrawals.Clone()
	return &c
}

// VaultState is the collateral vault's bookkeeping.
type VaultState struct {
	Insolvency InsolvencyLedger `json:"insolvency"`
}

func (s *VaultState) Clone() *VaultState {
	c := *s
	return &c
}
