package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateConservation verifies that, per asset, the holder balances add up
// to what has been issued across the external boundary.
func (v *InvariantValidator) ValidateConservation() error {
	totals := v.tracker.ComputeHolderTotals()
	for _, asset := range []AssetID{AssetQuote, AssetBase, AssetShare} {
		supply := v.tracker.Supply(asset)
		if !totals[asset].Eq(supply) {
			return fmt.Errorf("%s holder total %s != supply %s", asset, totals[asset], supply)
		}
	}
	return nil
}
