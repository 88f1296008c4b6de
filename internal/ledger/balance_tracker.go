package ledger

import (
	"errors"
	"fmt"

	fpmath "OptionLedger/internal/math"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// BalanceTracker maintains in-memory account balances and per-asset supply.
// Mutations are recorded in an undo log so a caller can snapshot and revert.
// Not thread-safe: only accessed from the single-writer core.
type BalanceTracker struct {
	balances map[AccountKey]fpmath.Decimal
	supply   map[AssetID]fpmath.Decimal

	undo  []undoEntry
	marks []int
}

type undoEntry struct {
	account  *AccountKey
	asset    AssetID
	previous fpmath.Decimal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]fpmath.Decimal),
		supply:   make(map[AssetID]fpmath.Decimal),
	}
}

// ApplyJournal moves Amount from CreditAccount to DebitAccount. A credit from
// the external boundary increases supply, a debit to it decreases supply.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if err := j.Validate(); err != nil {
		return err
	}

	if j.CreditAccount.IsExternal() {
		next, err := bt.supply[j.AssetID].CheckedAdd(j.Amount)
		if err != nil {
			return fmt.Errorf("mint exceeds %s supply range: %w", j.AssetID, err)
		}
		bt.setSupply(j.AssetID, next)
	} else {
		have := bt.balances[j.CreditAccount]
		next, err := have.CheckedSub(j.Amount)
		if err != nil {
			return fmt.Errorf("%w: %s has %s, needs %s",
				ErrInsufficientBalance, j.CreditAccount.AccountPath(), have, j.Amount)
		}
		bt.setBalance(j.CreditAccount, next)
	}

	if j.DebitAccount.IsExternal() {
		next, err := bt.supply[j.AssetID].CheckedSub(j.Amount)
		if err != nil {
			return fmt.Errorf("burn exceeds %s supply: %w", j.AssetID, err)
		}
		bt.setSupply(j.AssetID, next)
	} else {
		// balances never exceed supply, so this cannot overflow once the mint check passed
		bt.setBalance(j.DebitAccount, bt.balances[j.DebitAccount].Add(j.Amount))
	}

	return nil
}

// ApplyBatch applies all journals in a batch, reverting the partial batch on failure.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	snap := bt.Snapshot()
	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			bt.RevertToSnapshot(snap)
			return err
		}
	}
	bt.Commit(snap)
	return nil
}

func (bt *BalanceTracker) GetBalance(key AccountKey) fpmath.Decimal {
	return bt.balances[key]
}

func (bt *BalanceTracker) Supply(asset AssetID) fpmath.Decimal {
	return bt.supply[asset]
}

func (bt *BalanceTracker) setBalance(key AccountKey, v fpmath.Decimal) {
	if len(bt.marks) > 0 {
		k := key
		bt.undo = append(bt.undo, undoEntry{account: &k, previous: bt.balances[key]})
	}
	if v.IsZero() {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = v
}

func (bt *BalanceTracker) setSupply(asset AssetID, v fpmath.Decimal) {
	if len(bt.marks) > 0 {
		bt.undo = append(bt.undo, undoEntry{asset: asset, previous: bt.supply[asset]})
	}
	bt.supply[asset] = v
}

// Snapshot opens a revision and returns its id.
func (bt *BalanceTracker) Snapshot() int {
	bt.marks = append(bt.marks, len(bt.undo))
	return len(bt.marks) - 1
}

// RevertToSnapshot undoes every mutation since revision id was opened and
// closes it together with any revision opened after it.
func (bt *BalanceTracker) RevertToSnapshot(id int) {
	if id < 0 || id >= len(bt.marks) {
		panic(fmt.Sprintf("FATAL: revision id %d cannot be reverted (open=%d)", id, len(bt.marks)))
	}
	mark := bt.marks[id]
	for i := len(bt.undo) - 1; i >= mark; i-- {
		e := bt.undo[i]
		if e.account != nil {
			if e.previous.IsZero() {
				delete(bt.balances, *e.account)
			} else {
				bt.balances[*e.account] = e.previous
			}
			continue
		}
		bt.supply[e.asset] = e.previous
	}
	bt.undo = bt.undo[:mark]
	bt.marks = bt.marks[:id]
}

// Commit closes revision id, keeping its mutations.
func (bt *BalanceTracker) Commit(id int) {
	if id < 0 || id >= len(bt.marks) {
		return
	}
	bt.marks = bt.marks[:id]
	if len(bt.marks) == 0 {
		bt.undo = bt.undo[:0]
	}
}

// ComputeHolderTotals sums balances per asset across every holder.
func (bt *BalanceTracker) ComputeHolderTotals() map[AssetID]fpmath.Decimal {
	totals := make(map[AssetID]fpmath.Decimal)
	for key, balance := range bt.balances {
		totals[key.AssetID] = totals[key.AssetID].Add(balance)
	}
	return totals
}

// Balances returns a copy of all balances (for state hashing and persistence)
func (bt *BalanceTracker) Balances() map[AccountKey]fpmath.Decimal {
	out := make(map[AccountKey]fpmath.Decimal, len(bt.balances))
	for k, v := range bt.balances {
		out[k] = v
	}
	return out
}

// Restore replaces all state; used when loading a persisted snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]fpmath.Decimal, supply map[AssetID]fpmath.Decimal) {
	bt.balances = make(map[AccountKey]fpmath.Decimal, len(balances))
	for k, v := range balances {
		if !v.IsZero() {
			bt.balances[k] = v
		}
	}
	bt.supply = make(map[AssetID]fpmath.Decimal, len(supply))
	for k, v := range supply {
		bt.supply[k] = v
	}
	bt.undo = nil
	bt.marks = nil
}

func (bt *BalanceTracker) SupplySnapshot() map[AssetID]fpmath.Decimal {
	out := make(map[AssetID]fpmath.Decimal, len(bt.supply))
	for k, v := range bt.supply {
		out[k] = v
	}
	return out
}
