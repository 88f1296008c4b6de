package ledger

import (
	"fmt"

	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Bank is the double-entry ledger behind the quote, base and share tokens.
// Every movement is journaled and applied immediately; Snapshot and
// RevertToSnapshot roll back balances and journals together.
type Bank struct {
	tracker   *BalanceTracker
	generator *JournalGenerator
	validator *InvariantValidator
	marks     []int
}

func NewBank() *Bank {
	tracker := NewBalanceTracker()
	return &Bank{
		tracker:   tracker,
		generator: NewJournalGenerator(),
		validator: NewInvariantValidator(tracker),
	}
}

func (b *Bank) Tracker() *BalanceTracker       { return b.tracker }
func (b *Bank) Generator() *JournalGenerator   { return b.generator }
func (b *Bank) Validator() *InvariantValidator { return b.validator }

// Token returns a view of one asset.
func (b *Bank) Token(asset AssetID) *Token {
	return &Token{bank: b, asset: asset}
}

func (b *Bank) move(asset AssetID, from, to common.Address, amount fpmath.Decimal, jt JournalType) error {
	if amount.IsZero() {
		return nil
	}
	j := b.generator.newJournal(asset, NewAccountKey(to, asset), NewAccountKey(from, asset), amount, jt)
	if err := b.tracker.ApplyJournal(j); err != nil {
		return err
	}
	b.generator.record(j)
	return nil
}

// Snapshot opens a revision covering balances and pending journals.
func (b *Bank) Snapshot() int {
	b.marks = append(b.marks, b.generator.mark())
	return b.tracker.Snapshot()
}

func (b *Bank) RevertToSnapshot(id int) {
	b.tracker.RevertToSnapshot(id)
	if id < len(b.marks) {
		b.generator.truncate(b.marks[id])
		b.marks = b.marks[:id]
	}
}

func (b *Bank) Commit(id int) {
	b.tracker.Commit(id)
	if id < len(b.marks) {
		b.marks = b.marks[:id]
	}
}

// Token is an ERC20-like view over the bank for one asset.
type Token struct {
	bank  *Bank
	asset AssetID
}

func (t *Token) Asset() AssetID { return t.asset }

func (t *Token) BalanceOf(holder common.Address) fpmath.Decimal {
	return t.bank.tracker.GetBalance(NewAccountKey(holder, t.asset))
}

func (t *Token) TotalSupply() fpmath.Decimal {
	return t.bank.tracker.Supply(t.asset)
}

func (t *Token) Transfer(from, to common.Address, amount fpmath.Decimal) error {
	if from == ExternalHolder || to == ExternalHolder {
		return fmt.Errorf("transfer %s: zero address", t.asset)
	}
	if err := t.bank.move(t.asset, from, to, amount, JournalTypeTransfer); err != nil {
		return fmt.Errorf("transfer %s: %w", t.asset, err)
	}
	return nil
}

func (t *Token) Mint(to common.Address, amount fpmath.Decimal) error {
	if to == ExternalHolder {
		return fmt.Errorf("mint %s: zero address", t.asset)
	}
	return t.bank.move(t.asset, ExternalHolder, to, amount, JournalTypeMint)
}

func (t *Token) Burn(from common.Address, amount fpmath.Decimal) error {
	if from == ExternalHolder {
		return fmt.Errorf("burn %s: zero address", t.asset)
	}
	if err := t.bank.move(t.asset, from, ExternalHolder, amount, JournalTypeBurn); err != nil {
		return fmt.Errorf("burn %s: %w", t.asset, err)
	}
	return nil
}
