package ledger

import (
	"fmt"

	fpmath "OptionLedger/internal/math"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeMint
	JournalTypeBurn
	JournalTypeAdjustment
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID      // Unique identifier
	BatchID       uuid.UUID      // Groups entries produced by one command
	EventRef      string         // Idempotency key of source command
	Sequence      int64          // Global event sequence
	DebitAccount  AccountKey     // Account receiving the amount
	CreditAccount AccountKey     // Account sending the amount
	AssetID       AssetID        // Asset being transferred
	Amount        fpmath.Decimal // Always positive
	JournalType   JournalType
	Timestamp     int64 // Epoch microseconds
}

// Batch represents the journals of one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves a single positive
// amount from credit to debit, so every entry balances on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if err := j.Validate(); err != nil {
			return err
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
	}

	return nil
}

func (j Journal) Validate() error {
	if j.Amount.IsZero() {
		return fmt.Errorf("journal %s has zero amount", j.JournalID)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
	}
	if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
		return fmt.Errorf("journal %s mixes assets", j.JournalID)
	}
	return nil
}
