package ledger

import (
	fpmath "OptionLedger/internal/math"

	"github.com/google/uuid"
)

// JournalGenerator stamps journal entries with the context of the command
// being processed and collects them into a batch.
type JournalGenerator struct {
	batchID   uuid.UUID
	eventRef  string
	sequence  int64
	timestamp int64
	pending   []Journal
}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{batchID: uuid.New()}
}

// Begin starts a new batch for the command identified by eventRef.
func (g *JournalGenerator) Begin(eventRef string, sequence, timestampMicros int64) {
	g.batchID = uuid.New()
	g.eventRef = eventRef
	g.sequence = sequence
	g.timestamp = timestampMicros
	g.pending = g.pending[:0]
}

func (g *JournalGenerator) newJournal(asset AssetID, debit, credit AccountKey, amount fpmath.Decimal, jt JournalType) Journal {
	return Journal{
		JournalID:     uuid.New(),
		BatchID:       g.batchID,
		EventRef:      g.eventRef,
		Sequence:      g.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     g.timestamp,
	}
}

func (g *JournalGenerator) record(j Journal) {
	g.pending = append(g.pending, j)
}

func (g *JournalGenerator) mark() int { return len(g.pending) }

func (g *JournalGenerator) truncate(n int) {
	if n < len(g.pending) {
		g.pending = g.pending[:n]
	}
}

// Drain returns the batch collected since Begin, or nil when nothing moved.
func (g *JournalGenerator) Drain() *Batch {
	if len(g.pending) == 0 {
		return nil
	}
	journals := make([]Journal, len(g.pending))
	copy(journals, g.pending)
	g.pending = g.pending[:0]
	return &Batch{
		BatchID:   g.batchID,
		EventRef:  g.eventRef,
		Sequence:  g.sequence,
		Timestamp: g.timestamp,
		Journals:  journals,
	}
}
