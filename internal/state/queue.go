package state

import (
	"time"

	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// QueuedDeposit is a deposit ticket. IDs start at 1 and are never reused.
type QueuedDeposit struct {
	ID           uint64         `json:"id"`
	Beneficiary  common.Address `json:"beneficiary"`
	AmountQuote  fpmath.Decimal `json:"amount_quote"`
	MintedTokens fpmath.Decimal `json:"minted_tokens"`
	InitiatedAt  time.Time      `json:"initiated_at"`
	Processed    bool           `json:"processed"`
	ProcessedAt  time.Time      `json:"processed_at,omitempty"`
}

// QueuedWithdrawal is a withdrawal ticket; partial fills mutate it in place.
type QueuedWithdrawal struct {
	ID                    uint64         `json:"id"`
	Beneficiary           common.Address `json:"beneficiary"`
	AmountTokensRemaining fpmath.Decimal `json:"amount_tokens_remaining"`
	QuoteSentCumulative   fpmath.Decimal `json:"quote_sent_cumulative"`
	InitiatedAt           time.Time      `json:"initiated_at"`
}

// DepositQueue is an index-keyed FIFO: Entries[id-1] is ticket id, Head is the
// id of the oldest unprocessed ticket.
type DepositQueue struct {
	Entries     []QueuedDeposit `json:"entries"`
	Head        uint64          `json:"head"`
	TotalQueued fpmath.Decimal  `json:"total_queued"`
}

func NewDepositQueue() DepositQueue {
	return DepositQueue{Head: 1}
}

func (q *DepositQueue) NextID() uint64 { return uint64(len(q.Entries)) + 1 }

func (q *DepositQueue) Enqueue(beneficiary common.Address, amount fpmath.Decimal, now time.Time) QueuedDeposit {
	entry := QueuedDeposit{
		ID:          q.NextID(),
		Beneficiary: beneficiary,
		AmountQuote: amount,
		InitiatedAt: now,
	}
	q.Entries = append(q.Entries, entry)
	q.TotalQueued = q.TotalQueued.Add(amount)
	return entry
}

// Peek returns the head ticket, or false when the queue is drained.
func (q *DepositQueue) Peek() (*QueuedDeposit, bool) {
	if q.Head == 0 || q.Head > uint64(len(q.Entries)) {
		return nil, false
	}
	return &q.Entries[q.Head-1], true
}

// ProcessHead records the minted shares on the head ticket, zeroes its amount
// and advances Head. The returned copy still carries the processed amount.
func (q *DepositQueue) ProcessHead(minted fpmath.Decimal, now time.Time) QueuedDeposit {
	entry := &q.Entries[q.Head-1]
	processed := *entry
	q.TotalQueued = q.TotalQueued.SubFloor(entry.AmountQuote)

	entry.MintedTokens = minted
	entry.AmountQuote = fpmath.Zero()
	entry.Processed = true
	entry.ProcessedAt = now
	q.Head++

	processed.MintedTokens = minted
	processed.Processed = true
	processed.ProcessedAt = now
	return processed
}

func (q *DepositQueue) Get(id uint64) (QueuedDeposit, bool) {
	if id == 0 || id > uint64(len(q.Entries)) {
		return QueuedDeposit{}, false
	}
	return q.Entries[id-1], true
}

// Pending returns the unprocessed tickets in FIFO order.
func (q *DepositQueue) Pending() []QueuedDeposit {
	if q.Head == 0 || q.Head > uint64(len(q.Entries)) {
		return nil
	}
	out := make([]QueuedDeposit, len(q.Entries)-int(q.Head-1))
	copy(out, q.Entries[q.Head-1:])
	return out
}

// SumPending recomputes TotalQueued from the open tickets.
func (q *DepositQueue) SumPending() fpmath.Decimal {
	total := fpmath.Zero()
	for _, e := range q.Pending() {
		total = total.Add(e.AmountQuote)
	}
	return total
}

func (q DepositQueue) Clone() DepositQueue {
	entries := make([]QueuedDeposit, len(q.Entries))
	copy(entries, q.Entries)
	q.Entries = entries
	return q
}

// WithdrawalQueue mirrors DepositQueue; a partially filled ticket stays at Head.
type WithdrawalQueue struct {
	Entries     []QueuedWithdrawal `json:"entries"`
	Head        uint64             `json:"head"`
	TotalQueued fpmath.Decimal     `json:"total_queued"`
}

func NewWithdrawalQueue() WithdrawalQueue {
	return WithdrawalQueue{Head: 1}
}

func (q *WithdrawalQueue) NextID() uint64 { return uint64(len(q.Entries)) + 1 }

func (q *WithdrawalQueue) Enqueue(beneficiary common.Address, shares fpmath.Decimal, now time.Time) QueuedWithdrawal {
	entry := QueuedWithdrawal{
		ID:                    q.NextID(),
		Beneficiary:           beneficiary,
		AmountTokensRemaining: shares,
		InitiatedAt:           now,
	}
	q.Entries = append(q.Entries, entry)
	q.TotalQueued = q.TotalQueued.Add(shares)
	return entry
}

func (q *WithdrawalQueue) Peek() (*QueuedWithdrawal, bool) {
	if q.Head == 0 || q.Head > uint64(len(q.Entries)) {
		return nil, false
	}
	return &q.Entries[q.Head-1], true
}

// FillHead burns shares from the head ticket and credits quoteSent. Head only
// advances once the ticket has no shares left; the return value reports that.
func (q *WithdrawalQueue) FillHead(shares, quoteSent fpmath.Decimal) (QueuedWithdrawal, bool) {
	entry := &q.Entries[q.Head-1]
	entry.AmountTokensRemaining = entry.AmountTokensRemaining.SubFloor(shares)
	entry.QuoteSentCumulative = entry.QuoteSentCumulative.Add(quoteSent)
	q.TotalQueued = q.TotalQueued.SubFloor(shares)

	done := entry.AmountTokensRemaining.IsZero()
	if done {
		q.Head++
	}
	return *entry, done
}

func (q *WithdrawalQueue) Get(id uint64) (QueuedWithdrawal, bool) {
	if id == 0 || id > uint64(len(q.Entries)) {
		return QueuedWithdrawal{}, false
	}
	return q.Entries[id-1], true
}

func (q *WithdrawalQueue) Pending() []QueuedWithdrawal {
	if q.Head == 0 || q.Head > uint64(len(q.Entries)) {
		return nil
	}
	out := make([]QueuedWithdrawal, len(q.Entries)-int(q.Head-1))
	copy(out, q.Entries[q.Head-1:])
	return out
}

func (q *WithdrawalQueue) SumPending() fpmath.Decimal {
	total := fpmath.Zero()
	for _, e := range q.Pending() {
		total = total.Add(e.AmountTokensRemaining)
	}
	return total
}

func (q WithdrawalQueue) Clone() WithdrawalQueue {
	entries := make([]QueuedWithdrawal, len(q.Entries))
	copy(entries, q.Entries)
	q.Entries = entries
	return q
}
