package query

import "time"

// BalanceResponse is one holder's projected balances, keyed by asset name.
type BalanceResponse struct {
	Holder       string            `json:"holder"`
	Balances     map[string]string `json:"balances"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// DepositTicketResponse is a deposit ticket as last projected.
type DepositTicketResponse struct {
	TicketID     uint64    `json:"ticket_id"`
	Beneficiary  string    `json:"beneficiary"`
	AmountQuote  string    `json:"amount_quote"`
	MintedTokens string    `json:"minted_tokens"`
	Processed    bool      `json:"processed"`
	InitiatedAt  time.Time `json:"initiated_at"`
	Sequence     int64     `json:"sequence"`
}

// WithdrawalTicketResponse is a withdrawal ticket as last projected.
type WithdrawalTicketResponse struct {
	TicketID        uint64    `json:"ticket_id"`
	Beneficiary     string    `json:"beneficiary"`
	TokensRemaining string    `json:"tokens_remaining"`
	QuoteSent       string    `json:"quote_sent"`
	InitiatedAt     time.Time `json:"initiated_at"`
	Sequence        int64     `json:"sequence"`
}

// LiquidityPoint is one row of liquidity history.
type LiquidityPoint struct {
	Sequence              int64      `json:"sequence"`
	FreeLiquidity         string     `json:"free_liquidity"`
	BurnableLiquidity     string     `json:"burnable_liquidity"`
	ReservedTokenValue    string     `json:"reserved_token_value"`
	UsedCollatLiquidity   string     `json:"used_collat_liquidity"`
	PendingDeltaLiquidity string     `json:"pending_delta_liquidity"`
	UsedDeltaLiquidity    string     `json:"used_delta_liquidity"`
	NAV                   string     `json:"nav"`
	TokenPrice            string     `json:"token_price"`
	SpotPrice             string     `json:"spot_price"`
	CBUntil               *time.Time `json:"circuit_breaker_until,omitempty"`
	InsolventSettlements  string     `json:"insolvent_settlements"`
	RecordedAt            time.Time  `json:"recorded_at"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool              `json:"is_healthy"`
	HashChainBreaks []int64           `json:"hash_chain_breaks,omitempty"`
	ProjectionDrift []ProjectionDrift `json:"projection_drift,omitempty"`
}

// ProjectionDrift is an asset whose projected holder balances no longer sum
// to what the journal says.
type ProjectionDrift struct {
	Asset     string `json:"asset"`
	Projected string `json:"projected"`
	Journaled string `json:"journaled"`
}
