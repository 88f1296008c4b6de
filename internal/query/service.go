package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OptionLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	watermarkKey = "pool"
)

// QueryService provides read-only access to projection tables and the event
// log. Live pool state is served by the core engine; this covers history.
// Every response carries as_of_sequence, the projection watermark.
type QueryService struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
}

func NewQueryService(pool *pgxpool.Pool, metrics *observability.Metrics) *QueryService {
	return &QueryService{pool: pool, metrics: metrics}
}

// GetBalances returns every projected balance of holder.
func (qs *QueryService) GetBalances(ctx context.Context, holder common.Address) (*BalanceResponse, error) {
	defer qs.observe("balances", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.pool.Query(ctx, `
		SELECT asset, balance::text FROM projections.balances
		WHERE holder = $1
		ORDER BY asset
	`, holder.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalanceResponse{
		Holder:       holder.Hex(),
		Balances:     map[string]string{},
		AsOfSequence: asOfSeq,
	}
	for rows.Next() {
		var asset, balance string
		if err := rows.Scan(&asset, &balance); err != nil {
			return nil, err
		}
		resp.Balances[asset] = balance
	}
	return resp, rows.Err()
}

// GetDepositTickets pages through deposit tickets by descending id. A zero
// beneficiary matches everyone; beforeID 0 starts at the newest ticket.
func (qs *QueryService) GetDepositTickets(
	ctx context.Context,
	beneficiary common.Address,
	pendingOnly bool,
	limit int,
	beforeID uint64,
) ([]DepositTicketResponse, error) {
	defer qs.observe("deposit_tickets", time.Now())

	query := `
		SELECT ticket_id, beneficiary, amount_quote::text, minted_tokens::text,
		       processed, initiated_at, sequence
		FROM projections.deposit_tickets
		WHERE ($1 = '' OR beneficiary = $1)
		  AND (NOT $2 OR NOT processed)
		  AND ($3 = 0 OR ticket_id < $3)
		ORDER BY ticket_id DESC
		LIMIT $4
	`
	rows, err := qs.pool.Query(ctx, query, addressFilter(beneficiary), pendingOnly, int64(beforeID), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DepositTicketResponse, error) {
		var d DepositTicketResponse
		var id int64
		err := row.Scan(&id, &d.Beneficiary, &d.AmountQuote, &d.MintedTokens, &d.Processed, &d.InitiatedAt, &d.Sequence)
		d.TicketID = uint64(id)
		return d, err
	})
}

// GetWithdrawalTickets is GetDepositTickets for the withdrawal queue; a ticket
// is pending while it has shares remaining.
func (qs *QueryService) GetWithdrawalTickets(
	ctx context.Context,
	beneficiary common.Address,
	pendingOnly bool,
	limit int,
	beforeID uint64,
) ([]WithdrawalTicketResponse, error) {
	defer qs.observe("withdrawal_tickets", time.Now())

	query := `
		SELECT ticket_id, beneficiary, tokens_remaining::text, quote_sent::text,
		       initiated_at, sequence
		FROM projections.withdrawal_tickets
		WHERE ($1 = '' OR beneficiary = $1)
		  AND (NOT $2 OR tokens_remaining > 0)
		  AND ($3 = 0 OR ticket_id < $3)
		ORDER BY ticket_id DESC
		LIMIT $4
	`
	rows, err := qs.pool.Query(ctx, query, addressFilter(beneficiary), pendingOnly, int64(beforeID), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (WithdrawalTicketResponse, error) {
		var w WithdrawalTicketResponse
		var id int64
		err := row.Scan(&id, &w.Beneficiary, &w.TokensRemaining, &w.QuoteSent, &w.InitiatedAt, &w.Sequence)
		w.TicketID = uint64(id)
		return w, err
	})
}

// GetLiquidityHistory returns liquidity rows newest first, before
// beforeSequence when it is positive.
func (qs *QueryService) GetLiquidityHistory(ctx context.Context, limit int, beforeSequence int64) ([]LiquidityPoint, error) {
	defer qs.observe("liquidity_history", time.Now())

	rows, err := qs.pool.Query(ctx, `
		SELECT sequence, free_liquidity::text, burnable_liquidity::text,
		       reserved_token_value::text, used_collat_liquidity::text,
		       pending_delta_liquidity::text, used_delta_liquidity::text,
		       nav::text, token_price::text, spot_price::text, cb_until,
		       insolvent_settlements::text, recorded_at
		FROM projections.liquidity_history
		WHERE ($1 <= 0 OR sequence < $1)
		ORDER BY sequence DESC
		LIMIT $2
	`, beforeSequence, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (LiquidityPoint, error) {
		var p LiquidityPoint
		err := row.Scan(
			&p.Sequence, &p.FreeLiquidity, &p.BurnableLiquidity,
			&p.ReservedTokenValue, &p.UsedCollatLiquidity,
			&p.PendingDeltaLiquidity, &p.UsedDeltaLiquidity,
			&p.NAV, &p.TokenPrice, &p.SpotPrice, &p.CBUntil,
			&p.InsolventSettlements, &p.RecordedAt,
		)
		return p, err
	})
}

// GetJournalHistory returns journal entries touching holder with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder common.Address,
	limit int,
	beforeSequence int64,
) ([]JournalHistoryEntry, error) {
	defer qs.observe("journal_history", time.Now())

	accountPrefix := fmt.Sprintf("holder:%s:%%", holder.Hex())
	rows, err := qs.pool.Query(ctx, `
		SELECT journal_id::text, batch_id::text, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
		  AND ($2 <= 0 OR sequence < $2)
		ORDER BY sequence DESC
		LIMIT $3
	`, accountPrefix, beforeSequence, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (JournalHistoryEntry, error) {
		var e JournalHistoryEntry
		var assetID int16
		err := row.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &assetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		)
		e.AssetID = uint16(assetID)
		return e, err
	})
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain and compares projected holder balances
// against the journal.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("verify_integrity", time.Now())
	report := &IntegrityReport{}

	rows, err := qs.pool.Query(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	report.HashChainBreaks, err = pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}

	rows, err = qs.pool.Query(ctx, `
		WITH journaled AS (
			SELECT split_part(account, ':', 3) AS asset, SUM(delta) AS total
			FROM (
				SELECT credit_account AS account, amount AS delta FROM event_log.journal
				UNION ALL
				SELECT debit_account AS account, -amount AS delta FROM event_log.journal
			) moves
			WHERE account LIKE 'holder:%'
			GROUP BY 1
		), projected AS (
			SELECT asset, SUM(balance) AS total FROM projections.balances GROUP BY asset
		)
		SELECT COALESCE(j.asset, p.asset),
		       COALESCE(p.total, 0)::text,
		       COALESCE(j.total, 0)::text
		FROM journaled j
		FULL OUTER JOIN projected p ON p.asset = j.asset
		WHERE COALESCE(p.total, 0) <> COALESCE(j.total, 0)
	`)
	if err != nil {
		return nil, err
	}
	report.ProjectionDrift, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProjectionDrift, error) {
		var d ProjectionDrift
		err := row.Scan(&d.Asset, &d.Projected, &d.Journaled)
		return d, err
	})
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.ProjectionDrift) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.pool.QueryRow(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = $1
	`, watermarkKey).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics != nil {
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func addressFilter(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
