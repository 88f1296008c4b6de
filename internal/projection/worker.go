package projection

import (
	"context"
	"fmt"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/observability"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// watermarkName is this worker's row in projections.watermark.
const watermarkName = "pool"

// ProjectionOutput is the read-model slice of one applied command.
type ProjectionOutput struct {
	Sequence    int64
	EventType   string
	Timestamp   time.Time
	Balances    []BalanceRow
	Deposits    []DepositTicketRow
	Withdrawals []WithdrawalTicketRow
	// Liquidity is nil until the pool has seen a spot price.
	Liquidity *LiquidityRow
}

type BalanceRow struct {
	Holder  string
	Asset   string
	Balance string
}

type DepositTicketRow struct {
	TicketID     uint64
	Beneficiary  string
	AmountQuote  string
	MintedTokens string
	Processed    bool
	InitiatedAt  time.Time
}

type WithdrawalTicketRow struct {
	TicketID        uint64
	Beneficiary     string
	TokensRemaining string
	QuoteSent       string
	InitiatedAt     time.Time
}

type LiquidityRow struct {
	FreeLiquidity         string
	BurnableLiquidity     string
	ReservedTokenValue    string
	UsedCollatLiquidity   string
	PendingDeltaLiquidity string
	UsedDeltaLiquidity    string
	NAV                   string
	TokenPrice            string
	SpotPrice             string
	CBUntil               *time.Time
	InsolventSettlements  string
}

// FromCore extracts the rows a command changed. Only tickets named by an
// emitted queue event are included.
func FromCore(out core.CoreOutput) ProjectionOutput {
	env := out.Envelope
	po := ProjectionOutput{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Timestamp: env.Timestamp,
	}

	for _, b := range out.Balances {
		po.Balances = append(po.Balances, BalanceRow{
			Holder:  b.Holder.Hex(),
			Asset:   b.AssetID.String(),
			Balance: b.Balance.String(),
		})
	}

	if out.Pool == nil {
		return po
	}

	depositIDs, withdrawalIDs := touchedTickets(env.Emitted)
	for _, id := range depositIDs {
		d, ok := out.Pool.Deposits.Get(id)
		if !ok {
			continue
		}
		po.Deposits = append(po.Deposits, DepositTicketRow{
			TicketID:     d.ID,
			Beneficiary:  d.Beneficiary.Hex(),
			AmountQuote:  d.AmountQuote.String(),
			MintedTokens: d.MintedTokens.String(),
			Processed:    d.Processed,
			InitiatedAt:  d.InitiatedAt,
		})
	}
	for _, id := range withdrawalIDs {
		w, ok := out.Pool.Withdrawals.Get(id)
		if !ok {
			continue
		}
		po.Withdrawals = append(po.Withdrawals, WithdrawalTicketRow{
			TicketID:        w.ID,
			Beneficiary:     w.Beneficiary.Hex(),
			TokensRemaining: w.AmountTokensRemaining.String(),
			QuoteSent:       w.QuoteSentCumulative.String(),
			InitiatedAt:     w.InitiatedAt,
		})
	}

	if liq := out.Liquidity; liq != nil {
		row := &LiquidityRow{
			FreeLiquidity:         liq.FreeLiquidity.String(),
			BurnableLiquidity:     liq.BurnableLiquidity.String(),
			ReservedTokenValue:    liq.ReservedTokenValue.String(),
			UsedCollatLiquidity:   liq.UsedCollatLiquidity.String(),
			PendingDeltaLiquidity: liq.PendingDeltaLiquidity.String(),
			UsedDeltaLiquidity:    liq.UsedDeltaLiquidity.String(),
			NAV:                   liq.NAV.String(),
			TokenPrice:            liq.TokenPrice.String(),
			SpotPrice:             liq.SpotPrice.String(),
			InsolventSettlements:  out.Pool.InsolventSettlementAmount.String(),
		}
		if until := out.Pool.CircuitBreaker.Until; !until.IsZero() {
			row.CBUntil = &until
		}
		po.Liquidity = row
	}
	return po
}

// touchedTickets returns the deposit and withdrawal ticket ids named by the
// emitted events, deduplicated, in emission order. Id 0 marks a fast path
// with no ticket.
func touchedTickets(emitted []event.Emitted) (deposits, withdrawals []uint64) {
	seenD := map[uint64]bool{}
	seenW := map[uint64]bool{}
	addD := func(id uint64) {
		if id != 0 && !seenD[id] {
			seenD[id] = true
			deposits = append(deposits, id)
		}
	}
	addW := func(id uint64) {
		if id != 0 && !seenW[id] {
			seenW[id] = true
			withdrawals = append(withdrawals, id)
		}
	}

	for _, e := range emitted {
		switch ev := e.(type) {
		case event.DepositQueued:
			addD(ev.DepositQueueID)
		case event.DepositProcessed:
			addD(ev.DepositQueueID)
		case event.WithdrawQueued:
			addW(ev.WithdrawalQueueID)
		case event.WithdrawProcessed:
			addW(ev.WithdrawalQueueID)
		case event.WithdrawPartiallyProcessed:
			addW(ev.WithdrawalQueueID)
		}
	}
	return deposits, withdrawals
}

// ProjectionWorker updates projection tables from processed commands.
// The core feeds it without blocking and drops when it falls behind; every row
// it writes is absolute, so the next update for the same key repairs a gap and
// RebuildProjections repairs the rest.
type ProjectionWorker struct {
	pool      *pgxpool.Pool
	inputChan <-chan ProjectionOutput
	lastSeq   int64

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewProjectionWorker(pool *pgxpool.Pool, inputChan <-chan ProjectionOutput, log zerolog.Logger, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		pool:      pool,
		inputChan: inputChan,
		lastSeq:   -1,
		log:       log.With().Str("component", "projection").Logger(),
		metrics:   metrics,
	}
}

// LastSequence is the last sequence the worker attempted.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

// Run applies outputs until ctx is cancelled or the input closes. A failed
// update is logged and skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.Apply(ctx, output); err != nil {
				pw.log.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			} else if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(watermarkName).Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// Apply writes one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queueOutput(batch, output)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("projection seq %d: %w", output.Sequence, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func queueOutput(batch *pgx.Batch, o ProjectionOutput) {
	for _, b := range o.Balances {
		batch.Queue(`
			INSERT INTO projections.balances (holder, asset, balance, sequence, updated_at)
			VALUES ($1, $2, $3::numeric, $4, now())
			ON CONFLICT (holder, asset) DO UPDATE SET
				balance = EXCLUDED.balance,
				sequence = EXCLUDED.sequence,
				updated_at = now()
			WHERE projections.balances.sequence <= EXCLUDED.sequence
		`, b.Holder, b.Asset, b.Balance, o.Sequence)
	}

	for _, d := range o.Deposits {
		batch.Queue(`
			INSERT INTO projections.deposit_tickets
				(ticket_id, beneficiary, amount_quote, minted_tokens, processed, initiated_at, sequence)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
			ON CONFLICT (ticket_id) DO UPDATE SET
				amount_quote = EXCLUDED.amount_quote,
				minted_tokens = EXCLUDED.minted_tokens,
				processed = EXCLUDED.processed,
				sequence = EXCLUDED.sequence
			WHERE projections.deposit_tickets.sequence <= EXCLUDED.sequence
		`, int64(d.TicketID), d.Beneficiary, d.AmountQuote, d.MintedTokens, d.Processed, d.InitiatedAt, o.Sequence)
	}

	for _, w := range o.Withdrawals {
		batch.Queue(`
			INSERT INTO projections.withdrawal_tickets
				(ticket_id, beneficiary, tokens_remaining, quote_sent, initiated_at, sequence)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
			ON CONFLICT (ticket_id) DO UPDATE SET
				tokens_remaining = EXCLUDED.tokens_remaining,
				quote_sent = EXCLUDED.quote_sent,
				sequence = EXCLUDED.sequence
			WHERE projections.withdrawal_tickets.sequence <= EXCLUDED.sequence
		`, int64(w.TicketID), w.Beneficiary, w.TokensRemaining, w.QuoteSent, w.InitiatedAt, o.Sequence)
	}

	if l := o.Liquidity; l != nil {
		batch.Queue(`
			INSERT INTO projections.liquidity_history (
				sequence, free_liquidity, burnable_liquidity, reserved_token_value,
				used_collat_liquidity, pending_delta_liquidity, used_delta_liquidity,
				nav, token_price, spot_price, cb_until, insolvent_settlements, recorded_at
			) VALUES ($1,$2::numeric,$3::numeric,$4::numeric,$5::numeric,$6::numeric,$7::numeric,
				$8::numeric,$9::numeric,$10::numeric,$11,$12::numeric,$13)
			ON CONFLICT (sequence) DO NOTHING
		`,
			o.Sequence,
			l.FreeLiquidity,
			l.BurnableLiquidity,
			l.ReservedTokenValue,
			l.UsedCollatLiquidity,
			l.PendingDeltaLiquidity,
			l.UsedDeltaLiquidity,
			l.NAV,
			l.TokenPrice,
			l.SpotPrice,
			l.CBUntil,
			l.InsolventSettlements,
			o.Timestamp,
		)
	}

	batch.Queue(`
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (projection_name) DO UPDATE SET
			last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			updated_at = now()
	`, watermarkName, o.Sequence)
}

// RebuildProjections recomputes projections.balances from the journal and
// resets the watermark to the last journaled sequence. Ticket and liquidity
// rows are repaired by subsequent updates.
func RebuildProjections(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	// Account paths are holder:<address>:<asset>; external accounts are skipped.
	tag, err := tx.Exec(ctx, `
		INSERT INTO projections.balances (holder, asset, balance, sequence, updated_at)
		SELECT split_part(account, ':', 2), split_part(account, ':', 3),
		       SUM(delta), MAX(sequence), now()
		FROM (
			SELECT credit_account AS account, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT debit_account AS account, -amount AS delta, sequence FROM event_log.journal
		) moves
		WHERE account LIKE 'holder:%'
		GROUP BY account
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		SELECT $1, COALESCE(MAX(sequence), -1), now() FROM event_log.journal
		ON CONFLICT (projection_name) DO UPDATE SET
			last_sequence = EXCLUDED.last_sequence,
			updated_at = now()
	`, watermarkName); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Info().Int64("accounts", tag.RowsAffected()).Msg("projection rebuild complete")
	return nil
}
