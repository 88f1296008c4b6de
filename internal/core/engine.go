package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/market"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/pool"
	"OptionLedger/internal/settlement"
	"OptionLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// feedPartition is the sequence partition of the single market feed.
const feedPartition = "feed"

var (
	ErrUnknownAsset    = errors.New("unknown asset")
	ErrOnlyMarket      = errors.New("only the option market may register positions")
	ErrClockRegression = errors.New("command timestamp before ledger time")
)

// Addresses are the ledger identities the core wires together.
type Addresses struct {
	Pool            common.Address `json:"pool"`
	Vault           common.Address `json:"vault"`
	Owner           common.Address `json:"owner"`
	OptionMarket    common.Address `json:"option_market"`
	PoolHedger      common.Address `json:"pool_hedger"`
	ExchangeReserve common.Address `json:"exchange_reserve"`
}

type Config struct {
	StartSequence       int64
	Addresses           Addresses
	Params              state.PoolParameters
	IdempotencyCapacity int
}

// DeterministicCore is the single-threaded command processor. It owns the
// token ledger, the pool, the vault and the market adapters; nothing else
// mutates them.
type DeterministicCore struct {
	sequence          int64
	clock             time.Time // latest applied command timestamp
	hasher            *StateHasher
	bank              *ledger.Bank
	params            *state.ParamsManager
	feed              *market.Feed
	exchange          *market.Exchange
	book              *market.PositionBook
	pool              *pool.Pool
	vault             *settlement.Vault
	events            *event.Recorder
	journal           []ledger.Journaled
	addrs             Addresses
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	log     zerolog.Logger
	metrics *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied command.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch

	// Pool is the pool's bookkeeping after the command.
	Pool *state.PoolState
	// Liquidity is nil while no spot price has been observed.
	Liquidity *pool.Liquidity
	// Balances are the post-command balances of every holder the batch touched.
	Balances []BalanceEntry
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	params, err := state.NewParamsManager(cfg.Params)
	if err != nil {
		return nil, err
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}

	log := logger.With().Str("component", "core").Logger()
	bank := ledger.NewBank()
	events := event.NewRecorder()
	feed := market.NewFeed()
	exchange := market.NewExchange(feed, bank, cfg.Addresses.ExchangeReserve)
	book := market.NewPositionBook(bank, cfg.Addresses.Vault)

	lp := pool.New(cfg.Addresses.Pool, pool.Roles{
		Owner:           cfg.Addresses.Owner,
		OptionMarket:    cfg.Addresses.OptionMarket,
		ShortCollateral: cfg.Addresses.Vault,
		PoolHedger:      cfg.Addresses.PoolHedger,
	}, params, pool.Deps{
		Quote:     bank.Token(ledger.AssetQuote),
		Base:      bank.Token(ledger.AssetBase),
		Shares:    bank.Token(ledger.AssetShare),
		Oracle:    exchange,
		Valuation: feed,
		Hedger:    feed,
		Events:    events,
		Journal:   []ledger.Journaled{bank, params, feed},
		Logger:    logger.With().Str("component", "pool").Logger(),
		Metrics:   metrics,
	})

	vault := settlement.NewVault(cfg.Addresses.Vault, cfg.Addresses.Pool, cfg.Addresses.OptionMarket, settlement.Deps{
		Pool:      lp,
		Quote:     bank.Token(ledger.AssetQuote),
		Base:      bank.Token(ledger.AssetBase),
		Positions: book,
		Events:    events,
		Journal:   []ledger.Journaled{bank, lp, book},
		Logger:    logger.With().Str("component", "vault").Logger(),
		Metrics:   metrics,
	})

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		bank:              bank,
		params:            params,
		feed:              feed,
		exchange:          exchange,
		book:              book,
		pool:              lp,
		vault:             vault,
		events:            events,
		journal:           []ledger.Journaled{bank, events, params, feed, book, lp, vault},
		addrs:             cfg.Addresses,
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, log, metrics),
		sequenceValidator: NewSequenceValidator(),
		log:               log,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessEvent applies one command and returns its envelope. A duplicate
// returns (nil, nil). A rejected command returns an error and leaves no trace.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*event.EventEnvelope, error) {
	env, out, err := c.apply(evt, false)
	if err != nil || env == nil {
		return env, err
	}

	// Persistence: blocking send, the core stalls until the worker drains.
	if c.persistChan != nil {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}
	// Projections: drop on full, they rebuild from the event log.
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
	return env, nil
}

// ReplayEvent applies a command read back from the event log. The duplicate
// check is skipped, the log holds each key once. Nothing is sent downstream:
// the log already has it.
func (c *DeterministicCore) ReplayEvent(evt event.Event) (*event.EventEnvelope, error) {
	env, _, err := c.apply(evt, true)
	if err == nil && env != nil && c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return env, err
}

func (c *DeterministicCore) apply(evt event.Event, replay bool) (*event.EventEnvelope, CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()

	if !replay && c.idempotency.IsDuplicate(eventType, key) {
		c.reject(eventType, "duplicate")
		return nil, CoreOutput{}, nil
	}

	now := evt.OccurredAt()
	if now.Before(c.clock) {
		c.reject(eventType, "clock_regression")
		return nil, CoreOutput{}, fmt.Errorf("%w: ledger at %s, got %s",
			ErrClockRegression, c.clock.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	}

	feedUpdate, isFeed := evt.(*event.MarketFeedUpdate)
	if isFeed {
		if err := c.sequenceValidator.ValidateFeedSequence(feedPartition, feedUpdate.FeedSequence); err != nil {
			c.reject(eventType, "stale_feed")
			if c.metrics != nil {
				c.metrics.FeedOutOfOrder.Inc()
			}
			return nil, CoreOutput{}, err
		}
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		c.reject(eventType, "encode")
		return nil, CoreOutput{}, fmt.Errorf("encode %s: %w", eventType, err)
	}

	c.bank.Generator().Begin(key, c.sequence, evt.OccurredAt().UnixMicro())
	cp := ledger.Checkpoint(c.journal...)
	if err := c.dispatchEvent(evt); err != nil {
		cp.Revert()
		c.reject(eventType, "domain")
		c.log.Debug().Err(err).Str("event_type", eventType).Str("key", key).Msg("command rejected")
		return nil, CoreOutput{}, err
	}
	if err := c.bank.Validator().ValidateConservation(); err != nil {
		panic(fmt.Sprintf("FATAL: token conservation violated after %s %s: %v", eventType, key, err))
	}
	cp.Commit()

	emitted := c.events.Drain()
	batch := c.bank.Generator().Drain()

	hashStart := time.Now()
	digest, err := computeStateDigest(payload, emitted, batch)
	if err != nil {
		panic(fmt.Sprintf("FATAL: state digest: %v", err))
	}
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)

	env := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: key,
		EventType:      evt.EventType(),
		Caller:         evt.CallerAddress(),
		Timestamp:      evt.OccurredAt(),
		Payload:        payload,
		Emitted:        emitted,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	out := CoreOutput{Envelope: env, Batch: batch, Pool: c.pool.State(), Balances: c.touchedBalances(batch)}
	if liq, err := c.pool.Liquidity(); err == nil {
		out.Liquidity = &liq
	}

	if isFeed {
		c.sequenceValidator.Advance(feedPartition, feedUpdate.FeedSequence)
	}
	c.idempotency.MarkProcessed(eventType, key)
	c.sequence++
	if now.After(c.clock) {
		c.clock = now
	}

	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if batch != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}
	return env, out, nil
}

func (c *DeterministicCore) touchedBalances(batch *ledger.Batch) []BalanceEntry {
	if batch == nil {
		return nil
	}
	seen := make(map[ledger.AccountKey]struct{}, len(batch.Journals)*2)
	var entries []BalanceEntry
	for _, j := range batch.Journals {
		for _, k := range [2]ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if k.IsExternal() {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			entries = append(entries, BalanceEntry{
				Holder:  k.Holder,
				AssetID: k.AssetID,
				Balance: c.bank.Tracker().GetBalance(k),
			})
		}
	}
	return entries
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) error {
	call := pool.Call{Caller: evt.CallerAddress(), Now: evt.OccurredAt()}

	switch e := evt.(type) {
	// Liquidity pool
	case *event.InitiateDeposit:
		return c.pool.InitiateDeposit(call, e.Beneficiary, e.AmountQuote)
	case *event.InitiateWithdraw:
		return c.pool.InitiateWithdraw(call, e.Beneficiary, e.AmountShares)
	case *event.ProcessDepositQueue:
		return c.pool.ProcessDepositQueue(call, e.Limit)
	case *event.ProcessWithdrawalQueue:
		return c.pool.ProcessWithdrawalQueue(call, e.Limit)
	case *event.LockQuote:
		return c.pool.LockQuote(call, e.Amount, e.FreeLiquidity)
	case *event.LockBase:
		return c.pool.LockBase(call, e.Amount, e.FreeLiquidity)
	case *event.FreeQuoteCollateralAndSendPremium:
		return c.pool.FreeQuoteCollateralAndSendPremium(call, e.AmountQuoteFreed, e.Recipient, e.TotalCost, e.ReservedFee)
	case *event.LiquidateBaseAndSendPremium:
		return c.pool.LiquidateBaseAndSendPremium(call, e.AmountBase, e.Recipient, e.TotalCost, e.ReservedFee)
	case *event.SendShortPremium:
		return c.pool.SendShortPremium(call, e.Recipient, e.Amount, e.FreeLiquidity, e.ReservedFee)
	case *event.ExchangeBase:
		return c.pool.ExchangeBase(call)
	case *event.UpdateCBs:
		return c.pool.UpdateCBs(call)
	case *event.BoardSettlement:
		return c.pool.BoardSettlement(call, e.InsolventSettlements, e.AmountQuoteFreed, e.AmountQuoteReserved, e.AmountBaseFreed)
	case *event.TransferQuoteToHedge:
		spot, err := c.feed.SpotPrice()
		if err != nil {
			return err
		}
		_, err = c.pool.TransferQuoteToHedge(call, spot, e.Amount)
		return err
	case *event.PoolParamsUpdate:
		return c.pool.SetPoolParameters(call, e.Params)

	// Collateral vault
	case *event.SettleOptions:
		return c.vault.SettleOptions(call, e.PositionIDs)
	case *event.VaultBoardSettlement:
		_, _, err := c.vault.BoardSettlement(call, e.AmountBase, e.AmountQuote)
		return err
	case *event.SendQuoteCollateral:
		return c.vault.SendQuoteCollateral(call, e.Recipient, e.Amount)
	case *event.SendBaseCollateral:
		return c.vault.SendBaseCollateral(call, e.Recipient, e.Amount)

	// Market inputs
	case *event.MarketFeedUpdate:
		return c.feed.Apply(e)
	case *event.AssetFunded:
		return c.handleAssetFunded(e)
	case *event.PositionOpened:
		if e.Caller != c.addrs.OptionMarket {
			return fmt.Errorf("%w: caller %s", ErrOnlyMarket, e.Caller.Hex())
		}
		_, err := c.book.Open(e)
		return err
	case *event.StrikeExpired:
		if e.Caller != c.addrs.OptionMarket {
			return fmt.Errorf("%w: caller %s", ErrOnlyMarket, e.Caller.Hex())
		}
		return c.book.Expire(e)

	default:
		return fmt.Errorf("unknown event type: %T", evt)
	}
}

// handleAssetFunded credits quote or base arriving from outside the ledger.
// Shares are only ever minted by the pool.
func (c *DeterministicCore) handleAssetFunded(e *event.AssetFunded) error {
	asset, ok := ledger.GetAssetID(e.Asset)
	if !ok || asset == ledger.AssetShare {
		return fmt.Errorf("%w: %q", ErrUnknownAsset, e.Asset)
	}
	if e.Amount.IsZero() {
		return fmt.Errorf("fund %s: zero amount", e.Asset)
	}
	return c.bank.Token(asset).Mint(e.Holder, e.Amount)
}

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetClock is the ledger's "now": the latest timestamp it has applied.
func (c *DeterministicCore) GetClock() time.Time {
	return c.clock
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}
