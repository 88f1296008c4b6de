package market

import (
	"errors"
	"fmt"
	"time"

	"OptionLedger/internal/event"
	fpmath "OptionLedger/internal/math"
)

var ErrNoSpotPrice = errors.New("no spot price observed")

// FeedState is the last market reading applied to the ledger.
type FeedState struct {
	Sequence         int64                `json:"sequence"`
	SpotPrice        fpmath.Decimal       `json:"spot_price"`
	OptionNetValue   fpmath.SignedDecimal `json:"option_net_value"`
	CacheStale       bool                 `json:"cache_stale"`
	LiveBoards       int                  `json:"live_boards"`
	IVVariance       fpmath.Decimal       `json:"iv_variance"`
	SkewVariance     fpmath.Decimal       `json:"skew_variance"`
	HedgerPending    fpmath.Decimal       `json:"hedger_pending"`
	HedgerUsed       fpmath.Decimal       `json:"hedger_used"`
	BaseSwapFeeRate  fpmath.Decimal       `json:"base_swap_fee_rate"`
	QuoteSwapFeeRate fpmath.Decimal       `json:"quote_swap_fee_rate"`
	UpdatedAt        time.Time            `json:"updated_at"`

	// HedgerResets counts board settlements that reset the hedger's
	// interaction delay since the last feed update.
	HedgerResets int `json:"hedger_resets"`
}

// Feed holds the external market readings the pool prices against. It serves
// as the pool's option valuation and hedger view; every value comes from
// MarketFeedUpdate commands, nothing is computed here.
//
// Not thread-safe: only accessed from the single-writer core.
type Feed struct {
	st    FeedState
	saved []FeedState
}

func NewFeed() *Feed {
	return &Feed{}
}

// Apply replaces the current reading. Sequences start at 1 and must increase;
// the core drops stale updates before they get here.
func (f *Feed) Apply(u *event.MarketFeedUpdate) error {
	if u.FeedSequence <= f.st.Sequence {
		return fmt.Errorf("feed sequence %d not after %d", u.FeedSequence, f.st.Sequence)
	}
	f.st = FeedState{
		Sequence:         u.FeedSequence,
		SpotPrice:        u.SpotPrice,
		OptionNetValue:   u.OptionNetValue,
		CacheStale:       u.CacheStale,
		LiveBoards:       u.LiveBoards,
		IVVariance:       u.IVVariance,
		SkewVariance:     u.SkewVariance,
		HedgerPending:    u.HedgerPending,
		HedgerUsed:       u.HedgerUsed,
		BaseSwapFeeRate:  u.BaseSwapFeeRate,
		QuoteSwapFeeRate: u.QuoteSwapFeeRate,
		UpdatedAt:        u.Timestamp,
	}
	return nil
}

func (f *Feed) State() FeedState { return f.st }

func (f *Feed) Restore(st FeedState) {
	f.st = st
	f.saved = nil
}

func (f *Feed) Snapshot() int {
	f.saved = append(f.saved, f.st)
	return len(f.saved) - 1
}

func (f *Feed) RevertToSnapshot(id int) {
	if id < 0 || id >= len(f.saved) {
		panic(fmt.Sprintf("FATAL: invalid feed snapshot %d (have %d)", id, len(f.saved)))
	}
	f.st = f.saved[id]
	f.saved = f.saved[:id]
}

func (f *Feed) Commit(id int) {
	if id < len(f.saved) {
		f.saved = f.saved[:id]
	}
}

func (f *Feed) SpotPrice() (fpmath.Decimal, error) {
	if f.st.SpotPrice.IsZero() {
		return fpmath.Zero(), ErrNoSpotPrice
	}
	return f.st.SpotPrice, nil
}

func (f *Feed) GlobalOptionNetValue() fpmath.SignedDecimal { return f.st.OptionNetValue }

// IsGlobalCacheStale reports the cache flag, and treats a spot that differs
// from the one the cache was built at as stale too.
func (f *Feed) IsGlobalCacheStale(spot fpmath.Decimal) bool {
	return f.st.CacheStale || !spot.Eq(f.st.SpotPrice)
}

func (f *Feed) MaxIVVariance() fpmath.Decimal   { return f.st.IVVariance }
func (f *Feed) MaxSkewVariance() fpmath.Decimal { return f.st.SkewVariance }
func (f *Feed) NumLiveBoards() int              { return f.st.LiveBoards }

func (f *Feed) HedgingLiquidity(fpmath.Decimal) (pending, used fpmath.Decimal) {
	return f.st.HedgerPending, f.st.HedgerUsed
}

func (f *Feed) ResetInteractionDelay() { f.st.HedgerResets++ }
