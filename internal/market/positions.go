package market

import (
	"errors"
	"fmt"
	"sort"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrPositionExists   = errors.New("position already exists")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionSettled  = errors.New("position already settled")
	ErrStrikeExpired    = errors.New("strike already expired")
	ErrInvalidPosition  = errors.New("invalid position")
)

type PositionRecord struct {
	settlement.Position
	Settled bool `json:"settled"`
}

type BookState struct {
	Positions map[uint64]PositionRecord              `json:"positions"`
	Strikes   map[uint64]settlement.SettlementParams `json:"strikes"`
}

func (s *BookState) Clone() *BookState {
	out := &BookState{
		Positions: make(map[uint64]PositionRecord, len(s.Positions)),
		Strikes:   make(map[uint64]settlement.SettlementParams, len(s.Strikes)),
	}
	for id, p := range s.Positions {
		out.Positions[id] = p
	}
	for id, sp := range s.Strikes {
		out.Strikes[id] = sp
	}
	return out
}

// PositionBook is the registry of open option positions and expired strikes
// the vault settles against.
//
// Not thread-safe: only accessed from the single-writer core.
type PositionBook struct {
	st    *BookState
	saved []*BookState

	vault common.Address
	quote *ledger.Token
	base  *ledger.Token
}

func NewPositionBook(bank *ledger.Bank, vault common.Address) *PositionBook {
	return &PositionBook{
		st: &BookState{
			Positions: make(map[uint64]PositionRecord),
			Strikes:   make(map[uint64]settlement.SettlementParams),
		},
		vault: vault,
		quote: bank.Token(ledger.AssetQuote),
		base:  bank.Token(ledger.AssetBase),
	}
}

// Open registers a position. A short's collateral moves from its owner into
// the vault.
func (b *PositionBook) Open(cmd *event.PositionOpened) (settlement.Position, error) {
	typ, err := settlement.ParseOptionType(cmd.OptionType)
	if err != nil {
		return settlement.Position{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if cmd.Size.IsZero() {
		return settlement.Position{}, fmt.Errorf("%w: zero size", ErrInvalidPosition)
	}
	if _, ok := b.st.Positions[cmd.PositionID]; ok {
		return settlement.Position{}, fmt.Errorf("%w: %d", ErrPositionExists, cmd.PositionID)
	}
	if _, ok := b.st.Strikes[cmd.StrikeID]; ok {
		return settlement.Position{}, fmt.Errorf("%w: %d", ErrStrikeExpired, cmd.StrikeID)
	}

	pos := settlement.Position{
		ID:       cmd.PositionID,
		StrikeID: cmd.StrikeID,
		Owner:    cmd.Owner,
		Type:     typ,
		Amount:   cmd.Size,
	}
	if !typ.IsLong() {
		pos.Collateral = cmd.Collateral
		token := b.quote
		if typ.IsBaseCollateralized() {
			token = b.base
		}
		if err := token.Transfer(cmd.Owner, b.vault, cmd.Collateral); err != nil {
			return settlement.Position{}, fmt.Errorf("collateral for position %d: %w", cmd.PositionID, err)
		}
	}
	b.st.Positions[pos.ID] = PositionRecord{Position: pos}
	return pos, nil
}

// Expire fixes the settlement parameters of a strike.
func (b *PositionBook) Expire(cmd *event.StrikeExpired) error {
	if _, ok := b.st.Strikes[cmd.StrikeID]; ok {
		return fmt.Errorf("%w: %d", ErrStrikeExpired, cmd.StrikeID)
	}
	if cmd.ExpiryPrice.IsZero() {
		return fmt.Errorf("strike %d: zero expiry price", cmd.StrikeID)
	}
	b.st.Strikes[cmd.StrikeID] = settlement.SettlementParams{
		StrikePrice: cmd.StrikePrice,
		ExpiryPrice: cmd.ExpiryPrice,
		ProfitRatio: cmd.ProfitRatio,
	}
	return nil
}

func (b *PositionBook) PositionsWithOwner(ids []uint64) ([]settlement.Position, error) {
	recs, err := b.activeSet(ids)
	if err != nil {
		return nil, err
	}
	out := make([]settlement.Position, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Position)
	}
	return out, nil
}

// SettlePositions marks every id settled, or none of them.
func (b *PositionBook) SettlePositions(ids []uint64) error {
	if _, err := b.activeSet(ids); err != nil {
		return err
	}
	for _, id := range ids {
		rec := b.st.Positions[id]
		rec.Settled = true
		b.st.Positions[id] = rec
	}
	return nil
}

// SettlementParameters returns zero values for a strike that has not expired.
func (b *PositionBook) SettlementParameters(strikeID uint64) (settlement.SettlementParams, error) {
	return b.st.Strikes[strikeID], nil
}

// activeSet resolves ids in order and rejects a repeated id.
func (b *PositionBook) activeSet(ids []uint64) ([]PositionRecord, error) {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]PositionRecord, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: %d", settlement.ErrDuplicatePosition, id)
		}
		seen[id] = struct{}{}
		rec, err := b.active(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (b *PositionBook) active(id uint64) (PositionRecord, error) {
	rec, ok := b.st.Positions[id]
	if !ok {
		return PositionRecord{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if rec.Settled {
		return PositionRecord{}, fmt.Errorf("%w: %d", ErrPositionSettled, id)
	}
	return rec, nil
}

// OpenPositions returns unsettled positions ordered by id.
func (b *PositionBook) OpenPositions() []settlement.Position {
	out := make([]settlement.Position, 0, len(b.st.Positions))
	for _, rec := range b.st.Positions {
		if !rec.Settled {
			out = append(out, rec.Position)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CollateralHeld sums the collateral of open shorts per asset.
func (b *PositionBook) CollateralHeld() (base, quote fpmath.Decimal) {
	for _, rec := range b.st.Positions {
		if rec.Settled || rec.Type.IsLong() {
			continue
		}
		if rec.Type.IsBaseCollateralized() {
			base = base.Add(rec.Collateral)
		} else {
			quote = quote.Add(rec.Collateral)
		}
	}
	return base, quote
}

func (b *PositionBook) State() *BookState { return b.st.Clone() }

func (b *PositionBook) Restore(st *BookState) {
	b.st = st.Clone()
	b.saved = nil
}

func (b *PositionBook) Snapshot() int {
	b.saved = append(b.saved, b.st.Clone())
	return len(b.saved) - 1
}

func (b *PositionBook) RevertToSnapshot(id int) {
	if id < 0 || id >= len(b.saved) {
		panic(fmt.Sprintf("FATAL: invalid position book snapshot %d (have %d)", id, len(b.saved)))
	}
	b.st = b.saved[id]
	b.saved = b.saved[:id]
}

func (b *PositionBook) Commit(id int) {
	if id < len(b.saved) {
		b.saved = b.saved[:id]
	}
}
