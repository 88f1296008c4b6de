package ledger_test

import (
	"testing"

	"OptionLedger/internal/ledger"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func dec(s string) fpmath.Decimal { return fpmath.MustParse(s) }

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	key := ledger.NewAccountKey(alice, ledger.AssetQuote)
	want := "holder:" + alice.Hex() + ":quote"
	if got := key.AccountPath(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewAccountKey(ledger.ExternalHolder, ledger.AssetShare)
	if got := key.AccountPath(); got != "external:share" {
		t.Errorf("got %q, want %q", got, "external:share")
	}
}

func TestGetAssetID(t *testing.T) {
	id, ok := ledger.GetAssetID("base")
	if !ok || id != ledger.AssetBase {
		t.Fatalf("base: got %v/%v", id, ok)
	}
	if _, ok := ledger.GetAssetID("doge"); ok {
		t.Error("doge should not be a known asset")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_RejectsZeroAmount(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewAccountKey(alice, ledger.AssetQuote),
			CreditAccount: ledger.NewAccountKey(bob, ledger.AssetQuote),
			AssetID:       ledger.AssetQuote,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("zero amount batch should be rejected")
	}
}

func TestBatch_RejectsSelfTransfer(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewAccountKey(alice, ledger.AssetQuote)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID: uuid.New(), BatchID: batchID,
			DebitAccount: key, CreditAccount: key,
			AssetID: ledger.AssetQuote, Amount: dec("1"),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("self transfer should be rejected")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_ApplyBatchIsAllOrNothing(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batchID := uuid.New()
	ext := ledger.NewAccountKey(ledger.ExternalHolder, ledger.AssetQuote)
	aliceKey := ledger.NewAccountKey(alice, ledger.AssetQuote)
	bobKey := ledger.NewAccountKey(bob, ledger.AssetQuote)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{JournalID: uuid.New(), BatchID: batchID, DebitAccount: aliceKey, CreditAccount: ext, AssetID: ledger.AssetQuote, Amount: dec("10")},
			{JournalID: uuid.New(), BatchID: batchID, DebitAccount: bobKey, CreditAccount: aliceKey, AssetID: ledger.AssetQuote, Amount: dec("11")},
		},
	}

	if err := bt.ApplyBatch(batch); err == nil {
		t.Fatal("overdrawing batch should fail")
	}
	if !bt.GetBalance(aliceKey).IsZero() {
		t.Errorf("alice: got %s, want 0", bt.GetBalance(aliceKey))
	}
	if !bt.Supply(ledger.AssetQuote).IsZero() {
		t.Errorf("supply: got %s, want 0", bt.Supply(ledger.AssetQuote))
	}
}

func TestBalanceTracker_NestedRevert(t *testing.T) {
	bank := ledger.NewBank()
	quote := bank.Token(ledger.AssetQuote)
	if err := quote.Mint(alice, dec("100")); err != nil {
		t.Fatal(err)
	}

	outer := bank.Snapshot()
	if err := quote.Transfer(alice, bob, dec("30")); err != nil {
		t.Fatal(err)
	}
	inner := bank.Snapshot()
	if err := quote.Transfer(alice, bob, dec("30")); err != nil {
		t.Fatal(err)
	}
	bank.RevertToSnapshot(inner)

	if got := quote.BalanceOf(bob); !got.Eq(dec("30")) {
		t.Errorf("bob after inner revert: got %s, want 30", got)
	}

	bank.RevertToSnapshot(outer)
	if got := quote.BalanceOf(alice); !got.Eq(dec("100")) {
		t.Errorf("alice after outer revert: got %s, want 100", got)
	}

	batch := bank.Generator().Drain()
	if batch == nil || len(batch.Journals) != 1 {
		t.Fatalf("only the mint journal should survive, got %+v", batch)
	}
	if batch.Journals[0].JournalType != ledger.JournalTypeMint {
		t.Errorf("journal type: got %s, want mint", batch.Journals[0].JournalType)
	}
}

// ============================================================================
// Test: Bank tokens
// ============================================================================

func TestToken_MintTransferBurn(t *testing.T) {
	bank := ledger.NewBank()
	shares := bank.Token(ledger.AssetShare)

	if err := shares.Mint(alice, dec("50")); err != nil {
		t.Fatal(err)
	}
	if err := shares.Transfer(alice, bob, dec("20")); err != nil {
		t.Fatal(err)
	}
	if err := shares.Burn(bob, dec("5")); err != nil {
		t.Fatal(err)
	}

	if got := shares.TotalSupply(); !got.Eq(dec("45")) {
		t.Errorf("supply: got %s, want 45", got)
	}
	if got := shares.BalanceOf(bob); !got.Eq(dec("15")) {
		t.Errorf("bob: got %s, want 15", got)
	}
	if err := bank.Validator().ValidateConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
}

func TestToken_BurnMoreThanBalanceFails(t *testing.T) {
	bank := ledger.NewBank()
	shares := bank.Token(ledger.AssetShare)
	_ = shares.Mint(alice, dec("1"))

	if err := shares.Burn(alice, dec("2")); err == nil {
		t.Error("burn beyond balance should fail")
	}
}

func TestToken_TransferToZeroAddressFails(t *testing.T) {
	bank := ledger.NewBank()
	quote := bank.Token(ledger.AssetQuote)
	_ = quote.Mint(alice, dec("1"))

	if err := quote.Transfer(alice, ledger.ExternalHolder, dec("1")); err == nil {
		t.Error("transfer to zero address should fail")
	}
}
