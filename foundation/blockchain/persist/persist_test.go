package persist_test

import (
	"testing"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/persist"
)

func testGenesis(t *testing.T) ledger.Block {
	t.Helper()

	header := ledger.BlockHeader{
		Index:         1,
		Timestamp:     "2026-01-01 00:00:00",
		PreviousHash:  ledger.GenesisPreviousHash,
		BeneficiaryID: "0x0000000000000000000000000000000000dEaD",
		Difficulty:    4,
		MerkleRoot:    ledger.EmptyMerkleRoot(),
		StateRoot:     "0xstate",
		Proof:         0,
	}

	return ledger.Block{Header: header}
}

func Test_SaveAndLoadBlocksRoundTrip(t *testing.T) {
	dir := t.TempDir()

	d, err := persist.New(dir)
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if d.HasSavedData() {
		t.Fatalf("a freshly created persister should report no saved data")
	}

	genesis := testGenesis(t)
	if err := d.SaveBlocks([]ledger.Block{genesis}); err != nil {
		t.Fatalf("SaveBlocks: %s", err)
	}

	if !d.HasSavedData() {
		t.Fatalf("expected HasSavedData to be true after a save")
	}

	loaded, err := d.LoadBlocks()
	if err != nil {
		t.Fatalf("LoadBlocks: %s", err)
	}

	if len(loaded) != 1 {
		t.Fatalf("expected 1 loaded block, got %d", len(loaded))
	}
	if loaded[0].Hash() != genesis.Hash() {
		t.Fatalf("round-tripped block hash mismatch: got %s, exp %s", loaded[0].Hash(), genesis.Hash())
	}
}

func Test_SaveAndLoadStateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	d, err := persist.New(dir)
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	snap := persist.StateSnapshot{
		Accounts: []ledger.Account{
			ledger.NewAccount("0x0000000000000000000000000000000000dEaD", 1000),
		},
		Difficulty: 4,
	}

	if err := d.SaveState(snap); err != nil {
		t.Fatalf("SaveState: %s", err)
	}

	loaded, err := d.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %s", err)
	}

	if len(loaded.Accounts) != 1 || loaded.Accounts[0].Balance != 1000 {
		t.Fatalf("unexpected loaded state: %+v", loaded)
	}
}

func Test_LoadStateWithoutPriorSaveReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()

	d, err := persist.New(dir)
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	snap, err := d.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %s", err)
	}
	if len(snap.Accounts) != 0 {
		t.Fatalf("expected an empty snapshot, got %+v", snap)
	}
}
