package chain_test

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/chain"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/genesis"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/miner"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/state"
)

func testAccount(t *testing.T) (ledger.AccountID, *ecdsa.PrivateKey) {
	t.Helper()

	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %s", err)
	}

	return ledger.PublicKeyToAccountID(pk.PublicKey), pk
}

func testGenesis() ledger.Block {
	return ledger.Block{
		Header: ledger.BlockHeader{
			Index:        1,
			Timestamp:    "2026-01-01 00:00:00",
			PreviousHash: ledger.GenesisPreviousHash,
			Difficulty:   1,
			MerkleRoot:   ledger.EmptyMerkleRoot(),
		},
	}
}

func mineNext(t *testing.T, prev ledger.Block, engine *state.Engine, beneficiary ledger.AccountID, txs []ledger.BlockTx) ledger.Block {
	t.Helper()

	block, err := miner.Mine(context.Background(), beneficiary, prev, txs, engine, nil)
	if err != nil {
		t.Fatalf("Mine: %s", err)
	}

	return block
}

func Test_AppendAdvancesHeightAndState(t *testing.T) {
	from, pk := testAccount(t)
	to, _ := testAccount(t)
	miner1, _ := testAccount(t)

	genesisBlock := testGenesis()
	engine := state.New(map[ledger.AccountID]uint64{from: 1000}, nil)
	genesisBlock.Header.StateRoot = engine.Root()

	c := chain.New(genesisBlock, engine, miner.Config{}, nil)

	tx, err := ledger.NewTx(from, to, 100, 1, 0, "2026-01-01 00:00:05")
	if err != nil {
		t.Fatalf("NewTx: %s", err)
	}
	signed, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}
	blockTx := ledger.BlockTx{SignedTx: signed}

	block := mineNext(t, c.Tip(), c.State(), miner1, []ledger.BlockTx{blockTx})

	if err := c.Append(block); err != nil {
		t.Fatalf("Append: %s", err)
	}

	if c.Height() != 2 {
		t.Fatalf("Height: got %d, exp 2", c.Height())
	}

	sender, _ := c.State().Account(from)
	if sender.Balance != 1000-100-1 {
		t.Fatalf("sender balance after append: got %d, exp %d", sender.Balance, 899)
	}
}

func Test_AppendRejectsStaleBlock(t *testing.T) {
	from, _ := testAccount(t)
	miner1, _ := testAccount(t)

	genesisBlock := testGenesis()
	engine := state.New(map[ledger.AccountID]uint64{from: 1000}, nil)
	genesisBlock.Header.StateRoot = engine.Root()

	c := chain.New(genesisBlock, engine, miner.Config{}, nil)

	block := mineNext(t, c.Tip(), c.State(), miner1, nil)
	if err := c.Append(block); err != nil {
		t.Fatalf("Append: %s", err)
	}

	// Re-append the same block again: it no longer matches the next
	// expected index against the new tip.
	if err := c.Append(block); err == nil {
		t.Fatalf("expected Append of a stale block to fail")
	}
	if c.Height() != 2 {
		t.Fatalf("Height should be unaffected by the rejected append, got %d", c.Height())
	}
}

func Test_SuffixFromReturnsBlocksAboveHeight(t *testing.T) {
	from, _ := testAccount(t)
	miner1, _ := testAccount(t)

	genesisBlock := testGenesis()
	engine := state.New(map[ledger.AccountID]uint64{from: 1000}, nil)
	genesisBlock.Header.StateRoot = engine.Root()

	c := chain.New(genesisBlock, engine, miner.Config{}, nil)

	for i := 0; i < 3; i++ {
		block := mineNext(t, c.Tip(), c.State(), miner1, nil)
		if err := c.Append(block); err != nil {
			t.Fatalf("Append: %s", err)
		}
	}

	suffix := c.SuffixFrom(2)
	if len(suffix) != 2 {
		t.Fatalf("SuffixFrom(2): got %d blocks, exp 2", len(suffix))
	}
	if suffix[0].Header.Index != 3 || suffix[1].Header.Index != 4 {
		t.Fatalf("SuffixFrom(2) indices: got %d,%d, exp 3,4", suffix[0].Header.Index, suffix[1].Header.Index)
	}

	if got := c.SuffixFrom(c.Height()); got != nil {
		t.Fatalf("SuffixFrom(height) should be empty, got %d blocks", len(got))
	}
}

func Test_ReplaceSuffixLeavesChainUnchangedOnFailure(t *testing.T) {
	from, _ := testAccount(t)
	miner1, _ := testAccount(t)

	genesisBlock := testGenesis()
	engine := state.New(map[ledger.AccountID]uint64{from: 1000}, nil)
	genesisBlock.Header.StateRoot = engine.Root()

	c := chain.New(genesisBlock, engine, miner.Config{}, nil)

	block := mineNext(t, c.Tip(), c.State(), miner1, nil)
	if err := c.Append(block); err != nil {
		t.Fatalf("Append: %s", err)
	}

	before := c.Tip()
	beforeHeight := c.Height()

	bogus := ledger.Block{Header: ledger.BlockHeader{Index: 2, PreviousHash: "not-the-real-parent-hash"}}
	if err := c.ReplaceSuffix(1, []ledger.Block{bogus}); err == nil {
		t.Fatalf("expected ReplaceSuffix to reject a block with the wrong previous_hash")
	}

	if c.Height() != beforeHeight {
		t.Fatalf("Height changed after a failed ReplaceSuffix: got %d, exp %d", c.Height(), beforeHeight)
	}
	if c.Tip().Hash() != before.Hash() {
		t.Fatalf("Tip changed after a failed ReplaceSuffix")
	}
}

func Test_ReplaceSuffixReplaysAndAdvances(t *testing.T) {
	from, _ := testAccount(t)
	miner1, _ := testAccount(t)

	genesisBlock := testGenesis()
	engine := state.New(map[ledger.AccountID]uint64{from: 1000}, nil)
	genesisBlock.Header.StateRoot = engine.Root()

	c := chain.New(genesisBlock, engine, miner.Config{}, nil)

	// Build a two-block suffix against an independent copy of the same
	// genesis, as if pulled from a peer.
	replayEngine := c.State().Copy()
	block2 := mineNext(t, genesisBlock, replayEngine, miner1, nil)
	block3 := mineNext(t, block2, replayEngine, miner1, nil)

	if err := c.ReplaceSuffix(1, []ledger.Block{block2, block3}); err != nil {
		t.Fatalf("ReplaceSuffix: %s", err)
	}

	if c.Height() != 3 {
		t.Fatalf("Height: got %d, exp 3", c.Height())
	}
	if c.Tip().Hash() != block3.Hash() {
		t.Fatalf("Tip should be block3 after replace")
	}
}

// A genesis configured with a difficulty far above miner.Difficulty(1)
// must not wedge the chain: the header's actual difficulty always
// comes from the height schedule, not the configured value, so block 2
// still validates against Difficulty(2).
func Test_ChainAdvancesPastGenesisWithHighConfiguredDifficulty(t *testing.T) {
	from, _ := testAccount(t)
	miner1, _ := testAccount(t)

	gen := genesis.Genesis{
		Date:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ChainID:    1,
		Difficulty: 10,
		Balances:   map[string]uint64{string(from): 1000},
	}
	genesisBlock := gen.Block()

	if genesisBlock.Header.Difficulty != miner.Difficulty(1) {
		t.Fatalf("genesis header difficulty: got %d, exp miner.Difficulty(1) = %d", genesisBlock.Header.Difficulty, miner.Difficulty(1))
	}

	engine := state.New(gen.BalancesByAccount(), nil)
	c := chain.New(genesisBlock, engine, miner.Config{}, nil)

	block2 := mineNext(t, c.Tip(), c.State(), miner1, nil)
	if err := c.Append(block2); err != nil {
		t.Fatalf("Append block 2: %s", err)
	}

	block3 := mineNext(t, c.Tip(), c.State(), miner1, nil)
	if err := c.Append(block3); err != nil {
		t.Fatalf("Append block 3: %s", err)
	}

	if c.Height() != 3 {
		t.Fatalf("Height: got %d, exp 3", c.Height())
	}
}
