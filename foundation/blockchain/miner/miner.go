// Package miner implements the proof-of-work puzzle described for the
// Miner component: selecting a transaction batch, searching for a proof
// that solves the puzzle, and the inverse block-validation function used
// on every inbound block and by chain.Append/ReplaceSuffix.
package miner

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/merkle"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/signature"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/state"
)

// RetargetInterval is the block-height period at which a difficulty
// retarget hook could recompute difficulty from the previous window's
// time span. This core keeps the constant height-based schedule below
// and never exercises a retarget, per §4.6's "conforming implementation
// may keep the constant schedule" allowance.
const RetargetInterval = 2016

// Difficulty returns the number of leading hex zero characters required
// of a solved hash at height h: difficulty(h) = 4 + floor(h/100).
func Difficulty(height uint64) uint {
	return 4 + uint(height/100)
}

// =============================================================================

// Mine runs proof-of-work mining: it selects txs (already drained from
// the mempool by the caller), applies them to a copy of engine to
// compute merkle_root/state_root, and searches for the smallest proof
// that solves the puzzle at prevBlock's difficulty schedule.
func Mine(ctx context.Context, beneficiaryID ledger.AccountID, prevBlock ledger.Block, txs []ledger.BlockTx, engine *state.Engine, evHandler func(v string, args ...any)) (ledger.Block, error) {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	index := prevBlock.Header.Index + 1
	difficulty := Difficulty(index)

	merkleRoot, err := ledger.MerkleRootHex(txs)
	if err != nil {
		return ledger.Block{}, err
	}

	replay := engine.Copy()
	stateRoot, err := replay.Apply(txs)
	if err != nil {
		return ledger.Block{}, err
	}

	previousHash := ledger.GenesisPreviousHash
	if index > 1 {
		previousHash = prevBlock.Hash()
	}

	ts := time.Now().UTC()
	if prevTime, err := ParseTimestamp(prevBlock.Header.Timestamp); err == nil && ts.Unix() <= prevTime {
		ts = time.Unix(prevTime+1, 0).UTC()
	}

	header := ledger.BlockHeader{
		Index:         index,
		Timestamp:     ts.Format(timestampLayout),
		PreviousHash:  previousHash,
		BeneficiaryID: beneficiaryID,
		Difficulty:    difficulty,
		MerkleRoot:    merkleRoot,
		StateRoot:     stateRoot,
	}

	digestInput := digestInput(header, txs)

	proof, err := solve(ctx, prevBlock.Header.Proof, index, digestInput, difficulty, evHandler)
	if err != nil {
		return ledger.Block{}, err
	}
	header.Proof = proof

	tree, err := buildTree(txs)
	if err != nil {
		return ledger.Block{}, err
	}

	return ledger.Block{Header: header, Trans: tree}, nil
}

// solve searches for the smallest non-negative proof such that
// H(toDigest(proof, prevProof, index, digestInput)) has difficulty
// leading hex zeros.
func solve(ctx context.Context, prevProof uint64, index uint64, digestInput string, difficulty uint, evHandler func(v string, args ...any)) (uint64, error) {
	evHandler("miner: solve: started")
	defer evHandler("miner: solve: completed")

	var proof uint64

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			evHandler("miner: solve: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		hash := hashDigest(toDigest(proof, prevProof, index, digestInput))
		if isSolved(difficulty, hash) {
			evHandler("miner: solve: SOLVED: attempts[%d] proof[%d]", attempts, proof)
			return proof, nil
		}

		proof++
	}
}

// toDigest implements to_digest(p, pp, i, d) := str((p*p) - (pp*pp) + i) || d.
func toDigest(proof, prevProof, index uint64, digestInput string) string {
	p := new(big.Int).SetUint64(proof)
	pp := new(big.Int).SetUint64(prevProof)

	p2 := new(big.Int).Mul(p, p)
	pp2 := new(big.Int).Mul(pp, pp)

	diff := new(big.Int).Sub(p2, pp2)
	diff.Add(diff, new(big.Int).SetUint64(index))

	return diff.String() + digestInput
}

// digestInput resolves the PoW verifier/miner inconsistency noted for
// this chain: both mining and validation derive digest_input from the
// canonical encoding of the block's transactions (not merkle_root), so
// the two can never disagree about what was hashed.
func digestInput(header ledger.BlockHeader, txs []ledger.BlockTx) string {
	return signature.Hash(txs) + strconv.FormatUint(header.Index, 10)
}

func hashDigest(digest string) string {
	return signature.Hash(digest)
}

func isSolved(difficulty uint, hash string) bool {
	const zeros = "0000000000000000"

	trimmed := hash
	if len(trimmed) >= 2 && trimmed[:2] == "0x" {
		trimmed = trimmed[2:]
	}

	if uint(len(zeros)) < difficulty {
		return false
	}

	return trimmed[:difficulty] == zeros[:difficulty]
}

func buildTree(txs []ledger.BlockTx) (*merkle.Tree[ledger.BlockTx], error) {
	if len(txs) == 0 {
		return nil, nil
	}

	return merkle.NewTree(txs)
}

// timestampLayout is the wire/storage format for block and transaction
// timestamps: a UTC "YYYY-MM-DD HH:MM:SS" string. Consensus rules never
// compare these as strings; ParseTimestamp converts to integer UTC
// seconds first, per the design notes on timestamp representation.
const timestampLayout = "2006-01-02 15:04:05"

// ParseTimestamp parses a block/tx timestamp string into integer UTC
// seconds.
func ParseTimestamp(ts string) (int64, error) {
	t, err := time.Parse(timestampLayout, ts)
	if err != nil {
		return 0, err
	}
	return t.UTC().Unix(), nil
}

// =============================================================================

// Config bounds the block-timing rules Validate enforces.
type Config struct {
	MinBlockTime        time.Duration
	MaxBlockFutureTime  time.Duration
}

// DefaultConfig matches the defaults named for the configuration surface.
func DefaultConfig() Config {
	return Config{
		MinBlockTime:       5 * time.Second,
		MaxBlockFutureTime: 15 * time.Second,
	}
}

// Validate is the inverse of Mine: it re-derives every field of block
// from scratch (given prevBlock and a snapshot of the pre-block state)
// and checks it against what block actually claims. engine is copied
// internally; Validate never mutates it.
//
// This is used both on every inbound block and inside chain.Append /
// chain.ReplaceSuffix.
func Validate(block, prevBlock ledger.Block, engine *state.Engine, cfg Config, evHandler func(v string, args ...any)) error {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	nextNumber := prevBlock.Header.Index + 1

	evHandler("miner: validate: blk[%d]: check: chain is not forked", block.Header.Index)
	if block.Header.Index >= nextNumber+2 {
		return bcerrors.New(bcerrors.ChainFork, "remote block %d is two or more ahead of our tip %d", block.Header.Index, prevBlock.Header.Index)
	}

	evHandler("miner: validate: blk[%d]: check: block number is the next number", block.Header.Index)
	if block.Header.Index != nextNumber {
		return bcerrors.New(bcerrors.BadBlock, "block is not the next number, got %d, exp %d", block.Header.Index, nextNumber)
	}

	evHandler("miner: validate: blk[%d]: check: difficulty matches the height schedule", block.Header.Index)
	if wantDifficulty := Difficulty(block.Header.Index); block.Header.Difficulty != wantDifficulty {
		return bcerrors.New(bcerrors.BadBlock, "block difficulty %d does not match difficulty(%d) = %d", block.Header.Difficulty, block.Header.Index, wantDifficulty)
	}

	evHandler("miner: validate: blk[%d]: check: previous_hash matches parent", block.Header.Index)
	expectedPrevHash := ledger.GenesisPreviousHash
	if nextNumber > 1 {
		expectedPrevHash = prevBlock.Hash()
	}
	if block.Header.PreviousHash != expectedPrevHash {
		return bcerrors.New(bcerrors.BadBlock, "previous_hash %s does not match parent %s", block.Header.PreviousHash, expectedPrevHash)
	}

	evHandler("miner: validate: blk[%d]: check: timestamp ordering", block.Header.Index)
	if err := validateTimestamps(block, prevBlock, cfg); err != nil {
		return err
	}

	var txs []ledger.BlockTx
	if block.Trans != nil {
		txs = block.Trans.Values()
	}

	evHandler("miner: validate: blk[%d]: check: per-sender nonce ordering within block", block.Header.Index)
	if err := validateNonceOrdering(txs, engine); err != nil {
		return err
	}

	evHandler("miner: validate: blk[%d]: check: merkle_root matches transactions", block.Header.Index)
	wantMerkle, err := ledger.MerkleRootHex(txs)
	if err != nil {
		return bcerrors.New(bcerrors.BadBlock, "could not recompute merkle root: %s", err)
	}
	if block.Header.MerkleRoot != wantMerkle {
		return bcerrors.New(bcerrors.BadBlock, "merkle_root mismatch, got %s, exp %s", block.Header.MerkleRoot, wantMerkle)
	}

	evHandler("miner: validate: blk[%d]: check: state_root matches post-apply state", block.Header.Index)
	replay := engine.Copy()
	wantStateRoot, err := replay.Apply(txs)
	if err != nil {
		return bcerrors.New(bcerrors.BadBlock, "transactions failed to apply: %s", err)
	}
	if block.Header.StateRoot != wantStateRoot {
		return bcerrors.New(bcerrors.BadBlock, "state_root mismatch, got %s, exp %s", block.Header.StateRoot, wantStateRoot)
	}

	evHandler("miner: validate: blk[%d]: check: proof-of-work predicate holds", block.Header.Index)
	digest := digestInput(block.Header, txs)
	hash := hashDigest(toDigest(block.Header.Proof, prevBlock.Header.Proof, block.Header.Index, digest))
	if !isSolved(block.Header.Difficulty, hash) {
		return bcerrors.New(bcerrors.BadBlock, "proof-of-work predicate does not hold for proof %d", block.Header.Proof)
	}

	return nil
}

func validateTimestamps(block, prevBlock ledger.Block, cfg Config) error {
	blockTime, err := ParseTimestamp(block.Header.Timestamp)
	if err != nil {
		return bcerrors.New(bcerrors.BadBlock, "invalid timestamp: %s", err)
	}

	if prevBlock.Header.Index > 0 {
		prevTime, err := ParseTimestamp(prevBlock.Header.Timestamp)
		if err != nil {
			return bcerrors.New(bcerrors.BadBlock, "invalid parent timestamp: %s", err)
		}

		if blockTime <= prevTime {
			return bcerrors.New(bcerrors.BadBlock, "block timestamp %d is not after parent timestamp %d", blockTime, prevTime)
		}

		if cfg.MinBlockTime > 0 && blockTime-prevTime < int64(cfg.MinBlockTime.Seconds()) {
			return bcerrors.New(bcerrors.BadBlock, "block is only %ds after parent, need at least %s", blockTime-prevTime, cfg.MinBlockTime)
		}
	}

	now := time.Now().UTC().Unix()
	if cfg.MaxBlockFutureTime > 0 && blockTime > now+int64(cfg.MaxBlockFutureTime.Seconds()) {
		return bcerrors.New(bcerrors.BadBlock, "block timestamp %d is too far in the future (now %d)", blockTime, now)
	}

	return nil
}

// validateNonceOrdering checks that, within the block, each sender's
// transactions form a contiguous ascending run starting at
// committed_nonce + 1 (the committed nonce taken from engine, which
// reflects state *before* this block).
func validateNonceOrdering(txs []ledger.BlockTx, engine *state.Engine) error {
	next := make(map[ledger.AccountID]uint64)

	for _, tx := range txs {
		expected, seen := next[tx.From]
		if !seen {
			acc, exists := engine.Account(tx.From)
			expected = 0
			if exists {
				expected = acc.ExpectedNonce()
			}
		}

		if tx.Nonce != expected {
			return bcerrors.New(bcerrors.BadNonce, "tx from %s has nonce %d, expected %d within block", tx.From, tx.Nonce, expected)
		}

		next[tx.From] = tx.Nonce + 1
	}

	return nil
}
