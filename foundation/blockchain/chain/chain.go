// Package chain owns the ordered block sequence for one node: it
// enforces chain invariants on append, serves suffixes to peers, and
// supports replacing a suffix wholesale during fork resolution.
package chain

import (
	"fmt"
	"sync"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/miner"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/state"
)

// Chain is guarded by a single writer lock; readers (Tip, Height,
// BlockAt, SuffixFrom) take a read lock and return copies, never
// references into the live slice.
type Chain struct {
	mu     sync.RWMutex
	blocks []ledger.Block
	state  *state.Engine
	cfg    miner.Config

	evHandler func(v string, args ...any)
}

// New constructs a chain seeded with the genesis block and state engine.
// genesis must already satisfy every block invariant; it is not
// re-validated against a (nonexistent) parent.
func New(genesis ledger.Block, engine *state.Engine, cfg miner.Config, evHandler func(v string, args ...any)) *Chain {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Chain{
		blocks:    []ledger.Block{genesis},
		state:     engine,
		cfg:       cfg,
		evHandler: evHandler,
	}
}

// Tip returns the highest block in the chain.
func (c *Chain) Tip() ledger.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1]
}

// Height returns the current chain height (the genesis block is height 1).
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1].Header.Index
}

// BlockAt returns the block at 1-based index i.
func (c *Chain) BlockAt(i uint64) (ledger.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i < 1 || i > uint64(len(c.blocks)) {
		return ledger.Block{}, false
	}

	return c.blocks[i-1], true
}

// SuffixFrom returns every block strictly above height, in order.
func (c *Chain) SuffixFrom(height uint64) []ledger.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if height >= uint64(len(c.blocks)) {
		return nil
	}

	suffix := make([]ledger.Block, len(c.blocks)-int(height))
	copy(suffix, c.blocks[height:])

	return suffix
}

// State returns the chain's state engine. Callers must not mutate it
// outside of Append/ReplaceSuffix; it is exposed read-mostly for
// queries (account lookups, snapshot serving).
func (c *Chain) State() *state.Engine {
	return c.state
}

// Append validates block against the current tip and, if valid, appends
// it and advances the state engine. Either both succeed or neither does.
func (c *Chain) Append(block ledger.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]

	if err := miner.Validate(block, tip, c.state, c.cfg, c.evHandler); err != nil {
		return err
	}

	var txs []ledger.BlockTx
	if block.Trans != nil {
		txs = block.Trans.Values()
	}

	if _, err := c.state.Apply(txs); err != nil {
		return fmt.Errorf("block passed validation but failed to apply: %w", err)
	}

	c.blocks = append(c.blocks, block)
	c.evHandler("chain: append: blk[%d]: hash[%s]", block.Header.Index, block.Hash())

	return nil
}

// ReplaceSuffix atomically truncates the chain to fromHeight and appends
// blocks, re-running validation and state replay on the new suffix. On
// any failure the chain and state are left exactly as they were.
func (c *Chain) ReplaceSuffix(fromHeight uint64, blocks []ledger.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fromHeight < 1 || fromHeight > uint64(len(c.blocks)) {
		return fmt.Errorf("replace_suffix: from_height %d out of range", fromHeight)
	}

	prefix := make([]ledger.Block, fromHeight)
	copy(prefix, c.blocks[:fromHeight])

	replay := c.state.Copy()

	tip := prefix[len(prefix)-1]
	for _, block := range blocks {
		if err := miner.Validate(block, tip, replay, c.cfg, c.evHandler); err != nil {
			return fmt.Errorf("replace_suffix: %w", err)
		}

		var txs []ledger.BlockTx
		if block.Trans != nil {
			txs = block.Trans.Values()
		}
		if _, err := replay.Apply(txs); err != nil {
			return fmt.Errorf("replace_suffix: block %d failed to apply: %w", block.Header.Index, err)
		}

		tip = block
	}

	c.blocks = append(prefix, blocks...)
	c.state = replay
	c.evHandler("chain: replace_suffix: from[%d]: applied[%d] blocks", fromHeight, len(blocks))

	return nil
}
