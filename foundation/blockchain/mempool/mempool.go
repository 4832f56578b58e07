// Package mempool implements the bounded first-in-first-out admission
// buffer of validated transactions awaiting block inclusion.
package mempool

import (
	"sync"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/state"
)

// Mempool holds at most one pending transaction per sender: admission
// rule 2 requires tx.Nonce to equal the sender's committed expected
// nonce exactly, so a second transaction from the same sender cannot
// be admitted until the first is mined or dropped.
type Mempool struct {
	mu         sync.RWMutex
	pool       map[ledger.AccountID]ledger.BlockTx
	order      []ledger.AccountID
	engine     *state.Engine
	maxSize    int
	evictBatch int
	evHandler  func(v string, args ...any)
}

// New constructs a Mempool that admits against engine's committed state.
func New(engine *state.Engine, maxSize, evictBatch int, evHandler func(v string, args ...any)) *Mempool {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Mempool{
		pool:       make(map[ledger.AccountID]ledger.BlockTx),
		engine:     engine,
		maxSize:    maxSize,
		evictBatch: evictBatch,
		evHandler:  evHandler,
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add validates tx against the current committed state and, if it
// passes, admits it — evicting the oldest evictBatch entries first if
// the pool is at maxSize. A sender with an already-pending transaction
// is rejected as a nonce collision: the committed state has not moved,
// so any resubmission necessarily carries the same expected nonce.
func (mp *Mempool) Add(tx ledger.BlockTx) error {
	if err := mp.engine.ValidateTx(tx); err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.From]; exists {
		return bcerrors.New(bcerrors.BadNonce, "%s already has a pending transaction", tx.From)
	}

	if len(mp.pool) >= mp.maxSize {
		mp.evictOldestLocked(mp.evictBatch)
	}

	mp.pool[tx.From] = tx
	mp.order = append(mp.order, tx.From)

	mp.evHandler("mempool: add: from[%s] nonce[%d]: size[%d]", tx.From, tx.Nonce, len(mp.pool))

	return nil
}

// evictOldestLocked drops up to n of the oldest entries. Callers must
// hold mp.mu for writing.
func (mp *Mempool) evictOldestLocked(n int) {
	if n > len(mp.order) {
		n = len(mp.order)
	}

	for i := 0; i < n; i++ {
		sender := mp.order[i]
		delete(mp.pool, sender)
		mp.evHandler("mempool: evict: from[%s]: %s", sender, bcerrors.MempoolFull)
	}

	mp.order = mp.order[n:]
}

// Delete removes the pending transaction for tx's sender, if any. Used
// once a transaction has been mined into an appended block.
func (mp *Mempool) Delete(tx ledger.BlockTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.deleteLocked(tx.From)
}

func (mp *Mempool) deleteLocked(sender ledger.AccountID) {
	if _, exists := mp.pool[sender]; !exists {
		return
	}

	delete(mp.pool, sender)

	for i, id := range mp.order {
		if id == sender {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}
}

// Truncate clears every pending transaction from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[ledger.AccountID]ledger.BlockTx)
	mp.order = nil
}

// Drain returns up to maxBlockTxs pending transactions in FIFO
// (arrival) order for the miner to seal into a block, skipping any
// that have become invalid since admission (e.g. a nonce the sender
// has since consumed through some other path). Drained transactions
// are left in the pool; the caller removes them via Delete once the
// block they went into is actually appended.
func (mp *Mempool) Drain(maxBlockTxs int) []ledger.BlockTx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]ledger.BlockTx, 0, maxBlockTxs)
	for _, sender := range mp.order {
		if len(txs) >= maxBlockTxs {
			break
		}

		tx, exists := mp.pool[sender]
		if !exists {
			continue
		}

		if err := mp.engine.ValidateTx(tx); err != nil {
			continue
		}

		txs = append(txs, tx)
	}

	return txs
}
