package node

import (
	"context"
	"errors"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/miner"
)

// Mining owns the background mining loop for one Node: signals start a
// mining attempt, signals cancel one in flight, grounded on the
// teacher's start/cancel mining channel pair.
type Mining struct {
	node         *Node
	startMining  chan bool
	cancelMining chan bool
	shut         chan struct{}
}

// NewMining wires a mining loop to n. Run must be called to start it.
func NewMining(n *Node) *Mining {
	return &Mining{
		node:         n,
		startMining:  make(chan bool, 1),
		cancelMining: make(chan bool, 1),
		shut:         make(chan struct{}),
	}
}

// SignalStart requests a mining attempt. A pending signal already in
// the channel makes this a no-op.
func (m *Mining) SignalStart() {
	select {
	case m.startMining <- true:
	default:
	}
}

// SignalCancel aborts whatever mining attempt is currently in flight.
func (m *Mining) SignalCancel() {
	select {
	case m.cancelMining <- true:
	default:
	}
}

// Shutdown stops the mining loop and cancels any attempt in flight.
func (m *Mining) Shutdown() {
	m.SignalCancel()
	close(m.shut)
}

// Run blocks, mining on every SignalStart and on each consensus tick,
// until Shutdown is called or ctx is canceled.
func (m *Mining) Run(ctx context.Context) {
	n := m.node

	tickMS := n.network.ConsensusTickMS
	if tickMS <= 0 {
		tickMS = 5000
	}
	ticker := time.NewTicker(time.Duration(tickMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.shut:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.attempt(ctx)
		case <-m.startMining:
			m.attempt(ctx)
		}
	}
}

// attempt drains the mempool and runs one mining round. Inbound blocks
// take n.mu during Append, so an attempt holds the lock only long
// enough to mine and append its own result, never across the solve
// loop itself — solve runs unlocked and watches cancelMining via ctx.
func (m *Mining) attempt(ctx context.Context) {
	n := m.node

	miningCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-m.cancelMining:
			cancel()
		case <-miningCtx.Done():
		}
	}()

	maxTxs := n.network.MaxBlockTxs
	if maxTxs <= 0 {
		maxTxs = 256
	}

	txs := n.mempool.Drain(maxTxs)
	if len(txs) == 0 {
		return
	}

	tip := n.chain.Tip()

	block, err := miner.Mine(miningCtx, n.beneficiaryID, tip, txs, n.chain.State(), n.evHandler)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			n.evHandler("node: mine: CANCELED")
			return
		}
		n.evHandler("node: mine: ERROR: %s", err)
		return
	}

	n.mu.Lock()
	err = n.chain.Append(block)
	n.mu.Unlock()

	if err != nil {
		n.evHandler("node: mine: blk[%d]: append failed: %s", block.Header.Index, err)
		return
	}

	for _, tx := range txs {
		n.mempool.Delete(tx)
	}

	n.evHandler("node: mine: blk[%d]: mined and appended", block.Header.Index)
	n.broadcastBlock(ctx, block)
}
