// Package consensus runs the cluster-wide reconciliation loop that
// keeps every peer's chain converging on the same tip: elect a leader
// from known peer statuses, pull whatever suffix a lagging follower is
// missing, and cross-check state roots once synced. It is grounded on
// the teacher's worker.Sync/state.Reorganize idiom, generalized from a
// one-shot peer poll into a ticking monitor with explicit leader
// election and fork walk-back.
package consensus

import (
	"context"
	"sort"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/peer"
)

// Peerer is the subset of node.Node the monitor needs. Kept as an
// interface so consensus_test.go can drive it against a fake without
// spinning up real TCP listeners, and so this package never imports
// node (node already imports everything consensus would need, and a
// back-import would cycle).
type Peerer interface {
	ID() string
	Peers() *peer.Set
	Tip() ledger.Block
	Height() uint64
	StateRoot() string
	ReplaceSuffix(fromHeight uint64, blocks []ledger.Block) error
	RequestPeerStatus(ctx context.Context, peerID string) (PeerStatus, error)
	RequestChainSuffix(ctx context.Context, peerID string, fromHeight uint64) ([]ledger.Block, error)
	RequestStateRoot(ctx context.Context, peerID string) (string, uint64, error)
}

// PeerStatus is the subset of a peer's reported status the monitor acts
// on, decoupled from the wire payload type the node package owns.
type PeerStatus struct {
	PeerID            string
	LatestBlockHash   string
	LatestBlockHeight uint64
}

// Config tunes reconciliation. ForkWalkback, when nonzero, has Tick
// re-sync from max(1, min(self,leader)-ForkWalkback) instead of
// min(self,leader) exactly,
// trading a larger suffix pull for resilience against a fork that
// diverged more than one block back.
type Config struct {
	ForkWalkback uint64
}

// Monitor runs the per-tick leader-election-and-reconcile cycle for
// one node.
type Monitor struct {
	node   Peerer
	cfg    Config
	tickMS int

	evHandler func(v string, args ...any)
}

// New constructs a Monitor for node, ticking at tickMS (CONSENSUS_TICK_MS).
func New(node Peerer, cfg Config, tickMS int, evHandler func(v string, args ...any)) *Monitor {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}
	if tickMS <= 0 {
		tickMS = 5000
	}

	return &Monitor{node: node, cfg: cfg, tickMS: tickMS, evHandler: evHandler}
}

// Run calls Tick every tickMS until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.tickMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick polls every known peer's status, elects a leader, and — if this
// node is not the leader and disagrees with it — reconciles.
func (m *Monitor) Tick(ctx context.Context) {
	peers := m.node.Peers().Copy(m.node.ID())
	if len(peers) == 0 {
		return
	}

	statuses := m.pollStatuses(ctx, peers)
	selfStatus := PeerStatus{
		PeerID:            m.node.ID(),
		LatestBlockHash:   m.node.Tip().Hash(),
		LatestBlockHeight: m.node.Height(),
	}
	statuses = append(statuses, selfStatus)

	leader := electLeader(statuses)
	if leader.PeerID == m.node.ID() {
		return
	}

	if leader.LatestBlockHeight == selfStatus.LatestBlockHeight && leader.LatestBlockHash == selfStatus.LatestBlockHash {
		return
	}

	m.reconcile(ctx, leader)
}

func (m *Monitor) pollStatuses(ctx context.Context, peers []peer.Peer) []PeerStatus {
	statuses := make([]PeerStatus, 0, len(peers))

	for _, p := range peers {
		status, err := m.node.RequestPeerStatus(ctx, p.ID)
		if err != nil {
			m.evHandler("consensus: poll: peer[%s]: ERROR: %s", p.ID, err)
			continue
		}
		statuses = append(statuses, status)
	}

	return statuses
}

// electLeader picks the status with the greatest height, breaking ties
// by the lexicographically smallest tip hash.
func electLeader(statuses []PeerStatus) PeerStatus {
	sort.Slice(statuses, func(i, j int) bool {
		a, b := statuses[i], statuses[j]
		if a.LatestBlockHeight != b.LatestBlockHeight {
			return a.LatestBlockHeight > b.LatestBlockHeight
		}
		return a.LatestBlockHash < b.LatestBlockHash
	})

	return statuses[0]
}

// reconcile pulls the suffix this node is missing from leader and
// replaces its own tail with it, then cross-checks the resulting state
// root against the leader's.
func (m *Monitor) reconcile(ctx context.Context, leader PeerStatus) {
	selfHeight := m.node.Height()

	fromHeight := selfHeight
	if leader.LatestBlockHeight < fromHeight {
		fromHeight = leader.LatestBlockHeight
	}
	if m.cfg.ForkWalkback > 0 {
		if fromHeight > m.cfg.ForkWalkback {
			fromHeight -= m.cfg.ForkWalkback
		} else {
			fromHeight = 1
		}
	}

	suffix, err := m.node.RequestChainSuffix(ctx, leader.PeerID, fromHeight)
	if err != nil {
		m.evHandler("consensus: reconcile: peer[%s]: request_chain: ERROR: %s", leader.PeerID, err)
		return
	}

	if len(suffix) == 0 {
		return
	}

	if err := m.node.ReplaceSuffix(fromHeight, suffix); err != nil {
		m.evHandler("consensus: reconcile: peer[%s]: replace_suffix: ERROR: %s", leader.PeerID, err)
		return
	}

	m.evHandler("consensus: reconcile: peer[%s]: replaced suffix from height[%d] with %d blocks", leader.PeerID, fromHeight, len(suffix))

	m.checkStateRoot(ctx, leader.PeerID)
}

// checkStateRoot compares this node's post-sync state root against the
// leader's and reports a divergence if they disagree: the two chains
// now agree on blocks but something about transaction application
// diverged, which the suffix pull alone cannot explain and a cluster
// operator needs to know about.
func (m *Monitor) checkStateRoot(ctx context.Context, peerID string) {
	leaderRoot, leaderHeight, err := m.node.RequestStateRoot(ctx, peerID)
	if err != nil {
		m.evHandler("consensus: check_state_root: peer[%s]: ERROR: %s", peerID, err)
		return
	}

	if leaderHeight != m.node.Height() {
		return
	}

	if leaderRoot != m.node.StateRoot() {
		err := bcerrors.New(bcerrors.StateDivergence, "state_root %s disagrees with peer[%s]'s %s at height %d", m.node.StateRoot(), peerID, leaderRoot, leaderHeight)
		m.evHandler("consensus: check_state_root: %s", err)
	}
}
