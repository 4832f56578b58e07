// Package node composes the chain store, state engine, mempool, miner
// and peer table into one per-peer instance: the unit that actually
// runs on a machine and speaks the wire protocol to its peers.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/chain"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/genesis"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/gossip"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/mempool"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/miner"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/peer"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/state"
)

// Config carries the per-node identity fields from §6 that legitimately
// differ between peers in an otherwise identically configured cluster.
type Config struct {
	NodeID        string
	ListenAddr    string
	BeneficiaryID ledger.AccountID
	Peers         []peer.Peer
	Network       genesis.NetworkConfig
}

// minerConfig derives the block-timing bounds miner.Validate enforces
// from the cluster-wide network configuration.
func minerConfig(n genesis.NetworkConfig) miner.Config {
	return miner.Config{
		MinBlockTime:       n.MinBlockTime,
		MaxBlockFutureTime: n.MaxBlockFutureTime,
	}
}

// Node is a single peer: it hosts the chain/state/mempool/miner for
// one identity, dispatches inbound wire messages, and broadcasts the
// effects of local operations to the rest of the cluster.
type Node struct {
	id            string
	beneficiaryID ledger.AccountID
	network       genesis.NetworkConfig

	chain   *chain.Chain
	mempool *mempool.Mempool
	peers   *peer.Set

	transport *gossip.Transport
	pending   *pendingTable
	waiters   *waiters

	mu        sync.Mutex // serializes mining against inbound block application
	evHandler func(v string, args ...any)
}

// New constructs a Node seeded with genesisBlock and the genesis
// account balances, with every configured peer already registered.
func New(cfg Config, genesisBlock ledger.Block, balances map[ledger.AccountID]uint64, evHandler func(v string, args ...any)) *Node {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	id := cfg.NodeID
	if id == "" {
		id = uuid.NewString()
	}

	engine := state.New(balances, evHandler)
	mcfg := minerConfig(cfg.Network)
	ch := chain.New(genesisBlock, engine, mcfg, evHandler)

	mp := mempool.New(engine, cfg.Network.MaxMempoolSize, cfg.Network.MempoolEvictBatch, evHandler)

	peers := peer.NewSet()
	transport := gossip.NewTransport(evHandler)
	for _, p := range cfg.Peers {
		peers.Add(p)
		transport.AddPeer(p.ID, p.Address)
	}

	return &Node{
		id:            id,
		beneficiaryID: cfg.BeneficiaryID,
		network:       cfg.Network,
		chain:         ch,
		mempool:       mp,
		peers:         peers,
		transport:     transport,
		pending:       newPendingTable(1_000),
		waiters:       newWaiters(),
		evHandler:     evHandler,
	}
}

// ID returns this node's identity.
func (n *Node) ID() string {
	return n.id
}

// Chain exposes the chain store for read-mostly queries (height, tip,
// account lookups through Chain.State()).
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Mempool exposes the mempool for read-mostly queries (Count).
func (n *Node) Mempool() *mempool.Mempool {
	return n.mempool
}

// Peers exposes the peer table.
func (n *Node) Peers() *peer.Set {
	return n.peers
}

// Tip returns the current chain tip.
func (n *Node) Tip() ledger.Block {
	return n.chain.Tip()
}

// Height returns the current chain height.
func (n *Node) Height() uint64 {
	return n.chain.Height()
}

// StateRoot returns the committed state root.
func (n *Node) StateRoot() string {
	return n.chain.State().Root()
}

// ReplaceSuffix truncates the chain to fromHeight and replays blocks on
// top, serializing against any mining in flight.
func (n *Node) ReplaceSuffix(fromHeight uint64, blocks []ledger.Block) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.ReplaceSuffix(fromHeight, blocks)
}

// RequestStateRoot asks peerID for its state root and height, the
// narrow query consensus.Monitor needs for its post-sync cross-check.
func (n *Node) RequestStateRoot(ctx context.Context, peerID string) (string, uint64, error) {
	snap, err := n.RequestStateSnapshot(ctx, peerID)
	if err != nil {
		return "", 0, err
	}

	return snap.StateRoot, snap.BlockHeight, nil
}

// Listen starts accepting inbound wire connections on listenAddr,
// dispatching every decoded envelope to n.Receive one at a time, even
// when several connections deliver frames at once. It blocks until ctx
// is canceled.
func (n *Node) Listen(ctx context.Context, listenAddr string) error {
	var recvMu sync.Mutex
	return gossip.Listen(ctx, listenAddr, func(from string, env gossip.Envelope) {
		recvMu.Lock()
		defer recvMu.Unlock()
		n.Receive(ctx, env)
	}, n.evHandler)
}

// SubmitLocal admits a locally originated transaction to the mempool
// and broadcasts it to every peer.
func (n *Node) SubmitLocal(ctx context.Context, tx ledger.BlockTx) error {
	if err := n.mempool.Add(tx); err != nil {
		return err
	}

	n.broadcastTx(ctx, tx)

	return nil
}

func (n *Node) send(ctx context.Context, peerID string, env gossip.Envelope) {
	env.SenderID = n.id
	if env.MsgID == "" {
		env.MsgID = uuid.NewString()
	}

	if err := n.transport.Send(ctx, peerID, env); err != nil {
		n.evHandler("node: send: to[%s]: ERROR: %s", peerID, err)
		n.pending.add(pendingMessage{peerID: peerID, env: env, attempts: 1, nextAt: time.Now().Add(n.retryDelay())})
	}
}

func (n *Node) broadcast(ctx context.Context, env gossip.Envelope) {
	env.SenderID = n.id
	if env.MsgID == "" {
		env.MsgID = uuid.NewString()
	}

	n.transport.Broadcast(ctx, env, n.id)
}

func (n *Node) retryDelay() time.Duration {
	if n.network.RetryTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.network.RetryTimeoutS) * time.Second
}

func (n *Node) maxRetries() int {
	if n.network.MaxRetries <= 0 {
		return 3
	}
	return n.network.MaxRetries
}

// RunRetryLoop periodically resends pending outbound messages that
// previously failed, up to MAX_RETRIES, until ctx is canceled. §5:
// "Per-node pending outbound retries ... bounded (MAX_PENDING_MESSAGES)".
func (n *Node) RunRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(n.retryDelay())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due := n.pending.due(n.maxRetries())
			for _, pm := range due {
				if err := n.transport.Send(ctx, pm.peerID, pm.env); err != nil {
					pm.attempts++
					pm.nextAt = time.Now().Add(n.retryDelay())
					if pm.attempts <= n.maxRetries() {
						n.pending.add(pm)
					} else {
						n.evHandler("node: retry: to[%s]: giving up after %d attempts", pm.peerID, pm.attempts-1)
					}
				}
			}
		}
	}
}
