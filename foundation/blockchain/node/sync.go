package node

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/consensus"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/gossip"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
)

// defaultRequestTimeout bounds how long a synchronous Request* call
// waits for a correlated response before giving up, independent of the
// outbound retry budget governing the initial send.
const defaultRequestTimeout = 10 * time.Second

// request sends env to peerID, registers a waiter on its message id,
// and blocks for the matching response or until ctx/timeout expires.
func (n *Node) request(ctx context.Context, peerID string, env gossip.Envelope) (gossip.Envelope, error) {
	if env.MsgID == "" {
		env.MsgID = uuid.NewString()
	}

	ch := n.waiters.register(env.MsgID)
	defer n.waiters.forget(env.MsgID)

	env.SenderID = n.id
	if err := n.transport.Send(ctx, peerID, env); err != nil {
		return gossip.Envelope{}, err
	}

	timer := time.NewTimer(defaultRequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return gossip.Envelope{}, bcerrors.New(bcerrors.PeerUnreachable, "peer[%s]: no response within %s", peerID, defaultRequestTimeout)
	case <-ctx.Done():
		return gossip.Envelope{}, ctx.Err()
	}
}

// ServeChainSuffix builds the suffix a REQUEST_CHAIN for fromHeight is
// owed: every locally held block strictly above fromHeight.
func (n *Node) ServeChainSuffix(fromHeight uint64) responseChainPayload {
	blocks := n.chain.SuffixFrom(fromHeight)

	bds := make([]ledger.BlockData, len(blocks))
	for i, block := range blocks {
		bds[i] = ledger.NewBlockData(block)
	}

	return responseChainPayload{Blocks: bds}
}

// RequestChainSuffix asks peerID for every block it holds above
// fromHeight, per §5's peer request/response pairs.
func (n *Node) RequestChainSuffix(ctx context.Context, peerID string, fromHeight uint64) ([]ledger.Block, error) {
	resp, err := n.request(ctx, peerID, gossip.Envelope{
		Type:    gossip.RequestChain,
		Payload: encode(requestChainPayload{FromHeight: fromHeight}),
	})
	if err != nil {
		return nil, err
	}

	payload, err := decode[responseChainPayload](resp.Payload)
	if err != nil {
		return nil, err
	}

	blocks := make([]ledger.Block, len(payload.Blocks))
	for i, bd := range payload.Blocks {
		block, err := ledger.ToBlock(bd)
		if err != nil {
			return nil, fmt.Errorf("node: request_chain_suffix: block %d: %w", i, err)
		}
		blocks[i] = block
	}

	return blocks, nil
}

// ServeStateSnapshot builds the account table and state root a
// STATE_SYNC_REQUEST is owed.
func (n *Node) ServeStateSnapshot() stateSyncResponsePayload {
	engine := n.chain.State()

	accounts := make(map[string]accountEntry)
	for _, acc := range engine.Accounts() {
		accounts[string(acc.AccountID)] = accountEntry{Balance: acc.Balance, Nonce: acc.Nonce}
	}

	return stateSyncResponsePayload{
		StateRoot:   engine.Root(),
		BlockHeight: n.chain.Height(),
		NodeID:      n.id,
		Accounts:    accounts,
	}
}

// RequestStateSnapshot asks peerID for its current account table and
// state root, used to cross-check state roots after a chain sync.
func (n *Node) RequestStateSnapshot(ctx context.Context, peerID string) (stateSyncResponsePayload, error) {
	resp, err := n.request(ctx, peerID, gossip.Envelope{
		Type:    gossip.StateSyncRequest,
		Payload: encode(stateSyncRequestPayload{NodeID: n.id}),
	})
	if err != nil {
		return stateSyncResponsePayload{}, err
	}

	return decode[stateSyncResponsePayload](resp.Payload)
}

// RequestSyncData asks peerID for its chain status and pending mempool
// contents, grounded on the teacher's status-polling sync step.
func (n *Node) RequestSyncData(ctx context.Context, peerID string) (syncResponsePayload, error) {
	resp, err := n.request(ctx, peerID, gossip.Envelope{
		Type:    gossip.SyncRequest,
		Payload: encode(syncRequestPayload{NodeID: n.id}),
	})
	if err != nil {
		return syncResponsePayload{}, err
	}

	return decode[syncResponsePayload](resp.Payload)
}

// RequestPeerStatus satisfies consensus.Peerer: it fetches peerID's
// sync data, merges its known peers and mempool contents into this
// node (mirroring the teacher's worker.Sync, which folds every peer
// poll's side effects in immediately rather than deferring them to a
// second pass), and returns just the status fields the consensus
// monitor elects a leader from.
func (n *Node) RequestPeerStatus(ctx context.Context, peerID string) (consensus.PeerStatus, error) {
	data, err := n.RequestSyncData(ctx, peerID)
	if err != nil {
		return consensus.PeerStatus{}, err
	}

	for _, p := range data.Status.KnownPeers {
		n.mergePeer(p)
	}

	for _, signed := range data.Pool {
		tx := ledger.BlockTx{SignedTx: signed}
		if err := n.mempool.Add(tx); err != nil {
			n.evHandler("node: sync: from[%s]: mempool add: %s", peerID, err)
		}
	}

	return consensus.PeerStatus{
		PeerID:            peerID,
		LatestBlockHash:   data.Status.LatestBlockHash,
		LatestBlockHeight: data.Status.LatestBlockHeight,
	}, nil
}

// Handshake announces this node's identity and known peers to peerID;
// the receiver merges them. Nothing is sent back in reply: this node
// learns peerID's peers from the known_peers of its sync responses.
func (n *Node) Handshake(ctx context.Context, peerID, listenAddr string) {
	n.send(ctx, peerID, gossip.Envelope{
		Type: gossip.Handshake,
		Payload: encode(handshakePayload{
			NodeID:     n.id,
			ListenAddr: listenAddr,
			Peers:      n.peers.Copy(n.id),
		}),
	})
}
