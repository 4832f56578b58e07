package node

import (
	"context"
	"sync"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/gossip"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/peer"
)

// maxSyncPoolTxs bounds how many mempool entries ride along in a
// SYNC_RESPONSE; the mempool itself is already bounded by MAX_MEMPOOL_SIZE.
const maxSyncPoolTxs = 1 << 20

// waiters correlates an outstanding request/response pair by message
// id: Request* methods register a channel here before sending, and
// Receive delivers a matching response envelope to it instead of
// running the default handler.
type waiters struct {
	mu sync.Mutex
	m  map[string]chan gossip.Envelope
}

func newWaiters() *waiters {
	return &waiters{m: make(map[string]chan gossip.Envelope)}
}

func (w *waiters) register(msgID string) chan gossip.Envelope {
	ch := make(chan gossip.Envelope, 1)
	w.mu.Lock()
	w.m[msgID] = ch
	w.mu.Unlock()
	return ch
}

func (w *waiters) forget(msgID string) {
	w.mu.Lock()
	delete(w.m, msgID)
	w.mu.Unlock()
}

func (w *waiters) deliver(msgID string, env gossip.Envelope) bool {
	w.mu.Lock()
	ch, ok := w.m[msgID]
	if ok {
		delete(w.m, msgID)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- env:
	default:
	}

	return true
}

// Receive dispatches one inbound envelope by type. Delivery is
// serialized per node: Listen invokes this for each frame under a
// lock, never concurrently, so the state engine only ever sees one
// mutation at a time from the network side (§5).
func (n *Node) Receive(ctx context.Context, env gossip.Envelope) {
	if env.MsgID != "" && n.waiters.deliver(env.MsgID, env) {
		return
	}

	switch env.Type {
	case gossip.Handshake:
		n.handleHandshake(env)
	case gossip.PeerList:
		n.handlePeerList(env)
	case gossip.NewTransaction:
		n.handleNewTransaction(env)
	case gossip.NewBlock:
		n.handleNewBlock(env)
	case gossip.RequestChain:
		n.handleRequestChain(ctx, env)
	case gossip.SyncRequest:
		n.handleSyncRequest(ctx, env)
	case gossip.StateSyncRequest:
		n.handleStateSyncRequest(ctx, env)
	case gossip.Ack, gossip.ResponseChain, gossip.SyncResponse, gossip.StateSyncResponse:
		n.evHandler("node: receive: unsolicited %s from %s dropped", env.Type, env.SenderID)
	default:
		n.evHandler("node: receive: unknown message type %d from %s", env.Type, env.SenderID)
	}
}

func (n *Node) handleHandshake(env gossip.Envelope) {
	hs, err := decode[handshakePayload](env.Payload)
	if err != nil {
		n.evHandler("node: handshake: ERROR: %s", err)
		return
	}

	n.mergePeer(peer.New(hs.NodeID, hs.ListenAddr))
	for _, p := range hs.Peers {
		n.mergePeer(p)
	}
}

func (n *Node) handlePeerList(env gossip.Envelope) {
	pl, err := decode[peerListPayload](env.Payload)
	if err != nil {
		n.evHandler("node: peer_list: ERROR: %s", err)
		return
	}

	for _, p := range pl.Peers {
		n.mergePeer(p)
	}
}

func (n *Node) mergePeer(p peer.Peer) {
	if p.ID == "" || p.ID == n.id {
		return
	}

	if n.peers.Add(p) {
		n.transport.AddPeer(p.ID, p.Address)
		n.evHandler("node: peers: learned new peer[%s]", p.ID)
	}
}

func (n *Node) handleNewTransaction(env gossip.Envelope) {
	signed, err := decode[ledger.SignedTx](env.Payload)
	if err != nil {
		n.evHandler("node: new_transaction: ERROR: %s", err)
		return
	}

	tx := ledger.BlockTx{SignedTx: signed}
	if err := n.mempool.Add(tx); err != nil {
		n.evHandler("node: new_transaction: from[%s]: REJECTED: %s", tx.From, err)
	}
}

func (n *Node) handleNewBlock(env gossip.Envelope) {
	bd, err := decode[ledger.BlockData](env.Payload)
	if err != nil {
		n.evHandler("node: new_block: ERROR: %s", err)
		return
	}

	block, err := ledger.ToBlock(bd)
	if err != nil {
		n.evHandler("node: new_block: ERROR: %s", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.chain.Append(block); err != nil {
		n.evHandler("node: new_block: blk[%d]: REJECTED: %s", block.Header.Index, err)
		return
	}

	n.dropMinedTxs(block)
	n.evHandler("node: new_block: blk[%d]: accepted from %s", block.Header.Index, env.SenderID)
}

func (n *Node) dropMinedTxs(block ledger.Block) {
	if block.Trans == nil {
		return
	}

	for _, tx := range block.Trans.Values() {
		n.mempool.Delete(tx)
	}
}

func (n *Node) handleRequestChain(ctx context.Context, env gossip.Envelope) {
	req, err := decode[requestChainPayload](env.Payload)
	if err != nil {
		n.evHandler("node: request_chain: ERROR: %s", err)
		return
	}

	resp := n.ServeChainSuffix(req.FromHeight)

	n.send(ctx, env.SenderID, gossip.Envelope{
		Type:    gossip.ResponseChain,
		Payload: encode(resp),
		MsgID:   env.MsgID,
	})
}

func (n *Node) handleSyncRequest(ctx context.Context, env gossip.Envelope) {
	resp := syncResponsePayload{
		Status: n.status(),
	}
	for _, tx := range n.mempool.Drain(maxSyncPoolTxs) {
		resp.Pool = append(resp.Pool, tx.SignedTx)
	}

	n.send(ctx, env.SenderID, gossip.Envelope{
		Type:    gossip.SyncResponse,
		Payload: encode(resp),
		MsgID:   env.MsgID,
	})
}

func (n *Node) handleStateSyncRequest(ctx context.Context, env gossip.Envelope) {
	resp := n.ServeStateSnapshot()

	n.send(ctx, env.SenderID, gossip.Envelope{
		Type:    gossip.StateSyncResponse,
		Payload: encode(resp),
		MsgID:   env.MsgID,
	})
}

func (n *Node) status() peer.Status {
	tip := n.chain.Tip()

	return peer.Status{
		LatestBlockHash:   tip.Hash(),
		LatestBlockHeight: tip.Header.Index,
		KnownPeers:        n.peers.Copy(n.id),
	}
}

func (n *Node) broadcastTx(ctx context.Context, tx ledger.BlockTx) {
	n.broadcast(ctx, gossip.Envelope{
		Type:    gossip.NewTransaction,
		Payload: encode(tx.SignedTx),
	})
}

func (n *Node) broadcastBlock(ctx context.Context, block ledger.Block) {
	n.broadcast(ctx, gossip.Envelope{
		Type:    gossip.NewBlock,
		Payload: encode(ledger.NewBlockData(block)),
	})
}
