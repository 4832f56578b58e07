package node

import (
	"encoding/json"
	"fmt"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/peer"
)

// handshakePayload is exchanged on first contact between two nodes: it
// lets each side learn the other's listen address and already-known
// peers, per the supplemented peer-discovery-among-configured-peers
// feature.
type handshakePayload struct {
	NodeID     string      `json:"node_id"`
	ListenAddr string      `json:"listen_addr"`
	Peers      []peer.Peer `json:"known_peers"`
}

type peerListPayload struct {
	Peers []peer.Peer `json:"peers"`
}

type requestChainPayload struct {
	FromHeight uint64 `json:"from_height"`
}

type responseChainPayload struct {
	Blocks []ledger.BlockData `json:"blocks"`
}

type accountEntry struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type stateSyncRequestPayload struct {
	NodeID string `json:"node_id"`
}

type stateSyncResponsePayload struct {
	StateRoot   string                  `json:"state_root"`
	BlockHeight uint64                  `json:"block_height"`
	NodeID      string                  `json:"node_id"`
	Accounts    map[string]accountEntry `json:"accounts"`
}

type syncRequestPayload struct {
	NodeID string `json:"node_id"`
}

type syncResponsePayload struct {
	Status peer.Status       `json:"status"`
	Pool   []ledger.SignedTx `json:"pool"`
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func decode[T any](payload string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return v, fmt.Errorf("node: decode payload: %w", err)
	}
	return v, nil
}
