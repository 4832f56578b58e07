// Package peer maintains a node's peer table: the mapping from peer id
// to dial address that the node and gossip transport use to address
// outbound sends.
package peer

import (
	"sync"
)

// Peer identifies one other node in the network by its id and the
// address the gossip transport dials to reach it.
type Peer struct {
	ID      string
	Address string
}

// New constructs a Peer value.
func New(id, address string) Peer {
	return Peer{ID: id, Address: address}
}

// Match reports whether id identifies this peer.
func (p Peer) Match(id string) bool {
	return p.ID == id
}

// =============================================================================

// Status is what a peer reports about itself in a SYNC_RESPONSE: its
// latest block, and the other peers it already knows about (used to
// seed this node's own table without unauthenticated open discovery).
type Status struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockHeight uint64 `json:"latest_block_height"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// Set is the read-mostly, lock-guarded table of known peers (§4.7,
// §5 "Peer table: read-mostly, guarded by a lock").
type Set struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewSet constructs an empty peer table.
func NewSet() *Set {
	return &Set{set: make(map[string]Peer)}
}

// Add registers or updates peer, reporting whether it was new. Used
// both for configured peers at startup and for peers merged in from a
// HANDSHAKE/PEER_LIST message (§5 supplemented feature).
func (s *Set) Add(p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.set[p.ID]
	s.set[p.ID] = p

	return !exists
}

// Remove forgets a peer.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.set, id)
}

// Copy returns every known peer except self.
func (s *Set) Copy(self string) []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var peers []Peer
	for id, p := range s.set {
		if id != self {
			peers = append(peers, p)
		}
	}

	return peers
}

// Addresses returns the peer-id-to-address map the gossip transport
// needs to dial.
func (s *Set) Addresses() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make(map[string]string, len(s.set))
	for id, p := range s.set {
		addrs[id] = p.Address
	}

	return addrs
}
