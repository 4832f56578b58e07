package consensus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/consensus"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/peer"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/signature"
)

// fakePeerer drives consensus.Monitor without any real chain, state or
// transport: just enough recorded state to assert on leader election
// and reconcile behavior.
type fakePeerer struct {
	id        string
	peers     *peer.Set
	tip       ledger.Block
	height    uint64
	stateRoot string

	statuses     map[string]consensus.PeerStatus
	suffixes     map[string][]ledger.Block
	remoteRoots  map[string]string
	remoteHeight map[string]uint64

	replacedFrom uint64
	replacedWith []ledger.Block
}

func (f *fakePeerer) ID() string        { return f.id }
func (f *fakePeerer) Peers() *peer.Set  { return f.peers }
func (f *fakePeerer) Tip() ledger.Block { return f.tip }
func (f *fakePeerer) Height() uint64    { return f.height }
func (f *fakePeerer) StateRoot() string { return f.stateRoot }

func (f *fakePeerer) ReplaceSuffix(fromHeight uint64, blocks []ledger.Block) error {
	f.replacedFrom = fromHeight
	f.replacedWith = blocks
	f.height = fromHeight + uint64(len(blocks)) - 1
	return nil
}

func (f *fakePeerer) RequestPeerStatus(ctx context.Context, peerID string) (consensus.PeerStatus, error) {
	status, ok := f.statuses[peerID]
	if !ok {
		return consensus.PeerStatus{}, errors.New("unknown peer")
	}
	return status, nil
}

func (f *fakePeerer) RequestChainSuffix(ctx context.Context, peerID string, fromHeight uint64) ([]ledger.Block, error) {
	return f.suffixes[peerID], nil
}

func (f *fakePeerer) RequestStateRoot(ctx context.Context, peerID string) (string, uint64, error) {
	return f.remoteRoots[peerID], f.remoteHeight[peerID], nil
}

func newFake(id string, height uint64) *fakePeerer {
	set := peer.NewSet()
	return &fakePeerer{
		id:           id,
		peers:        set,
		tip:          ledger.Block{Header: ledger.BlockHeader{Index: height}},
		height:       height,
		statuses:     map[string]consensus.PeerStatus{},
		suffixes:     map[string][]ledger.Block{},
		remoteRoots:  map[string]string{},
		remoteHeight: map[string]uint64{},
	}
}

func Test_TickNoopWhenAlreadyLeader(t *testing.T) {
	self := newFake("self", 10)
	self.peers.Add(peer.New("behind", "x"))
	self.statuses["behind"] = consensus.PeerStatus{PeerID: "behind", LatestBlockHeight: 5, LatestBlockHash: "aaaa"}

	m := consensus.New(self, consensus.Config{}, 1000, nil)
	m.Tick(context.Background())

	if self.replacedWith != nil {
		t.Fatalf("leader should never reconcile, got replace from %d", self.replacedFrom)
	}
}

func Test_TickReconcilesWhenBehind(t *testing.T) {
	self := newFake("self", 3)
	self.peers.Add(peer.New("ahead", "x"))
	self.statuses["ahead"] = consensus.PeerStatus{PeerID: "ahead", LatestBlockHeight: 6, LatestBlockHash: "ffff"}
	self.suffixes["ahead"] = []ledger.Block{
		{Header: ledger.BlockHeader{Index: 3}},
		{Header: ledger.BlockHeader{Index: 4}},
		{Header: ledger.BlockHeader{Index: 5}},
		{Header: ledger.BlockHeader{Index: 6}},
	}
	self.remoteRoots["ahead"] = "root-x"
	self.remoteHeight["ahead"] = 6

	m := consensus.New(self, consensus.Config{}, 1000, nil)
	m.Tick(context.Background())

	if self.replacedFrom != 3 {
		t.Fatalf("replacedFrom: got %d, exp 3", self.replacedFrom)
	}
	if len(self.replacedWith) != 4 {
		t.Fatalf("replacedWith: got %d blocks, exp 4", len(self.replacedWith))
	}
}

func Test_TickUsesForkWalkback(t *testing.T) {
	self := newFake("self", 10)
	self.peers.Add(peer.New("ahead", "x"))
	self.statuses["ahead"] = consensus.PeerStatus{PeerID: "ahead", LatestBlockHeight: 12, LatestBlockHash: "ffff"}
	for i := uint64(7); i <= 12; i++ {
		self.suffixes["ahead"] = append(self.suffixes["ahead"], ledger.Block{Header: ledger.BlockHeader{Index: i}})
	}
	self.remoteRoots["ahead"] = "root-x"
	self.remoteHeight["ahead"] = 12

	m := consensus.New(self, consensus.Config{ForkWalkback: 4}, 1000, nil)
	m.Tick(context.Background())

	// min(self 10, leader 12) = 10, walked back 4 -> 6.
	if self.replacedFrom != 6 {
		t.Fatalf("replacedFrom: got %d, exp 6", self.replacedFrom)
	}
}

func Test_ElectLeaderTieBreaksOnHash(t *testing.T) {
	self := newFake("self", 5)
	self.peers.Add(peer.New("tied", "x"))
	self.statuses["tied"] = consensus.PeerStatus{PeerID: "tied", LatestBlockHeight: 5, LatestBlockHash: signature.ZeroHash}
	self.suffixes["tied"] = []ledger.Block{{Header: ledger.BlockHeader{Index: 5}}}
	self.remoteRoots["tied"] = "root-tied"
	self.remoteHeight["tied"] = 5

	m := consensus.New(self, consensus.Config{}, 1000, nil)
	m.Tick(context.Background())

	if self.replacedWith == nil {
		t.Fatalf("self should lose the hash tie-break to the lexicographically smaller hash and reconcile")
	}
}

func Test_PollStatusesSkipsUnreachablePeers(t *testing.T) {
	self := newFake("self", 5)
	self.peers.Add(peer.New("ghost", "x"))

	m := consensus.New(self, consensus.Config{}, 1000, nil)
	m.Tick(context.Background())

	if self.replacedWith != nil {
		t.Fatalf("an unreachable-only peer set should leave self alone, got replace from %d", self.replacedFrom)
	}
}
