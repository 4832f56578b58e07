package peer_test

import (
	"testing"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/peer"
)

func Test_CRUD(t *testing.T) {
	type table struct {
		name  string
		peers []peer.Peer
	}

	tt := []table{
		{
			name: "basic",
			peers: []peer.Peer{
				{ID: "node-1", Address: "host1:9000"},
				{ID: "node-2", Address: "host2:9000"},
				{ID: "node-3", Address: "host3:9000"},
			},
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			set := peer.NewSet()

			for _, p := range tst.peers {
				if !set.Add(p) {
					t.Fatalf("Test %s:\texpected Add to report a new peer", tst.name)
				}
			}

			peers := set.Copy("")
			if len(peers) != len(tst.peers) {
				t.Fatalf("Test %s:\tgot %d peers, exp %d", tst.name, len(peers), len(tst.peers))
			}

			peers = set.Copy("node-2")
			if len(peers) != len(tst.peers)-1 {
				t.Fatalf("Test %s:\tgot %d peers excluding self, exp %d", tst.name, len(peers), len(tst.peers)-1)
			}

			addrs := set.Addresses()
			if addrs["node-1"] != "host1:9000" {
				t.Fatalf("Test %s:\tunexpected address for node-1: %s", tst.name, addrs["node-1"])
			}

			set.Remove("node-1")
			if len(set.Copy("")) != len(tst.peers)-1 {
				t.Fatalf("Test %s:\texpected node-1 to be removed", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_AddReportsFalseForExistingPeer(t *testing.T) {
	set := peer.NewSet()
	p := peer.New("node-1", "host1:9000")

	if !set.Add(p) {
		t.Fatalf("expected first Add to report true")
	}
	if set.Add(p) {
		t.Fatalf("expected second Add of the same peer to report false")
	}
}
