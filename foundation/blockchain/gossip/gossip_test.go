package gossip_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/gossip"
)

func Test_MessageTypeString(t *testing.T) {
	tt := []struct {
		typ gossip.MessageType
		exp string
	}{
		{gossip.Handshake, "HANDSHAKE"},
		{gossip.NewTransaction, "NEW_TRANSACTION"},
		{gossip.NewBlock, "NEW_BLOCK"},
		{gossip.RequestChain, "REQUEST_CHAIN"},
		{gossip.ResponseChain, "RESPONSE_CHAIN"},
		{gossip.SyncRequest, "SYNC_REQUEST"},
		{gossip.SyncResponse, "SYNC_RESPONSE"},
		{gossip.PeerList, "PEER_LIST"},
		{gossip.Ack, "ACK"},
		{gossip.StateSyncRequest, "STATE_SYNC_REQUEST"},
		{gossip.StateSyncResponse, "STATE_SYNC_RESPONSE"},
	}

	for _, tst := range tt {
		if got := tst.typ.String(); got != tst.exp {
			t.Fatalf("String(%d): got %s, exp %s", tst.typ, got, tst.exp)
		}
	}
}

func Test_SendDeliversEnvelopeToListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []gossip.Envelope

	handler := func(from string, env gossip.Envelope) {
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
	}

	ready := make(chan struct{})
	go func() {
		close(ready)
		gossip.Listen(ctx, "127.0.0.1:18733", handler, nil)
	}()
	<-ready
	time.Sleep(50 * time.Millisecond)

	transport := gossip.NewTransport(nil)
	transport.AddPeer("peer-1", "127.0.0.1:18733")

	env := gossip.Envelope{Type: gossip.NewTransaction, Payload: `{"hello":"world"}`, SenderID: "node-a"}
	if err := transport.Send(context.Background(), "peer-1", env); err != nil {
		t.Fatalf("Send: %s", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 envelope delivered, got %d", len(received))
	}
	if received[0].Type != gossip.NewTransaction || received[0].SenderID != "node-a" {
		t.Fatalf("unexpected envelope: %+v", received[0])
	}
}

func Test_SendToUnknownPeerFails(t *testing.T) {
	transport := gossip.NewTransport(nil)

	err := transport.Send(context.Background(), "ghost", gossip.Envelope{Type: gossip.Ack})
	if err == nil {
		t.Fatalf("expected an error sending to an unregistered peer")
	}
}
