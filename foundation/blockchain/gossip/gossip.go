// Package gossip implements the peer wire protocol: line-delimited JSON
// envelopes over a reliable byte-stream transport, addressed unicast
// send, and broadcast-except-origin. It knows nothing about ledger,
// chain or state types — it moves opaque payload strings and leaves
// interpretation to the node dispatcher.
package gossip

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
)

// MessageType tags the payload carried by an Envelope.
type MessageType int

// The eleven message types the wire protocol carries.
const (
	Handshake MessageType = iota
	NewTransaction
	NewBlock
	RequestChain
	ResponseChain
	SyncRequest
	SyncResponse
	PeerList
	Ack
	StateSyncRequest
	StateSyncResponse
)

func (t MessageType) String() string {
	switch t {
	case Handshake:
		return "HANDSHAKE"
	case NewTransaction:
		return "NEW_TRANSACTION"
	case NewBlock:
		return "NEW_BLOCK"
	case RequestChain:
		return "REQUEST_CHAIN"
	case ResponseChain:
		return "RESPONSE_CHAIN"
	case SyncRequest:
		return "SYNC_REQUEST"
	case SyncResponse:
		return "SYNC_RESPONSE"
	case PeerList:
		return "PEER_LIST"
	case Ack:
		return "ACK"
	case StateSyncRequest:
		return "STATE_SYNC_REQUEST"
	case StateSyncResponse:
		return "STATE_SYNC_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Envelope is one frame of the wire protocol: `{"type":int,"payload":string,"sender_id":string,"msg_id":string}`.
// Payload is itself a JSON document whose schema is determined by Type;
// the node package owns unmarshaling it.
type Envelope struct {
	Type     MessageType `json:"type"`
	Payload  string      `json:"payload"`
	SenderID string      `json:"sender_id"`
	MsgID    string      `json:"msg_id"`
}

// Handler processes one inbound envelope. Delivery to Handler is
// serialized per node by the caller (the node package), never invoked
// concurrently for the same node.
type Handler func(from string, env Envelope)

// =============================================================================

// Transport dials peers on demand and accepts inbound connections,
// each frame read or written as one JSON object followed by a newline.
// It holds no knowledge of peer identity beyond the address map handed
// to it; the node package owns the peer table proper.
type Transport struct {
	mu        sync.RWMutex
	addresses map[string]string // peer_id -> address
	dialer    net.Dialer
	evHandler func(v string, args ...any)
}

// NewTransport constructs a Transport with no peers registered yet.
func NewTransport(evHandler func(v string, args ...any)) *Transport {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Transport{
		addresses: make(map[string]string),
		dialer:    net.Dialer{Timeout: 5 * time.Second},
		evHandler: evHandler,
	}
}

// AddPeer registers or updates the dial address for peerID.
func (t *Transport) AddPeer(peerID, address string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.addresses[peerID] = address
}

// RemovePeer forgets a peer's dial address.
func (t *Transport) RemovePeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.addresses, peerID)
}

// Peers returns a snapshot of known peer ids.
func (t *Transport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.addresses))
	for id := range t.addresses {
		ids = append(ids, id)
	}

	return ids
}

// Send dials peerID and writes a single envelope frame. Delivery is
// best-effort: the connection is opened, one frame written, and
// closed — there is no persistent connection pool.
// peerID is looked up in the registered address table; if it isn't
// there, peerID is tried verbatim as a dial address. This lets a
// one-shot client that isn't a tracked peer (a wallet submitting a
// transaction, say) address itself by its own listen address and still
// receive a reply.
func (t *Transport) Send(ctx context.Context, peerID string, env Envelope) error {
	t.mu.RLock()
	address, known := t.addresses[peerID]
	t.mu.RUnlock()

	if !known {
		address = peerID
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return bcerrors.New(bcerrors.PeerUnreachable, "dial %s: %s", address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gossip: marshal envelope: %w", err)
	}

	if _, err := conn.Write(append(data, '\n')); err != nil {
		return bcerrors.New(bcerrors.PeerUnreachable, "write to %s: %s", address, err)
	}

	return nil
}

// Broadcast sends env to every known peer except except. Per-peer
// failures are reported through evHandler and do not abort the
// broadcast of the remaining peers.
func (t *Transport) Broadcast(ctx context.Context, env Envelope, except string) {
	for _, peerID := range t.Peers() {
		if peerID == except {
			continue
		}

		if err := t.Send(ctx, peerID, env); err != nil {
			t.evHandler("gossip: broadcast: to[%s]: ERROR: %s", peerID, err)
		}
	}
}

// =============================================================================

// Listen accepts inbound connections on address, serving each on its
// own goroutine that reads line-delimited JSON envelopes until the
// connection closes and invokes handler for every one. Accept errors
// are reported through evHandler and do not stop the loop. It returns
// an error if address cannot be listened on, and nil once ctx is
// canceled.
func Listen(ctx context.Context, address string, handler Handler, evHandler func(v string, args ...any)) error {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("gossip: listen %s: %w", address, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				evHandler("gossip: accept: ERROR: %s", err)
				continue
			}
		}

		go serveConn(conn, handler, evHandler)
	}
}

func serveConn(conn net.Conn, handler Handler, evHandler func(v string, args ...any)) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			evHandler("gossip: decode frame from %s: ERROR: %s", conn.RemoteAddr(), err)
			continue
		}

		handler(conn.RemoteAddr().String(), env)
	}
}
