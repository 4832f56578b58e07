package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/gossip"
)

// This client speaks only the documented wire schemas (§6): it shares
// no Go types with the node package, the same way an independent
// wallet implementation would have to.

const queryTimeout = 5 * time.Second

type stateSyncRequest struct {
	NodeID string `json:"node_id"`
}

type accountEntry struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type stateSyncResponse struct {
	StateRoot   string                  `json:"state_root"`
	BlockHeight uint64                  `json:"block_height"`
	NodeID      string                  `json:"node_id"`
	Accounts    map[string]accountEntry `json:"accounts"`
}

// queryState opens an ephemeral listener, sends a STATE_SYNC_REQUEST to
// nodeAddr carrying that listener's address as the reply-to, and waits
// for the correlated STATE_SYNC_RESPONSE.
func queryState(nodeAddr string) (stateSyncResponse, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return stateSyncResponse{}, fmt.Errorf("wallet: listen for reply: %w", err)
	}
	defer ln.Close()

	replyAddr := ln.Addr().String()

	respCh := make(chan gossip.Envelope, 1)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var env gossip.Envelope
		if err := json.NewDecoder(conn).Decode(&env); err != nil {
			return
		}

		select {
		case respCh <- env:
		default:
		}
	}()

	payload, err := json.Marshal(stateSyncRequest{NodeID: replyAddr})
	if err != nil {
		return stateSyncResponse{}, err
	}

	transport := gossip.NewTransport(nil)
	env := gossip.Envelope{
		Type:     gossip.StateSyncRequest,
		Payload:  string(payload),
		SenderID: replyAddr,
	}
	if err := transport.Send(ctx, nodeAddr, env); err != nil {
		return stateSyncResponse{}, fmt.Errorf("wallet: send state_sync_request: %w", err)
	}

	select {
	case resp := <-respCh:
		var out stateSyncResponse
		if err := json.Unmarshal([]byte(resp.Payload), &out); err != nil {
			return stateSyncResponse{}, fmt.Errorf("wallet: decode state_sync_response: %w", err)
		}
		return out, nil
	case <-ctx.Done():
		return stateSyncResponse{}, fmt.Errorf("wallet: timed out waiting for %s", nodeAddr)
	}
}

// expectedNonce mirrors ledger.Account.ExpectedNonce for the wire-level
// account entry: neverSentNonce marks an account that exists only as a
// credit recipient, which still expects nonce 0 for its first send.
const neverSentNonce = ^uint64(0)

func expectedNonce(accounts map[string]accountEntry, accountID string) uint64 {
	entry, exists := accounts[accountID]
	if !exists || entry.Nonce == neverSentNonce {
		return 0
	}
	return entry.Nonce + 1
}

// submitTx sends a signed transaction to nodeAddr as a NEW_TRANSACTION
// envelope. Delivery is best-effort, matching the core's wire semantics.
func submitTx(nodeAddr string, signedTx any) error {
	payload, err := json.Marshal(signedTx)
	if err != nil {
		return err
	}

	transport := gossip.NewTransport(nil)
	env := gossip.Envelope{
		Type:    gossip.NewTransaction,
		Payload: string(payload),
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	return transport.Send(ctx, nodeAddr, env)
}
