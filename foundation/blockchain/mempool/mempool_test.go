package mempool_test

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/mempool"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/state"
)

// testSender generates a fresh keypair and returns its account id
// alongside the private key, so callers can sign genuine transactions
// that pass recovery-based validation.
func testSender(t *testing.T) (ledger.AccountID, *ecdsa.PrivateKey) {
	t.Helper()

	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %s", err)
	}

	return ledger.PublicKeyToAccountID(pk.PublicKey), pk
}

func testTx(t *testing.T, pk *ecdsa.PrivateKey, from, to ledger.AccountID, nonce uint64) ledger.BlockTx {
	t.Helper()

	tx, err := ledger.NewTx(from, to, 100, 1, nonce, "2026-01-01 00:00:00")
	if err != nil {
		t.Fatalf("NewTx: %s", err)
	}

	signed, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}

	return ledger.BlockTx{SignedTx: signed}
}

func newEngine(balances map[ledger.AccountID]uint64) *state.Engine {
	return state.New(balances, nil)
}

func Test_AddAcceptsValidFirstNonce(t *testing.T) {
	from, pk := testSender(t)
	to, _ := testSender(t)

	engine := newEngine(map[ledger.AccountID]uint64{from: 1000})
	mp := mempool.New(engine, 10, 2, nil)

	tx := testTx(t, pk, from, to, 0)
	if err := mp.Add(tx); err != nil {
		t.Fatalf("Add: %s", err)
	}

	if got := mp.Count(); got != 1 {
		t.Fatalf("Count: got %d, exp 1", got)
	}
}

func Test_AddRejectsSecondPendingTxFromSameSender(t *testing.T) {
	from, pk := testSender(t)
	toA, _ := testSender(t)
	toB, _ := testSender(t)

	engine := newEngine(map[ledger.AccountID]uint64{from: 1000})
	mp := mempool.New(engine, 10, 2, nil)

	first := testTx(t, pk, from, toA, 0)
	if err := mp.Add(first); err != nil {
		t.Fatalf("Add first: %s", err)
	}

	second := testTx(t, pk, from, toB, 0)
	err := mp.Add(second)
	if err == nil {
		t.Fatalf("expected a second pending tx from the same sender to be rejected")
	}
	if !bcerrors.Is(err, bcerrors.BadNonce) {
		t.Fatalf("expected BadNonce, got %s", err)
	}

	if got := mp.Count(); got != 1 {
		t.Fatalf("Count: got %d, exp 1 (second tx must not have been admitted)", got)
	}
}

func Test_AddRejectsBadNonceAgainstCommittedState(t *testing.T) {
	from, pk := testSender(t)
	to, _ := testSender(t)

	engine := newEngine(map[ledger.AccountID]uint64{from: 1000})
	mp := mempool.New(engine, 10, 2, nil)

	tx := testTx(t, pk, from, to, 1) // committed state expects nonce 0
	if err := mp.Add(tx); err == nil {
		t.Fatalf("expected BadNonce for a tx whose nonce skips ahead of committed state")
	}
}

func Test_DeleteRemovesFromFIFOOrder(t *testing.T) {
	fromA, pkA := testSender(t)
	fromB, pkB := testSender(t)
	to, _ := testSender(t)

	engine := newEngine(map[ledger.AccountID]uint64{
		fromA: 1000,
		fromB: 1000,
	})
	mp := mempool.New(engine, 10, 2, nil)

	txA := testTx(t, pkA, fromA, to, 0)
	txB := testTx(t, pkB, fromB, to, 0)

	if err := mp.Add(txA); err != nil {
		t.Fatalf("Add txA: %s", err)
	}
	if err := mp.Add(txB); err != nil {
		t.Fatalf("Add txB: %s", err)
	}

	mp.Delete(txA)

	if got := mp.Count(); got != 1 {
		t.Fatalf("Count: got %d, exp 1", got)
	}

	drained := mp.Drain(10)
	if len(drained) != 1 || drained[0].From != fromB {
		t.Fatalf("expected only txB to remain, got %+v", drained)
	}
}

func Test_TruncateClearsPool(t *testing.T) {
	from, pk := testSender(t)
	to, _ := testSender(t)

	engine := newEngine(map[ledger.AccountID]uint64{from: 1000})
	mp := mempool.New(engine, 10, 2, nil)

	if err := mp.Add(testTx(t, pk, from, to, 0)); err != nil {
		t.Fatalf("Add: %s", err)
	}

	mp.Truncate()

	if got := mp.Count(); got != 0 {
		t.Fatalf("Count after Truncate: got %d, exp 0", got)
	}
}

func Test_DrainPreservesArrivalOrder(t *testing.T) {
	to, _ := testSender(t)

	balances := make(map[ledger.AccountID]uint64)
	type senderKey struct {
		id ledger.AccountID
		pk *ecdsa.PrivateKey
	}
	var senders []senderKey
	for i := 0; i < 4; i++ {
		id, pk := testSender(t)
		senders = append(senders, senderKey{id, pk})
		balances[id] = 1000
	}

	engine := newEngine(balances)
	mp := mempool.New(engine, 10, 2, nil)

	for _, s := range senders {
		if err := mp.Add(testTx(t, s.pk, s.id, to, 0)); err != nil {
			t.Fatalf("Add %s: %s", s.id, err)
		}
	}

	drained := mp.Drain(2)
	if len(drained) != 2 {
		t.Fatalf("Drain(2): got %d txs, exp 2", len(drained))
	}
	if drained[0].From != senders[0].id || drained[1].From != senders[1].id {
		t.Fatalf("Drain did not preserve FIFO arrival order: got %+v", drained)
	}
}

func Test_EvictionUnderFlood(t *testing.T) {
	const maxSize = 10
	const evictBatch = 3

	to, _ := testSender(t)

	balances := make(map[ledger.AccountID]uint64)
	type senderKey struct {
		id ledger.AccountID
		pk *ecdsa.PrivateKey
	}
	var senders []senderKey
	for i := 0; i < maxSize+1; i++ {
		id, pk := testSender(t)
		senders = append(senders, senderKey{id, pk})
		balances[id] = 1000
	}

	engine := newEngine(balances)
	mp := mempool.New(engine, maxSize, evictBatch, nil)

	for _, s := range senders {
		if err := mp.Add(testTx(t, s.pk, s.id, to, 0)); err != nil {
			t.Fatalf("Add %s: %s", s.id, err)
		}
	}

	exp := maxSize - evictBatch + 1
	if got := mp.Count(); got != exp {
		t.Fatalf("Count: got %d, exp %d", got, exp)
	}

	// The evicted senders must be the oldest evictBatch entries; the
	// newest sender (the one that triggered eviction) must survive.
	drained := mp.Drain(exp)
	last := senders[len(senders)-1].id
	found := false
	for _, tx := range drained {
		if tx.From == last {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the triggering sender %s to survive eviction", last)
	}
}
