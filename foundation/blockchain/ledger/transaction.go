package ledger

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/signature"
)

// Tx is a value transfer with replay protection. Field order here is the
// declaration order used for canonical encoding and is load-bearing: it
// must match the order described in the data model, since tx_id and
// every signature are hashes over this exact JSON encoding.
type Tx struct {
	From      AccountID `json:"from"`
	To        AccountID `json:"to"`
	Amount    uint64    `json:"amount"`
	GasPrice  uint64    `json:"gas_price"`
	Nonce     uint64    `json:"nonce"`
	Timestamp string    `json:"timestamp"`
}

// NewTx constructs a transaction, validating the fields that don't
// require chain state (self-transfer, non-positive amount).
func NewTx(from, to AccountID, amount, gasPrice, nonce uint64, timestamp string) (Tx, error) {
	if from == "" || to == "" {
		return Tx{}, errors.New("from and to accounts must be provided")
	}
	if from == to {
		return Tx{}, errors.New("transaction cannot transfer to the same account")
	}
	if amount == 0 {
		return Tx{}, errors.New("amount must be greater than zero")
	}

	tx := Tx{
		From:      from,
		To:        to,
		Amount:    amount,
		GasPrice:  gasPrice,
		Nonce:     nonce,
		Timestamp: timestamp,
	}

	return tx, nil
}

// ID computes tx_id: the hash of the canonical encoding of every field
// except the signature and the id itself. Since Tx carries no
// signature/id fields, hashing the Tx value directly satisfies that.
func (tx Tx) ID() string {
	return signature.Hash(tx)
}

// Sign produces a SignedTx for tx using privateKey.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	signedTx := SignedTx{
		Tx: tx,
		ID: tx.ID(),
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// =============================================================================

// SignedTx is a Tx plus the signature binding it to a keypair.
type SignedTx struct {
	Tx
	ID string   `json:"tx_id"`
	V  *big.Int `json:"v"`
	R  *big.Int `json:"r"`
	S  *big.Int `json:"s"`
}

// Validate checks the rule-1..4 properties that don't depend on chain
// state: signature validity, tx_id recomputation, and the malformed-tx
// predicates from the data model invariant.
func (tx SignedTx) Validate() error {
	if tx.From == tx.To {
		return errors.New("transaction cannot transfer to the same account")
	}
	if tx.Amount == 0 {
		return errors.New("amount must be greater than zero")
	}
	if !tx.From.IsAccountID() || !tx.To.IsAccountID() {
		return errors.New("from and to accounts must be well-formed addresses")
	}
	if tx.ID != tx.Tx.ID() {
		return errors.New("tx_id does not match the recomputed canonical hash")
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return fmt.Errorf("invalid signature values: %w", err)
	}

	return nil
}

// FromAccount recovers the sending account from the signature, which
// must match tx.From for the transaction to be admissible.
func (tx SignedTx) FromAccount() (AccountID, error) {
	addr, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	if err != nil {
		return "", err
	}

	return AccountID(addr), nil
}

// SignatureString renders the transaction's signature as a hex string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

func (tx SignedTx) String() string {
	return fmt.Sprintf("%s:%d", tx.From, tx.Nonce)
}

// =============================================================================

// BlockTx is the unit of data stored in a block's merkle tree. It
// implements merkle.Hashable[BlockTx].
type BlockTx struct {
	SignedTx
}

// Hash implements merkle.Hashable. It hashes the canonical encoding of
// the signed transaction, matching the digest used for tx_id so a
// client can verify membership using the same primitive it already
// trusts.
func (tx BlockTx) Hash() ([]byte, error) {
	return hexutil.Decode(signature.Hash(tx.SignedTx))
}

// Equals implements merkle.Hashable.
func (tx BlockTx) Equals(other BlockTx) bool {
	return tx.ID == other.ID
}
