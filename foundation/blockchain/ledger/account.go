// Package ledger holds the core data model of the chain: transactions,
// blocks and accounts, along with the canonical encode/decode and
// tx_id/block_hash derivations described for the Ledger types. It
// performs no I/O of its own.
package ledger

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
)

// NeverSent is the sentinel nonce value an account carries before it has
// ever sent a transaction. An account created only by being the
// recipient of a credit starts here, not at 0, so the first transaction
// it ever sends is still required to carry nonce 0.
const NeverSent = ^uint64(0)

// AccountID is an opaque address: a hash of a public key, hex encoded.
type AccountID string

// Account is the balance/nonce pair the state engine tracks per address.
type Account struct {
	AccountID AccountID `json:"account_id"`
	Balance   uint64    `json:"balance"`
	Nonce     uint64    `json:"nonce"`
}

// NewAccount constructs an account freshly created by a credit, with no
// transactions sent from it yet.
func NewAccount(id AccountID, balance uint64) Account {
	return Account{
		AccountID: id,
		Balance:   balance,
		Nonce:     NeverSent,
	}
}

// ExpectedNonce returns the nonce a transaction from this account must
// carry next. Per the apply rules, an account that exists but has never
// sent a transaction still expects nonce 0, not Nonce+1 — credits don't
// consume a send slot.
func (a Account) ExpectedNonce() uint64 {
	if a.Nonce == NeverSent {
		return 0
	}
	return a.Nonce + 1
}

// ToAccountID validates hex is a well-formed account address and returns
// it as an AccountID.
func ToAccountID(hex string) (AccountID, error) {
	a := AccountID(hex)
	if !a.IsAccountID() {
		return "", errors.New("invalid account format")
	}

	return a, nil
}

// PublicKeyToAccountID derives the address for a public key.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(crypto.PubkeyToAddress(pk).String())
}

// IsAccountID reports whether a is a well-formed hex-encoded address.
func (a AccountID) IsAccountID() bool {
	const addressLength = 20

	if has0xPrefix(a) {
		a = a[2:]
	}

	return len(a) == 2*addressLength && isHex(a)
}

func has0xPrefix(a AccountID) bool {
	return len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X')
}

func isHex(a AccountID) bool {
	if len(a)%2 != 0 {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// =============================================================================

// ByAddress sorts accounts in byte-lexicographic order of their address,
// the order the state root commitment and the genesis balance table both
// require.
type ByAddress []Account

func (b ByAddress) Len() int           { return len(b) }
func (b ByAddress) Less(i, j int) bool { return b[i].AccountID < b[j].AccountID }
func (b ByAddress) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
