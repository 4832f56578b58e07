// Package state implements the account-balance state machine: applying
// an ordered list of transactions to an account table and computing the
// resulting state root.
package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/signature"
)

// Engine owns the current account table and knows how to apply
// transactions to it, producing a new table and a state root. It holds
// no chain/mempool knowledge of its own; chain and mempool each keep
// their own Engine snapshot/copy as needed.
type Engine struct {
	mu       sync.RWMutex
	accounts map[ledger.AccountID]ledger.Account
	evHandler func(v string, args ...any)
}

// New constructs an Engine seeded with the genesis balances.
func New(balances map[ledger.AccountID]uint64, evHandler func(v string, args ...any)) *Engine {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	accounts := make(map[ledger.AccountID]ledger.Account, len(balances))
	for id, balance := range balances {
		accounts[id] = ledger.NewAccount(id, balance)
	}

	return &Engine{
		accounts:  accounts,
		evHandler: evHandler,
	}
}

// Copy returns a deep copy of the engine's account table, used by chain
// replay and speculative validation so a failed apply never mutates the
// committed table.
func (e *Engine) Copy() *Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()

	accounts := make(map[ledger.AccountID]ledger.Account, len(e.accounts))
	for id, acc := range e.accounts {
		accounts[id] = acc
	}

	return &Engine{
		accounts:  accounts,
		evHandler: e.evHandler,
	}
}

// Account returns a copy of the account for id, and whether it exists.
func (e *Engine) Account(id ledger.AccountID) (ledger.Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acc, exists := e.accounts[id]
	return acc, exists
}

// Accounts returns a byte-lexicographically sorted snapshot of the
// entire account table.
func (e *Engine) Accounts() []ledger.Account {
	e.mu.RLock()
	defer e.mu.RUnlock()

	accounts := make([]ledger.Account, 0, len(e.accounts))
	for _, acc := range e.accounts {
		accounts = append(accounts, acc)
	}

	sort.Sort(ledger.ByAddress(accounts))

	return accounts
}

// ValidateTx runs apply rules 1..4 against the committed table without
// mutating it — the check the mempool uses on admission.
func (e *Engine) ValidateTx(tx ledger.BlockTx) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.checkApply(tx)
	return err
}

// Apply runs apply rules 1..5 for every transaction in txs, in order,
// against the committed table. It is all-or-nothing: if any transaction
// fails, the table is left completely unchanged and the first error is
// returned. On success the table is updated in place and the resulting
// state root is returned.
func (e *Engine) Apply(txs []ledger.BlockTx) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	working := make(map[ledger.AccountID]ledger.Account, len(e.accounts))
	for id, acc := range e.accounts {
		working[id] = acc
	}

	for _, tx := range txs {
		if err := applyOne(working, tx); err != nil {
			return "", err
		}
	}

	e.accounts = working

	return e.rootLocked(), nil
}

// Root returns the current state root without mutating anything.
func (e *Engine) Root() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.rootLocked()
}

// rootLocked computes the flat state-root commitment: a canonical
// encoding of the sorted account table, hashed. Callers must hold e.mu.
func (e *Engine) rootLocked() string {
	accounts := make([]ledger.Account, 0, len(e.accounts))
	for _, acc := range e.accounts {
		accounts = append(accounts, acc)
	}
	sort.Sort(ledger.ByAddress(accounts))

	type entry struct {
		Balance uint64 `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}

	table := make(map[ledger.AccountID]entry, len(accounts))
	for _, acc := range accounts {
		table[acc.AccountID] = entry{Balance: acc.Balance, Nonce: acc.Nonce}
	}

	return signature.Hash(table)
}

// checkApply runs rules 1..4 against accounts without mutating it,
// returning the resolved sender account on success.
func (e *Engine) checkApply(tx ledger.BlockTx) (ledger.Account, error) {
	if err := verifySignature(tx); err != nil {
		return ledger.Account{}, err
	}

	sender, exists := e.accounts[tx.From]
	expected := uint64(0)
	if exists {
		expected = sender.ExpectedNonce()
	}
	if tx.Nonce != expected {
		return ledger.Account{}, bcerrors.New(bcerrors.BadNonce, "tx nonce %d does not match expected nonce %d for %s", tx.Nonce, expected, tx.From)
	}

	if sender.Balance < tx.Amount+tx.GasPrice {
		return ledger.Account{}, bcerrors.New(bcerrors.InsufficientBalance, "%s has balance %d, needs %d", tx.From, sender.Balance, tx.Amount+tx.GasPrice)
	}

	if err := checkMalformed(tx); err != nil {
		return ledger.Account{}, err
	}

	return sender, nil
}

// applyOne runs rules 1..5 against working, mutating it on success.
func applyOne(working map[ledger.AccountID]ledger.Account, tx ledger.BlockTx) error {
	if err := verifySignature(tx); err != nil {
		return err
	}

	sender, exists := working[tx.From]
	expected := uint64(0)
	if exists {
		expected = sender.ExpectedNonce()
	}
	if tx.Nonce != expected {
		return bcerrors.New(bcerrors.BadNonce, "tx nonce %d does not match expected nonce %d for %s", tx.Nonce, expected, tx.From)
	}

	if sender.Balance < tx.Amount+tx.GasPrice {
		return bcerrors.New(bcerrors.InsufficientBalance, "%s has balance %d, needs %d", tx.From, sender.Balance, tx.Amount+tx.GasPrice)
	}

	if err := checkMalformed(tx); err != nil {
		return err
	}

	// Rule 5: debit amount+gas_price from the sender (the gas portion is
	// burned in this core, never credited anywhere — see DESIGN.md), credit
	// amount to the recipient, advance the sender's nonce.
	sender.AccountID = tx.From
	sender.Balance -= tx.Amount + tx.GasPrice
	sender.Nonce = tx.Nonce
	working[tx.From] = sender

	recipient, ok := working[tx.To]
	if !ok {
		recipient = ledger.NewAccount(tx.To, 0)
	}
	recipient.Balance += tx.Amount
	working[tx.To] = recipient

	return nil
}

func verifySignature(tx ledger.BlockTx) error {
	if err := tx.Validate(); err != nil {
		return bcerrors.New(bcerrors.InvalidSignature, "%s", err)
	}

	from, err := tx.FromAccount()
	if err != nil {
		return bcerrors.New(bcerrors.InvalidSignature, "could not recover signer: %s", err)
	}
	if from != tx.From {
		return bcerrors.New(bcerrors.InvalidSignature, "signature recovers to %s, tx claims %s", from, tx.From)
	}

	return nil
}

func checkMalformed(tx ledger.BlockTx) error {
	if tx.Amount == 0 {
		return bcerrors.New(bcerrors.MalformedTransaction, "amount must be greater than zero")
	}
	if tx.From == tx.To {
		return bcerrors.New(bcerrors.MalformedTransaction, "from and to must differ")
	}
	if tx.From == "" || tx.To == "" {
		return bcerrors.New(bcerrors.MalformedTransaction, "from and to must be set")
	}
	if tx.ID != tx.Tx.ID() {
		return bcerrors.New(bcerrors.MalformedTransaction, "tx_id does not match recomputed hash")
	}

	return nil
}

// String renders the account table for debugging/logging.
func (e *Engine) String() string {
	accounts := e.Accounts()

	s := ""
	for _, acc := range accounts {
		s += fmt.Sprintf("%s: balance=%d nonce=%d\n", acc.AccountID, acc.Balance, acc.Nonce)
	}

	return s
}
