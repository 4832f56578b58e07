package ledger

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/merkle"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/signature"
)

// GenesisPreviousHash is the previous_hash value required of the genesis
// block.
const GenesisPreviousHash = "0"

// BlockHeader carries every field that participates in block_hash and
// the proof-of-work puzzle. Field order is declaration order and is
// load-bearing for the canonical encoding, same as Tx.
type BlockHeader struct {
	Index         uint64    `json:"index"`
	Timestamp     string    `json:"timestamp"`
	PreviousHash  string    `json:"previous_hash"`
	BeneficiaryID AccountID `json:"beneficiary"`
	Difficulty    uint      `json:"difficulty"`
	MerkleRoot    string    `json:"merkle_root"`
	StateRoot     string    `json:"state_root"`
	Proof         uint64    `json:"proof"`
}

// Block is a batch of transactions sealed behind a proof-of-work.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[BlockTx]
}

// Hash returns block_hash: the canonical encoding of the header (which
// already embeds merkle_root, state_root and proof), hashed.
//
// Hashing the header alone and not the full transaction set lets a
// pruned node validate the chain of block hashes without needing the
// transaction bodies of every block, at the cost of needing the
// transactions separately to verify merkle_root.
func (b Block) Hash() string {
	return signature.Hash(b.Header)
}

// MerkleRootHex returns the hex encoded merkle root over the block's
// transactions, or EmptyMerkleRoot if the block has none.
func MerkleRootHex(txs []BlockTx) (string, error) {
	if len(txs) == 0 {
		return EmptyMerkleRoot(), nil
	}

	tree, err := merkle.NewTree(txs)
	if err != nil {
		return "", err
	}

	return tree.RootHex(), nil
}

// EmptyMerkleRoot is the merkle root of a block with no transactions:
// H(""), the hash of the empty byte string.
func EmptyMerkleRoot() string {
	h := sha256.Sum256(nil)
	return hexutil.Encode(h[:])
}

// =============================================================================

// BlockData is the disk/wire representation of a block: a header plus
// its transaction list, from which the merkle tree can be rebuilt.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"header"`
	Trans  []BlockTx   `json:"trans"`
}

// NewBlockData converts a Block into its serializable form.
func NewBlockData(block Block) BlockData {
	var trans []BlockTx
	if block.Trans != nil {
		trans = block.Trans.Values()
	}

	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  trans,
	}
}

// ToBlock reconstructs a Block (including its merkle tree) from disk/wire
// data.
func ToBlock(bd BlockData) (Block, error) {
	if len(bd.Trans) == 0 {
		return Block{Header: bd.Header}, nil
	}

	tree, err := merkle.NewTree(bd.Trans)
	if err != nil {
		return Block{}, err
	}

	return Block{Header: bd.Header, Trans: tree}, nil
}
