// Package genesis holds the cluster-wide configuration every peer in a
// network must agree on: the genesis account balances and the tunables
// listed in the wire protocol's configuration section. It validates
// that configuration is well-formed before a node starts.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	en "github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/miner"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/state"
)

// Genesis is the genesis block's seed data: the initial account
// balances and the base difficulty new nodes must agree on.
// Difficulty is part of the wire-documented genesis schema and is
// still required/validated, but Block() no longer uses it for the
// header: the header's actual difficulty always comes from
// miner.Difficulty(1), the same height-based schedule every later
// block is checked against.
type Genesis struct {
	Date       time.Time         `json:"date"`
	ChainID    uint16            `json:"chain_id" validate:"required"`
	Difficulty uint16            `json:"difficulty" validate:"required,min=1"`
	GasPrice   uint64            `json:"gas_price"`
	Balances   map[string]uint64 `json:"balances"`
}

// NetworkConfig is the rest of §6's required-identical-across-peers
// configuration: block/mempool/consensus tunables, independent of the
// per-node identity fields (node_id, listen_port, peers), which live
// on the node's own Config instead since they legitimately differ
// between peers.
type NetworkConfig struct {
	MaxBlockTxs        int           `conf:"default:256" validate:"required,min=1"`
	MinBlockTime       time.Duration `conf:"default:5s" validate:"required"`
	MaxBlockFutureTime time.Duration `conf:"default:15s" validate:"required"`
	MaxMempoolSize     int           `conf:"default:10000" validate:"required,min=1"`
	MempoolEvictBatch  int           `conf:"default:1000" validate:"required,min=1,ltefield=MaxMempoolSize"`
	ConsensusTickMS    int           `conf:"default:5000" validate:"required,min=1"`
	RetryTimeoutS      int           `conf:"default:5" validate:"required,min=1"`
	MaxRetries         int           `conf:"default:3" validate:"required,min=1"`
}

// DefaultNetworkConfig returns the §5 capacity bounds spelled out as
// defaults.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		MaxBlockTxs:        256,
		MinBlockTime:       5 * time.Second,
		MaxBlockFutureTime: 15 * time.Second,
		MaxMempoolSize:     10_000,
		MempoolEvictBatch:  1_000,
		ConsensusTickMS:    5_000,
		RetryTimeoutS:      5,
		MaxRetries:         3,
	}
}

// Validate checks cfg against its struct tags, translating the first
// failure into a human-readable message so a misconfigured cluster
// fails fast at startup rather than diverging silently between peers.
func (cfg NetworkConfig) Validate() error {
	return validateStruct(cfg)
}

// Validate checks g against its struct tags.
func (g Genesis) Validate() error {
	return validateStruct(g)
}

func validateStruct(v any) error {
	validate := validator.New()

	uni := ut.New(en.New(), en.New())
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return fmt.Errorf("genesis: register validator translations: %w", err)
	}

	if err := validate.Struct(v); err != nil {
		verrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return bcerrors.New(bcerrors.MalformedTransaction, "%s", err)
		}

		return bcerrors.New(bcerrors.MalformedTransaction, "%s", verrors[0].Translate(trans))
	}

	return nil
}

// =============================================================================

// Load opens and parses the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("genesis: read %s: %w", path, err)
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("genesis: decode %s: %w", path, err)
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// BalancesByAccount converts the raw hex-string balance map into the
// AccountID-keyed form the state engine expects.
func (g Genesis) BalancesByAccount() map[ledger.AccountID]uint64 {
	balances := make(map[ledger.AccountID]uint64, len(g.Balances))
	for addr, balance := range g.Balances {
		balances[ledger.AccountID(addr)] = balance
	}

	return balances
}

// Block builds the height-1 block every peer must start from: no
// transactions, state_root taken from the seeded balances, proof left
// at zero since genesis is never run through miner.Validate (there is
// no parent to validate against). Its difficulty comes from
// miner.Difficulty(1), not g.Difficulty: the height-based schedule is
// the only value block 2 onward will ever accept from its parent, so
// seeding any other difficulty here would wedge the chain the moment
// it tried to advance past genesis.
func (g Genesis) Block() ledger.Block {
	engine := state.New(g.BalancesByAccount(), nil)

	return ledger.Block{
		Header: ledger.BlockHeader{
			Index:        1,
			Timestamp:    g.Date.UTC().Format("2006-01-02 15:04:05"),
			PreviousHash: ledger.GenesisPreviousHash,
			Difficulty:   miner.Difficulty(1),
			MerkleRoot:   ledger.EmptyMerkleRoot(),
			StateRoot:    engine.Root(),
		},
	}
}
