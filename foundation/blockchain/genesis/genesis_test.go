package genesis_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/genesis"
)

func Test_DefaultNetworkConfigValidates(t *testing.T) {
	if err := genesis.DefaultNetworkConfig().Validate(); err != nil {
		t.Fatalf("DefaultNetworkConfig should validate, got: %s", err)
	}
}

func Test_NetworkConfigRejectsEvictBatchLargerThanMempool(t *testing.T) {
	cfg := genesis.DefaultNetworkConfig()
	cfg.MempoolEvictBatch = cfg.MaxMempoolSize + 1

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to reject evict_batch > max_mempool_size")
	}
}

func Test_NetworkConfigRejectsZeroMaxBlockTxs(t *testing.T) {
	cfg := genesis.DefaultNetworkConfig()
	cfg.MaxBlockTxs = 0

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to reject max_block_txs == 0")
	}
}

func Test_LoadParsesGenesisFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")

	g := genesis.Genesis{
		Date:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ChainID:    1,
		Difficulty: 4,
		GasPrice:   1,
		Balances: map[string]uint64{
			"0x0000000000000000000000000000000000dEaD": 1_000_000,
		},
	}

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %s", err)
	}

	loaded, err := genesis.Load(path)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}

	if loaded.ChainID != 1 || loaded.Difficulty != 4 {
		t.Fatalf("unexpected loaded genesis: %+v", loaded)
	}

	balances := loaded.BalancesByAccount()
	if balances["0x0000000000000000000000000000000000dEaD"] != 1_000_000 {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}

func Test_LoadRejectsMalformedGenesis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")

	if err := os.WriteFile(path, []byte(`{"chain_id":0,"difficulty":0}`), 0o600); err != nil {
		t.Fatalf("write: %s", err)
	}

	if _, err := genesis.Load(path); err == nil {
		t.Fatalf("expected Load to reject a genesis with chain_id/difficulty 0")
	}
}
