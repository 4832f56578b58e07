package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/consensus"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/genesis"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/node"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/peer"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/persist"
	"github.com/meridianlabs/ledgerchain/foundation/logger"
)

var build = "develop"

func main() {
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Node struct {
			ID            string `conf:"default:"`
			ListenHost    string `conf:"default:0.0.0.0:9080"`
			KeyPath       string `conf:"default:zblock/accounts/miner1.ecdsa"`
			GenesisPath   string `conf:"default:zblock/genesis.json"`
			DataDir       string `conf:"default:zblock/data"`
			KnownPeers    []string `conf:"default:"`
		}
		Network genesis.NetworkConfig
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "permissionless blockchain node",
		},
		Network: genesis.DefaultNetworkConfig(),
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	if err := cfg.Network.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}

	ev := func(v string, args ...any) {
		log.Infof(v, args...)
	}

	// =========================================================================
	// Identity and genesis

	privateKey, err := crypto.LoadECDSA(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("load beneficiary key: %w", err)
	}
	beneficiaryID := ledger.PublicKeyToAccountID(privateKey.PublicKey)

	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	var peers []peer.Peer
	for i, addr := range cfg.Node.KnownPeers {
		peers = append(peers, peer.New(fmt.Sprintf("seed-%d", i), addr))
	}

	nodeCfg := node.Config{
		NodeID:        cfg.Node.ID,
		ListenAddr:    cfg.Node.ListenHost,
		BeneficiaryID: beneficiaryID,
		Peers:         peers,
		Network:       cfg.Network,
	}

	n := node.New(nodeCfg, gen.Block(), gen.BalancesByAccount(), ev)
	log.Infow("startup", "status", "node constructed", "node_id", n.ID(), "beneficiary", beneficiaryID)

	// =========================================================================
	// Disk persistence

	disk, err := persist.New(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	if disk.HasSavedData() {
		blocks, err := disk.LoadBlocks()
		if err != nil {
			return fmt.Errorf("persist: load blocks: %w", err)
		}
		if len(blocks) > 0 {
			if err := n.ReplaceSuffix(1, blocks); err != nil {
				return fmt.Errorf("persist: replay saved blocks: %w", err)
			}
			log.Infow("startup", "status", "restored chain from disk", "height", n.Height())
		}
	}

	// =========================================================================
	// Background workflows

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mining := node.NewMining(n)
	go mining.Run(ctx)

	monitor := consensus.New(n, consensus.Config{}, cfg.Network.ConsensusTickMS, ev)
	go monitor.Run(ctx)

	go n.RunRetryLoop(ctx)

	cursor := newPersistCursor()
	cursor.lastSaved.Store(n.Height())
	go runPersistLoop(ctx, n, disk, cursor, ev)

	for _, p := range peers {
		go n.Handshake(ctx, p.ID, cfg.Node.ListenHost)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- n.Listen(ctx, cfg.Node.ListenHost)
	}()

	log.Infow("startup", "status", "listening", "host", cfg.Node.ListenHost)

	// =========================================================================
	// Shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("listener error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		mining.Shutdown()
		flush(n, disk, cursor, ev)
		cancel()
		log.Infow("shutdown", "status", "shutdown complete", "signal", sig)
	}

	return nil
}

// persistCursor tracks the height already flushed to disk, shared
// between the periodic persist loop and the final shutdown flush so
// neither re-saves a block the other already wrote.
type persistCursor struct {
	lastSaved atomic.Uint64
}

func newPersistCursor() *persistCursor {
	c := &persistCursor{}
	c.lastSaved.Store(1)
	return c
}

// runPersistLoop periodically flushes newly mined blocks and the
// account snapshot to disk, grounded on the teacher's worker
// peerUpdateInterval cadence but driven off the chain height instead of
// a fixed peer-list poll.
func runPersistLoop(ctx context.Context, n *node.Node, disk *persist.Disk, cursor *persistCursor, ev func(v string, args ...any)) {
	const interval = 10 * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flush(n, disk, cursor, ev)
		}
	}
}

// flush saves every block appended since cursor's last flush plus a
// fresh account snapshot. Called both by runPersistLoop's ticker and,
// synchronously, once more during shutdown so a clean exit never
// drops the tail end of the chain the ticker hadn't gotten to yet.
func flush(n *node.Node, disk *persist.Disk, cursor *persistCursor, ev func(v string, args ...any)) {
	lastSaved := cursor.lastSaved.Load()

	height := n.Height()
	if height <= lastSaved {
		return
	}

	newBlocks := n.Chain().SuffixFrom(lastSaved)
	if err := disk.SaveBlocks(newBlocks); err != nil {
		ev("persist: save blocks: ERROR: %s", err)
		return
	}
	cursor.lastSaved.Store(height)

	tip := n.Tip()
	accounts := n.Chain().State().Accounts()
	if err := disk.SaveState(persist.StateSnapshot{Accounts: accounts, Difficulty: tip.Header.Difficulty}); err != nil {
		ev("persist: save state: ERROR: %s", err)
	}
}
