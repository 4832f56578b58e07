// Package persist implements the opaque snapshotter the chain store
// delegates to: save_blocks/save_state/load_blocks/load_state/
// has_saved_data. The core treats the on-disk format as unspecified;
// this is one conforming file-backed implementation, grounded on the
// teacher's append-only JSONL block log.
package persist

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/bcerrors"
	"github.com/meridianlabs/ledgerchain/foundation/blockchain/ledger"
)

// StateSnapshot is the persisted form of an account table: balances,
// nonces and the difficulty in force when the snapshot was taken.
type StateSnapshot struct {
	Accounts   []ledger.Account `json:"accounts"`
	Difficulty uint             `json:"difficulty"`
}

// Disk persists blocks as one JSON object per line, appended in order,
// and state as a single JSON document overwritten atomically on save.
type Disk struct {
	mu         sync.Mutex
	blocksPath string
	statePath  string
}

// New constructs a Disk persister rooted at dir, creating it if absent.
func New(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bcerrors.New(bcerrors.PersisterFault, "create dir %s: %s", dir, err)
	}

	return &Disk{
		blocksPath: filepath.Join(dir, "blocks.jsonl"),
		statePath:  filepath.Join(dir, "state.json"),
	}, nil
}

// HasSavedData reports whether a previous run left a block log behind.
func (d *Disk) HasSavedData() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(d.blocksPath)
	return err == nil && info.Size() > 0
}

// SaveBlocks appends every block in seq to the block log, in order.
// It does not rewrite previously saved blocks; callers persist only
// newly appended blocks, matching the chain store's append-only model.
func (d *Disk) SaveBlocks(seq []ledger.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.blocksPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return bcerrors.New(bcerrors.PersisterFault, "open %s: %s", d.blocksPath, err)
	}
	defer f.Close()

	for _, block := range seq {
		data, err := json.Marshal(ledger.NewBlockData(block))
		if err != nil {
			return bcerrors.New(bcerrors.PersisterFault, "marshal block %d: %s", block.Header.Index, err)
		}

		if _, err := f.Write(append(data, '\n')); err != nil {
			return bcerrors.New(bcerrors.PersisterFault, "write block %d: %s", block.Header.Index, err)
		}
	}

	return nil
}

// LoadBlocks reads every block previously saved, in append order.
func (d *Disk) LoadBlocks() ([]ledger.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.blocksPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, bcerrors.New(bcerrors.PersisterFault, "open %s: %s", d.blocksPath, err)
	}
	defer f.Close()

	var blocks []ledger.Block
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		var bd ledger.BlockData
		if err := json.Unmarshal(scanner.Bytes(), &bd); err != nil {
			return nil, bcerrors.New(bcerrors.PersisterFault, "decode block line: %s", err)
		}

		block, err := ledger.ToBlock(bd)
		if err != nil {
			return nil, bcerrors.New(bcerrors.PersisterFault, "reconstruct block: %s", err)
		}

		blocks = append(blocks, block)
	}
	if err := scanner.Err(); err != nil {
		return nil, bcerrors.New(bcerrors.PersisterFault, "scan %s: %s", d.blocksPath, err)
	}

	return blocks, nil
}

// SaveState overwrites the state snapshot file with snap.
func (d *Disk) SaveState(snap StateSnapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return bcerrors.New(bcerrors.PersisterFault, "marshal state: %s", err)
	}

	tmp := d.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return bcerrors.New(bcerrors.PersisterFault, "write %s: %s", tmp, err)
	}

	if err := os.Rename(tmp, d.statePath); err != nil {
		return bcerrors.New(bcerrors.PersisterFault, "rename %s: %s", tmp, err)
	}

	return nil
}

// LoadState reads the most recently saved state snapshot.
func (d *Disk) LoadState() (StateSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StateSnapshot{}, nil
		}
		return StateSnapshot{}, bcerrors.New(bcerrors.PersisterFault, "read %s: %s", d.statePath, err)
	}

	var snap StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return StateSnapshot{}, bcerrors.New(bcerrors.PersisterFault, "decode state: %s", err)
	}

	return snap, nil
}

var _ fmt.Stringer = (*Disk)(nil)

// String identifies the persister's backing paths for logging.
func (d *Disk) String() string {
	return fmt.Sprintf("disk[blocks=%s state=%s]", d.blocksPath, d.statePath)
}
