// Package database implements the persistent blockchain data plane: a
// shared LMDB environment plus memory-mapped bulk stores, with typed
// sub-stores for block headers, compact filters, raw blocks, wallet
// transaction indexes, peers, sync streams and configuration.
package database

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/dchest/siphash"
	"github.com/otxnet/otxd/config"
	"github.com/otxnet/otxd/database/bulk"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/pkg/errors"
)

// BlockStoragePolicy determines how much raw block data the database
// keeps.
type BlockStoragePolicy uint32

// Block storage policies, ordered. The persisted policy never decreases:
// reopening a database with a lower requested level keeps the stored
// level effective.
const (
	PolicyNone BlockStoragePolicy = iota
	PolicyCache
	PolicyAll
)

// String returns the policy name.
func (p BlockStoragePolicy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyCache:
		return "cache"
	case PolicyAll:
		return "all"
	default:
		return "unknown"
	}
}

// defaultStoragePolicy is the compile-time default applied when neither
// the caller nor the stored configuration specifies a level.
const defaultStoragePolicy = PolicyCache

// version1Marker is the file whose presence marks a v1 database
// directory. A blockchain directory without it holds an unsupported v0
// layout and is purged.
const version1Marker = "version.1"

// siphashKeySize is the size of the pattern fingerprint key.
const siphashKeySize = 16

// Database owns the shared storage substrate and hands out references to
// the typed sub-stores built on it.
type Database struct {
	blockchainPath string
	commonPath     string
	blocksPath     string

	db        *lmdb.DB
	blockBulk *bulk.Store
	syncBulk  *bulk.Store

	policy     BlockStoragePolicy
	siphashKey [siphashKeySize]byte

	headers *BlockHeaders
	peers   *Peers
	filters *BlockFilter
	blocks  *Blocks
	sync    *Sync
	wallet  *Wallet
	cfg     *Config
}

// Open opens (creating as necessary) the blockchain database beneath the
// configured data directory.
func Open(opts *config.Options) (*Database, error) {
	blockchainPath, err := initStoragePath(opts.DataDir)
	if err != nil {
		return nil, err
	}
	commonPath := filepath.Join(blockchainPath, "common")
	blocksPath := filepath.Join(commonPath, "blocks")

	db, err := lmdb.New(commonPath, liveTables(), deletedTables())
	if err != nil {
		return nil, err
	}

	blockBulk, err := bulk.New(db, blocksPath, "blk", tableConfig,
		KeyNextBlockAddress)
	if err != nil {
		db.Close()
		return nil, err
	}
	syncBulk, err := bulk.New(db, commonPath, "sync", tableConfig,
		KeyNextSyncAddress)
	if err != nil {
		blockBulk.Close()
		db.Close()
		return nil, err
	}

	d := &Database{
		blockchainPath: blockchainPath,
		commonPath:     commonPath,
		blocksPath:     blocksPath,
		db:             db,
		blockBulk:      blockBulk,
		syncBulk:       syncBulk,
	}

	d.cfg = newConfig(db)

	if d.policy, err = d.resolvePolicy(opts); err != nil {
		d.Close()
		return nil, err
	}
	log.Debugf("Effective block storage policy: %s", d.policy)

	if err = d.loadSiphashKey(); err != nil {
		d.Close()
		return nil, err
	}

	d.headers = newBlockHeaders(db, blockBulk)
	d.peers = newPeers(db)
	d.filters = newBlockFilter(db, blockBulk)
	d.blocks = newBlocks(db, blockBulk)
	d.wallet = newWallet(db, blockBulk, d.IndexItem)

	if d.sync, err = newSync(db, syncBulk, syncTables()); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

// Close persists the wallet indexes, then releases the bulk stores and
// the environment.
func (d *Database) Close() error {
	var firstErr error
	if d.wallet != nil {
		if err := d.wallet.Close(); err != nil {
			log.Errorf("Failed to flush wallet indexes: %s", err)
			firstErr = err
		}
	}
	if d.syncBulk != nil {
		if err := d.syncBulk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.blockBulk != nil {
		if err := d.blockBulk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// BlockHeaders returns the block header store.
func (d *Database) BlockHeaders() *BlockHeaders { return d.headers }

// BlockFilters returns the compact filter store.
func (d *Database) BlockFilters() *BlockFilter { return d.filters }

// Blocks returns the raw block store.
func (d *Database) Blocks() *Blocks { return d.blocks }

// Wallet returns the wallet store.
func (d *Database) Wallet() *Wallet { return d.wallet }

// Peers returns the peer store.
func (d *Database) Peers() *Peers { return d.peers }

// Sync returns the sync stream store.
func (d *Database) Sync() *Sync { return d.sync }

// Config returns the configuration store.
func (d *Database) Config() *Config { return d.cfg }

// BlockPolicy returns the effective block storage policy.
func (d *Database) BlockPolicy() BlockStoragePolicy { return d.policy }

// AllocateStorageFolder creates (if necessary) and returns a
// subdirectory of the blockchain data directory for a chain-private
// database to live in.
func (d *Database) AllocateStorageFolder(name string) (string, error) {
	path := filepath.Join(d.blockchainPath, name)
	if err := os.MkdirAll(path, 0700); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", path)
	}
	return path, nil
}

// HashKey returns the pattern fingerprint key. The key is generated once
// when the database is created and never rotated.
func (d *Database) HashKey() []byte {
	out := make([]byte, siphashKeySize)
	copy(out, d.siphashKey[:])
	return out
}

// IndexItem fingerprints a script element under the database's pattern
// key.
func (d *Database) IndexItem(data []byte) PatternID {
	k0 := binary.LittleEndian.Uint64(d.siphashKey[0:8])
	k1 := binary.LittleEndian.Uint64(d.siphashKey[8:16])

	return PatternID(siphash.Hash(k0, k1, data))
}

// initStoragePath prepares <dataDir>/blockchain. An existing directory
// without the v1 marker holds an unsupported v0 database and is removed.
func initStoragePath(dataDir string) (string, error) {
	base := filepath.Join(dataDir, "blockchain")
	marker := filepath.Join(base, version1Marker)

	haveBase := pathExists(base)
	haveMarker := pathExists(marker)

	switch {
	case haveBase && haveMarker:
		log.Tracef("Existing blockchain data directory already updated to v1")
	case haveBase:
		log.Errorf("Existing blockchain data directory is v0 and must be purged")
		if err := os.RemoveAll(base); err != nil {
			return "", errors.Wrapf(err, "failed to purge v0 directory %s", base)
		}
	default:
		log.Tracef("Initializing new blockchain data directory")
	}

	if err := os.MkdirAll(base, 0700); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", base)
	}

	f, err := os.OpenFile(marker, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", marker)
	}
	f.Close()

	return base, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// resolvePolicy determines the effective block storage policy from the
// caller's options, the stored value and the compile-time default. The
// stored value never decreases.
func (d *Database) resolvePolicy(opts *config.Options) (BlockStoragePolicy, error) {
	output := defaultStoragePolicy

	switch opts.BlockStorageLevel {
	case config.StorageLevelAll:
		output = PolicyAll
	case config.StorageLevelCache:
		output = PolicyCache
	case config.StorageLevelNone:
		output = PolicyNone
	}

	stored, haveStored := d.storedPolicy()
	if haveStored && stored > output {
		output = stored
	}

	if !haveStored || output != stored {
		value := make([]byte, 4)
		binary.LittleEndian.PutUint32(value, uint32(output))
		if err := d.cfg.Set(KeyBlockStoragePolicy, value); err != nil {
			return 0, err
		}
	}

	return output, nil
}

func (d *Database) storedPolicy() (BlockStoragePolicy, bool) {
	value, err := d.cfg.Get(KeyBlockStoragePolicy)
	if err != nil || len(value) != 4 {
		return 0, false
	}

	return BlockStoragePolicy(binary.LittleEndian.Uint32(value)), true
}

// loadSiphashKey loads the pattern fingerprint key, generating and
// persisting it on first run.
func (d *Database) loadSiphashKey() error {
	value, err := d.cfg.Get(KeySiphashKey)
	if err == nil && len(value) == siphashKeySize {
		copy(d.siphashKey[:], value)
		return nil
	}
	if err != nil && !IsNotFoundError(err) {
		return err
	}

	if _, err := rand.Read(d.siphashKey[:]); err != nil {
		return errors.Wrap(err, "failed to generate siphash key")
	}

	return d.cfg.Set(KeySiphashKey, d.siphashKey[:])
}
