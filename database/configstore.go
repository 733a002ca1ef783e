package database

import (
	"sort"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/pkg/errors"
)

// Config provides access to the single-valued and multi-valued
// configuration tables.
type Config struct {
	db *lmdb.DB
}

func newConfig(db *lmdb.DB) *Config {
	return &Config{db: db}
}

// Get returns the value stored for the given configuration key, or
// ErrNotFound.
func (c *Config) Get(key uint32) ([]byte, error) {
	var out []byte
	err := c.db.Load(tableConfig, lmdb.IntegerKey(key), func(value []byte) error {
		out = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Set stores the value for the given configuration key.
func (c *Config) Set(key uint32, value []byte) error {
	return c.db.Store(tableConfig, lmdb.IntegerKey(key), value)
}

// AddSyncServer adds a sync server endpoint to the enabled set.
func (c *Config) AddSyncServer(endpoint string) error {
	if endpoint == "" {
		return errors.Wrap(ErrInvalidInput, "empty endpoint")
	}

	return c.db.Store(tableConfigMulti, lmdb.IntegerKey(KeySyncServer),
		[]byte(endpoint))
}

// DeleteSyncServer removes a sync server endpoint from the enabled set.
func (c *Config) DeleteSyncServer(endpoint string) error {
	if endpoint == "" {
		return errors.Wrap(ErrInvalidInput, "empty endpoint")
	}

	txn, err := c.db.BeginRW()
	if err != nil {
		return err
	}

	err = c.db.DeleteValue(tableConfigMulti, lmdb.IntegerKey(KeySyncServer),
		[]byte(endpoint), txn)
	if err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

// GetSyncServers returns every enabled sync server endpoint.
func (c *Config) GetSyncServers() ([]string, error) {
	out := []string{}
	err := c.db.ReadDup(tableConfigMulti, lmdb.IntegerKey(KeySyncServer),
		func(value []byte) bool {
			out = append(out, string(value))
			return true
		})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)

	return out, nil
}

// EnabledChain pairs an enabled chain with its configured seed node.
type EnabledChain struct {
	Chain chaincfg.Chain
	Seed  string
}

const (
	falseByte = 0x00
	trueByte  = 0x01
)

// EnableChain marks a chain enabled with an optional seed node.
func (c *Config) EnableChain(chain chaincfg.Chain, seed string) error {
	value := make([]byte, 1+len(seed))
	value[0] = trueByte
	copy(value[1:], seed)

	return c.db.Store(tableEnabled, lmdb.IntegerKey(uint32(chain)), value)
}

// DisableChain marks a chain disabled.
func (c *Config) DisableChain(chain chaincfg.Chain) error {
	return c.db.Store(tableEnabled, lmdb.IntegerKey(uint32(chain)),
		[]byte{falseByte})
}

// EnabledChains returns every chain currently marked enabled, with its
// seed node.
func (c *Config) EnabledChains() ([]EnabledChain, error) {
	out := []EnabledChain{}
	err := c.db.Read(tableEnabled, func(key, value []byte) bool {
		if len(key) != 4 || len(value) == 0 {
			return true
		}
		if value[0] != trueByte {
			return true
		}
		out = append(out, EnabledChain{
			Chain: chaincfg.Chain(littleEndianUint32(key)),
			Seed:  string(value[1:]),
		})
		return true
	}, lmdb.Forward)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func littleEndianUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
