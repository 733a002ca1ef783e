package database

import (
	"sort"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/database/lmdb"
)

// Live tables. The integer ids are process-local; the stable on-disk
// identity of a table is its name.
const (
	tablePeerDetails lmdb.Table = iota
	tablePeerChainIndex
	tablePeerProtocolIndex
	tablePeerServiceIndex
	tablePeerNetworkIndex
	tablePeerConnectedIndex
	tableFilterHeadersBasic
	tableFilterHeadersBCH
	tableFilterHeadersOpentxs
	tableConfig
	tableBlockIndex
	tableEnabled
	tableSyncTips
	tableConfigMulti
	tableHeaderIndex
	tableFilterIndexBasic
	tableFilterIndexBCH
	tableFilterIndexES
	tableTransactionIndex
)

// Legacy tables. These are opened solely so their contents can be
// dropped; rows written by earlier schema versions are never migrated.
const (
	tableBlockHeadersDeleted lmdb.Table = iota + 64
	tableFiltersBasicDeleted
	tableFiltersBCHDeleted
	tableFiltersOpentxsDeleted
)

// syncTableBase is the first table id handed out to per-chain sync
// stream tables.
const syncTableBase lmdb.Table = 128

// Configuration keys, encoded as little endian uint32 table keys.
// Unknown keys are ignored on read and preserved on write; the
// enumeration only grows.
const (
	// KeyBlockStoragePolicy holds the persisted block storage policy.
	KeyBlockStoragePolicy uint32 = iota

	// KeySiphashKey holds the 16 byte pattern fingerprint key.
	KeySiphashKey

	// KeyNextBlockAddress anchors the block bulk store write cursor.
	KeyNextBlockAddress

	// KeyNextSyncAddress anchors the sync bulk store write cursor.
	KeyNextSyncAddress

	// KeyWalletIndex locates the serialized wallet pattern and contact
	// index snapshot in the bulk store.
	KeyWalletIndex
)

// Multi-value configuration keys for the dup-sort configuration table.
const (
	// KeySyncServer holds the set of enabled sync server endpoints.
	KeySyncServer uint32 = iota
)

func liveTables() []lmdb.TableDefinition {
	defs := []lmdb.TableDefinition{
		{Table: tablePeerDetails, Name: "peers", Mode: lmdb.ModeDefault},
		{Table: tablePeerChainIndex, Name: "peer_chain_index", Mode: lmdb.ModeDupSortIntegerKey},
		{Table: tablePeerProtocolIndex, Name: "peer_protocol_index", Mode: lmdb.ModeDupSortIntegerKey},
		{Table: tablePeerServiceIndex, Name: "peer_service_index", Mode: lmdb.ModeDupSortIntegerKey},
		{Table: tablePeerNetworkIndex, Name: "peer_network_index", Mode: lmdb.ModeDupSortIntegerKey},
		{Table: tablePeerConnectedIndex, Name: "peer_connected_index", Mode: lmdb.ModeDupSortIntegerKey},
		{Table: tableFilterHeadersBasic, Name: "block_filter_headers_basic", Mode: lmdb.ModeDefault},
		{Table: tableFilterHeadersBCH, Name: "block_filter_headers_bch", Mode: lmdb.ModeDefault},
		{Table: tableFilterHeadersOpentxs, Name: "block_filter_headers_opentxs", Mode: lmdb.ModeDefault},
		{Table: tableConfig, Name: "config", Mode: lmdb.ModeIntegerKey},
		{Table: tableBlockIndex, Name: "blocks", Mode: lmdb.ModeDefault},
		{Table: tableEnabled, Name: "enabled_chains_2", Mode: lmdb.ModeIntegerKey},
		{Table: tableSyncTips, Name: "sync_tips", Mode: lmdb.ModeIntegerKey},
		{Table: tableConfigMulti, Name: "config_multiple_values", Mode: lmdb.ModeDupSortIntegerKey},
		{Table: tableHeaderIndex, Name: "block_headers_2", Mode: lmdb.ModeDefault},
		{Table: tableFilterIndexBasic, Name: "block_filters_basic_2", Mode: lmdb.ModeDefault},
		{Table: tableFilterIndexBCH, Name: "block_filters_bch_2", Mode: lmdb.ModeDefault},
		{Table: tableFilterIndexES, Name: "block_filters_opentxs_2", Mode: lmdb.ModeDefault},
		{Table: tableTransactionIndex, Name: "transactions", Mode: lmdb.ModeDefault},
	}

	for chain, table := range syncTables() {
		defs = append(defs, lmdb.TableDefinition{
			Table: table,
			Name:  chain.SyncTable(),
			Mode:  lmdb.ModeIntegerKey,
		})
	}

	return defs
}

func deletedTables() []lmdb.TableDefinition {
	return []lmdb.TableDefinition{
		{Table: tableBlockHeadersDeleted, Name: "block_headers", Mode: lmdb.ModeDefault},
		{Table: tableFiltersBasicDeleted, Name: "block_filters_basic", Mode: lmdb.ModeDefault},
		{Table: tableFiltersBCHDeleted, Name: "block_filters_bch", Mode: lmdb.ModeDefault},
		{Table: tableFiltersOpentxsDeleted, Name: "block_filters_opentxs", Mode: lmdb.ModeDefault},
	}
}

// syncTables assigns a table id to every defined chain's sync stream.
// Assignment is by ascending chain id so the mapping is stable across
// runs.
func syncTables() map[chaincfg.Chain]lmdb.Table {
	chains := chaincfg.DefinedChains()
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })

	out := make(map[chaincfg.Chain]lmdb.Table, len(chains))
	for i, chain := range chains {
		out[chain] = syncTableBase + lmdb.Table(i)
	}

	return out
}
