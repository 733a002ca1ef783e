// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"encoding/hex"
	"fmt"

	"github.com/otxnet/otxd/chainhash"
	"github.com/pkg/errors"
)

// Chain is an enumerated identifier for a blockchain network.
type Chain uint32

// Defined chains.
const (
	ChainUnknown            Chain = 0
	ChainBitcoin            Chain = 1
	ChainBitcoinTestnet3    Chain = 2
	ChainBitcoinCash        Chain = 3
	ChainBitcoinCashTestnet Chain = 4
	ChainLitecoin           Chain = 7
	ChainLitecoinTestnet4   Chain = 8
	ChainUnitTest           Chain = 65536
)

// String returns the human readable chain name.
func (c Chain) String() string {
	if params, ok := registeredChains[c]; ok {
		return params.Name
	}
	return fmt.Sprintf("unknown chain %d", uint32(c))
}

// SyncTable returns the name of the per-chain sync stream table.
func (c Chain) SyncTable() string {
	return fmt.Sprintf("sync_%d", uint32(c))
}

// Params defines the storage-relevant parameters of a chain: its identity,
// genesis block, and the genesis compact filter used to seed the sync
// stream.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Chain is the numeric chain identifier.
	Chain Chain

	// GenesisHash is the hash of the first block of the chain.
	GenesisHash chainhash.Hash

	// GenesisHeader is the serialized 80-byte genesis block header.
	GenesisHeader []byte

	// GenesisCfilter is the encoded genesis compact filter.
	GenesisCfilter []byte

	// GenesisCfilterCount is the number of elements in the genesis
	// filter.
	GenesisCfilterCount uint32

	// Supported indicates whether the chain participates in sync stream
	// genesis seeding by default.
	Supported bool
}

// The genesis block header shared by bitcoin mainnet and its derivatives,
// and the variants used by the test networks.
var (
	btcGenesisHeader = mustDecodeHex("01000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
		"29ab5f49" + "ffff001d" + "1dac2b7c")

	btcTestnetGenesisHeader = mustDecodeHex("01000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
		"dae5494d" + "ffff001d" + "1aa4ae18")

	unitTestGenesisHeader = mustDecodeHex("01000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
		"dae5494d" + "ffff7f20" + "02000000")

	ltcGenesisHeader = mustDecodeHex("01000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"d9ced4ed1130f7b7faad9be25323ffafa33232a17c3edf6cfd97bee6bafbdd97" +
		"b9aa8e4e" + "f0ff0f1e" + "cd513f7c")

	ltcTestnetGenesisHeader = mustDecodeHex("01000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"d9ced4ed1130f7b7faad9be25323ffafa33232a17c3edf6cfd97bee6bafbdd97" +
		"f60ba158" + "f0ff0f1e" + "e1790400")

	// Every genesis block above commits to a single output script, so
	// the encoded filter has the same one-element shape on each network;
	// networks sharing the bitcoin genesis block share its exact bytes.
	genesisCfilter = mustDecodeHex("019dfca8")
)

// MainNetParams defines the storage parameters for the bitcoin main
// network.
var MainNetParams = Params{
	Name:                "bitcoin",
	Chain:               ChainBitcoin,
	GenesisHash:         mustHashFromStr("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"),
	GenesisHeader:       btcGenesisHeader,
	GenesisCfilter:      genesisCfilter,
	GenesisCfilterCount: 1,
	Supported:           true,
}

// TestNet3Params defines the storage parameters for the bitcoin test
// network (version 3).
var TestNet3Params = Params{
	Name:                "bitcoin_testnet3",
	Chain:               ChainBitcoinTestnet3,
	GenesisHash:         mustHashFromStr("000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943"),
	GenesisHeader:       btcTestnetGenesisHeader,
	GenesisCfilter:      genesisCfilter,
	GenesisCfilterCount: 1,
	Supported:           true,
}

// BitcoinCashParams defines the storage parameters for the bitcoin cash
// main network. The genesis block is shared with bitcoin.
var BitcoinCashParams = Params{
	Name:                "bitcoincash",
	Chain:               ChainBitcoinCash,
	GenesisHash:         mustHashFromStr("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"),
	GenesisHeader:       btcGenesisHeader,
	GenesisCfilter:      genesisCfilter,
	GenesisCfilterCount: 1,
	Supported:           true,
}

// BitcoinCashTestnetParams defines the storage parameters for the bitcoin
// cash test network.
var BitcoinCashTestnetParams = Params{
	Name:                "bitcoincash_testnet3",
	Chain:               ChainBitcoinCashTestnet,
	GenesisHash:         mustHashFromStr("000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943"),
	GenesisHeader:       btcTestnetGenesisHeader,
	GenesisCfilter:      genesisCfilter,
	GenesisCfilterCount: 1,
	Supported:           true,
}

// LitecoinParams defines the storage parameters for the litecoin main
// network.
var LitecoinParams = Params{
	Name:                "litecoin",
	Chain:               ChainLitecoin,
	GenesisHash:         mustHashFromStr("12a765e31ffd4059bada1e25190f6e98c99d9714d334efa41a195a7e7e04bfe2"),
	GenesisHeader:       ltcGenesisHeader,
	GenesisCfilter:      genesisCfilter,
	GenesisCfilterCount: 1,
	Supported:           true,
}

// LitecoinTestnet4Params defines the storage parameters for the litecoin
// test network (version 4).
var LitecoinTestnet4Params = Params{
	Name:                "litecoin_testnet4",
	Chain:               ChainLitecoinTestnet4,
	GenesisHash:         mustHashFromStr("4966625a4b2851d9fdee139e56211a0d88575f59ed816ff5e6a63deb4e3e29a0"),
	GenesisHeader:       ltcTestnetGenesisHeader,
	GenesisCfilter:      genesisCfilter,
	GenesisCfilterCount: 1,
	Supported:           true,
}

// UnitTestParams defines the storage parameters for the regression style
// unit test network.
var UnitTestParams = Params{
	Name:                "unittest",
	Chain:               ChainUnitTest,
	GenesisHash:         mustHashFromStr("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206"),
	GenesisHeader:       unitTestGenesisHeader,
	GenesisCfilter:      genesisCfilter,
	GenesisCfilterCount: 1,
	Supported:           false,
}

var (
	// ErrDuplicateChain describes an error where the parameters for a
	// chain are attempted to be registered more than once.
	ErrDuplicateChain = errors.New("duplicate chain")

	registeredChains = map[Chain]*Params{}
)

// Register registers the chain parameters for a network. This may error
// with ErrDuplicateChain if the chain is already registered.
func Register(params *Params) error {
	if _, ok := registeredChains[params.Chain]; ok {
		return errors.WithStack(ErrDuplicateChain)
	}
	registeredChains[params.Chain] = params

	return nil
}

func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("failed to register chain: " + err.Error())
	}
}

// Lookup returns the registered parameters for the given chain, or nil if
// the chain is not registered.
func Lookup(chain Chain) *Params {
	return registeredChains[chain]
}

// DefinedChains returns every registered chain, including the unit test
// chain.
func DefinedChains() []Chain {
	out := make([]Chain, 0, len(registeredChains))
	for chain := range registeredChains {
		out = append(out, chain)
	}

	return out
}

// SupportedChains returns the chains which receive sync stream genesis
// seeding on database creation.
func SupportedChains() []Chain {
	out := make([]Chain, 0, len(registeredChains))
	for chain, params := range registeredChains {
		if params.Supported {
			out = append(out, chain)
		}
	}

	return out
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("invalid hex in chain parameters: " + err.Error())
	}
	return b
}

func mustHashFromStr(s string) chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic("invalid hash in chain parameters: " + err.Error())
	}
	return *hash
}

func init() {
	mustRegister(&MainNetParams)
	mustRegister(&TestNet3Params)
	mustRegister(&BitcoinCashParams)
	mustRegister(&BitcoinCashTestnetParams)
	mustRegister(&LitecoinParams)
	mustRegister(&LitecoinTestnet4Params)
	mustRegister(&UnitTestParams)
}
