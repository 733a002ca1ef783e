package chaincfg

import (
	"bytes"
	"testing"

	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/wire"
)

// TestGenesisHeaders verifies that every registered genesis header
// actually hashes to the declared genesis hash.
func TestGenesisHeaders(t *testing.T) {
	for _, chain := range DefinedChains() {
		params := Lookup(chain)
		if params == nil {
			t.Fatalf("TestGenesisHeaders: %s not registered", chain)
		}

		if len(params.GenesisHeader) != wire.BlockHeaderPayload {
			t.Fatalf("TestGenesisHeaders: %s genesis header is %d bytes",
				chain, len(params.GenesisHeader))
		}

		header := &wire.BlockHeader{}
		err := header.Deserialize(bytes.NewReader(params.GenesisHeader))
		if err != nil {
			t.Fatalf("TestGenesisHeaders: %s genesis header does not "+
				"parse: %s", chain, err)
		}

		if hash := header.BlockHash(); hash != params.GenesisHash {
			t.Fatalf("TestGenesisHeaders: %s genesis header hashes to %s, "+
				"params declare %s", chain, hash, params.GenesisHash)
		}

		if len(params.GenesisCfilter) == 0 {
			t.Fatalf("TestGenesisHeaders: %s has no genesis filter", chain)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	if err := Register(&MainNetParams); err == nil {
		t.Fatalf("TestRegisterDuplicate: duplicate registration accepted")
	}
}

func TestLookupUnknown(t *testing.T) {
	if params := Lookup(ChainUnknown); params != nil {
		t.Fatalf("TestLookupUnknown: unknown chain resolved to %s",
			params.Name)
	}
}

func TestSupportedChains(t *testing.T) {
	supported := SupportedChains()
	for _, chain := range supported {
		if chain == ChainUnitTest {
			t.Fatalf("TestSupportedChains: unit test chain is supported")
		}
	}
	if len(supported) == 0 {
		t.Fatalf("TestSupportedChains: no supported chains")
	}
}

func TestSyncTableNames(t *testing.T) {
	seen := map[string]Chain{}
	for _, chain := range DefinedChains() {
		name := chain.SyncTable()
		if previous, ok := seen[name]; ok {
			t.Fatalf("TestSyncTableNames: %s and %s share table %q",
				previous, chain, name)
		}
		seen[name] = chain
	}
}

func TestHashParsing(t *testing.T) {
	// The display form is byte reversed; parsing and printing must
	// agree.
	const display = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	hash, err := chainhash.NewHashFromStr(display)
	if err != nil {
		t.Fatalf("TestHashParsing: parse failed: %s", err)
	}
	if hash.String() != display {
		t.Fatalf("TestHashParsing: round trip produced %s", hash.String())
	}
	if *hash != MainNetParams.GenesisHash {
		t.Fatalf("TestHashParsing: parsed hash differs from params")
	}
}
