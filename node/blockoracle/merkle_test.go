package blockoracle

import (
	"testing"

	"github.com/otxnet/otxd/chainhash"
)

func TestMerkleRoot(t *testing.T) {
	a := chainhash.Hash{0x01}
	b := chainhash.Hash{0x02}
	c := chainhash.Hash{0x03}

	// A single transaction is its own merkle root.
	if root := calcMerkleRoot([]chainhash.Hash{a}); root != a {
		t.Fatalf("TestMerkleRoot: single-entry root is %s, want %s", root, a)
	}

	// Two entries hash together.
	pair := hashMerkleBranches(&a, &b)
	if root := calcMerkleRoot([]chainhash.Hash{a, b}); root != pair {
		t.Fatalf("TestMerkleRoot: two-entry root mismatch")
	}

	// An odd count duplicates the final entry.
	left := hashMerkleBranches(&a, &b)
	right := hashMerkleBranches(&c, &c)
	expected := hashMerkleBranches(&left, &right)
	if root := calcMerkleRoot([]chainhash.Hash{a, b, c}); root != expected {
		t.Fatalf("TestMerkleRoot: odd-entry root mismatch")
	}

	// The empty set hashes to zero.
	if root := calcMerkleRoot(nil); !root.IsZero() {
		t.Fatalf("TestMerkleRoot: empty root is %s", root)
	}
}
