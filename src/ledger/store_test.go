package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
	"github.com/notarius/notarius/src/types"
)

// testTransactions builds unsigned transactions; the store does not check
// signatures, consensus does that before a block is ever finalized.
func testTransactions(n, offset int) []types.Transaction {
	txs := make([]types.Transaction, n)
	for i := 0; i < n; i++ {
		txs[i] = types.Transaction{
			ContentHash:    common.EncodeToString(crypto.SHA256([]byte(fmt.Sprintf("doc %d", offset+i)))),
			SubmissionTime: time.Now().UnixNano(),
		}
	}
	return txs
}

func applyTestBlock(t *testing.T, store Store, height, round int, txs []types.Transaction) *types.Block {
	block := types.NewBlock(height, round, store.LastBlockHash(), time.Now().UnixNano(), txs, "0XAA")
	if _, err := store.ApplyBlock(block); err != nil {
		t.Fatalf("ApplyBlock(%d): %v", height, err)
	}
	return block
}

func TestInmemStoreApplyBlock(t *testing.T) {
	store := NewInmemStore()

	if store.LastHeight() != -1 {
		t.Fatalf("empty store LastHeight should be -1, got %d", store.LastHeight())
	}

	txs := testTransactions(3, 0)
	block := applyTestBlock(t, store, 0, 0, txs)

	if store.LastHeight() != 0 {
		t.Fatalf("LastHeight should be 0, got %d", store.LastHeight())
	}
	if store.LastBlockHash() != block.Hex() {
		t.Fatal("LastBlockHash should be the applied block's hash")
	}

	for i, tx := range txs {
		entry, err := store.GetEntry(tx.ContentHash)
		if err != nil {
			t.Fatal(err)
		}
		if entry.BlockHeight != 0 || entry.PositionWithinBlock != i {
			t.Fatalf("entry %d misplaced: %+v", i, entry)
		}
	}
}

func TestInmemStoreHeightOrder(t *testing.T) {
	store := NewInmemStore()
	block := applyTestBlock(t, store, 0, 0, testTransactions(1, 0))

	// re-applying the same block is a PassedHeight, not corruption
	if _, err := store.ApplyBlock(block); !common.IsStore(err, common.PassedHeight) {
		t.Fatalf("expected PassedHeight, got %v", err)
	}

	gap := types.NewBlock(2, 2, block.Hex(), time.Now().UnixNano(), nil, "0XAA")
	if _, err := store.ApplyBlock(gap); !common.IsStore(err, common.SkippedHeight) {
		t.Fatalf("expected SkippedHeight, got %v", err)
	}

	unlinked := types.NewBlock(1, 1, "0XBAD", time.Now().UnixNano(), nil, "0XAA")
	if _, err := store.ApplyBlock(unlinked); !common.IsStore(err, common.Corrupt) {
		t.Fatalf("expected Corrupt, got %v", err)
	}
}

func TestInmemStoreDuplicateEntry(t *testing.T) {
	store := NewInmemStore()
	txs := testTransactions(1, 0)
	applyTestBlock(t, store, 0, 0, txs)

	before := store.LastBlockHash()

	dup := types.NewBlock(1, 1, before, time.Now().UnixNano(), txs, "0XAA")
	if _, err := store.ApplyBlock(dup); !common.IsStore(err, common.KeyAlreadyExists) {
		t.Fatalf("expected KeyAlreadyExists, got %v", err)
	}

	// rejection must leave the store untouched
	if store.LastHeight() != 0 || store.LastBlockHash() != before {
		t.Fatal("rejected block mutated the store")
	}
}

func TestInmemStoreEmptyBlocks(t *testing.T) {
	store := NewInmemStore()
	applyTestBlock(t, store, 0, 0, testTransactions(2, 0))

	root0, err := store.CommitmentAt(0)
	if err != nil {
		t.Fatal(err)
	}

	applyTestBlock(t, store, 1, 1, nil)

	root1, err := store.CommitmentAt(1)
	if err != nil {
		t.Fatal(err)
	}

	if root1 != root0 {
		t.Fatal("empty block should re-publish the previous commitment")
	}
	if store.LastHeight() != 1 {
		t.Fatal("empty block should still advance the height")
	}
}

func TestInmemStoreCommitmentDeterministic(t *testing.T) {
	s1 := NewInmemStore()
	s2 := NewInmemStore()

	txs := testTransactions(5, 0)
	applyTestBlock(t, s1, 0, 0, txs)
	applyTestBlock(t, s2, 0, 0, txs)

	r1, _ := s1.CommitmentAt(0)
	r2, _ := s2.CommitmentAt(0)
	if r1 != r2 {
		t.Fatal("same blocks should yield the same commitment")
	}
}

func TestInmemStoreProve(t *testing.T) {
	store := NewInmemStore()
	txs0 := testTransactions(3, 0)
	applyTestBlock(t, store, 0, 0, txs0)
	txs1 := testTransactions(4, 10)
	applyTestBlock(t, store, 1, 1, txs1)

	root1, _ := store.CommitmentAt(1)

	for _, tx := range append(append([]types.Transaction{}, txs0...), txs1...) {
		proof, err := store.Prove(tx.ContentHash, 1)
		if err != nil {
			t.Fatal(err)
		}

		ok, err := proof.Verify(root1)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("proof for %s should verify against commitment 1", tx.ContentHash)
		}

		// a proof is bound to its root
		root0, _ := store.CommitmentAt(0)
		if ok, _ := proof.Verify(root0); ok {
			t.Fatal("proof should not verify against another commitment")
		}
	}

	// entries from block 1 do not exist as of height 0
	if _, err := store.Prove(txs1[0].ContentHash, 0); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}

	// but block 0 entries prove against the height 0 commitment
	proof, err := store.Prove(txs0[1].ContentHash, 0)
	if err != nil {
		t.Fatal(err)
	}
	root0, _ := store.CommitmentAt(0)
	if ok, _ := proof.Verify(root0); !ok {
		t.Fatal("historical proof should verify against its own commitment")
	}
}

func TestInmemStoreProveTampered(t *testing.T) {
	store := NewInmemStore()
	txs := testTransactions(4, 0)
	applyTestBlock(t, store, 0, 0, txs)

	root, _ := store.CommitmentAt(0)

	proof, err := store.Prove(txs[2].ContentHash, 0)
	if err != nil {
		t.Fatal(err)
	}

	proof.Entry.SubmissionTime++
	if ok, _ := proof.Verify(root); ok {
		t.Fatal("tampered entry should fail verification")
	}
}

func TestInmemStoreNotFound(t *testing.T) {
	store := NewInmemStore()

	if _, err := store.GetEntry("0XAB"); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
	if _, err := store.GetBlock(0); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
	if _, err := store.CommitmentAt(0); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
	if store.Contains("0XAB") {
		t.Fatal("empty store contains nothing")
	}
}
