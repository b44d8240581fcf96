package ledger

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/notarius/notarius/src/common"
)

func initBadgerStore(t *testing.T) (*BadgerStore, string) {
	dir, err := ioutil.TempDir("", "badger")
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "db")
	store, err := NewBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}

	return store, dir
}

func TestNewBadgerStore(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)

	if store.NeedBootstrap() {
		t.Fatal("fresh store should not need bootstrap")
	}
	if store.LastHeight() != -1 {
		t.Fatalf("fresh store LastHeight should be -1, got %d", store.LastHeight())
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerStoreApplyBlock(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)
	defer store.Close()

	txs := testTransactions(3, 0)
	block := applyTestBlock(t, store, 0, 0, txs)

	// served from the cache and from disk alike
	cached, err := store.GetBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	if cached.Hex() != block.Hex() {
		t.Fatal("cached block should match")
	}

	fromDisk, err := store.dbGetBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	if fromDisk.Hex() != block.Hex() {
		t.Fatal("persisted block should match")
	}
}

func TestLoadBadgerStore(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)

	applyTestBlock(t, store, 0, 0, testTransactions(3, 0))
	applyTestBlock(t, store, 1, 1, nil)
	txs2 := testTransactions(2, 10)
	applyTestBlock(t, store, 2, 2, txs2)

	root2, _ := store.CommitmentAt(2)
	lastHash := store.LastBlockHash()

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := LoadBadgerStore(store.StorePath())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if !reopened.NeedBootstrap() {
		t.Fatal("reopened store should report bootstrap")
	}
	if reopened.LastHeight() != 2 {
		t.Fatalf("reopened LastHeight should be 2, got %d", reopened.LastHeight())
	}
	if reopened.LastBlockHash() != lastHash {
		t.Fatal("reopened LastBlockHash should match")
	}

	recomputed, err := reopened.CommitmentAt(2)
	if err != nil {
		t.Fatal(err)
	}
	if recomputed != root2 {
		t.Fatal("replay should recompute the same commitment")
	}

	// proofs survive the restart
	proof, err := reopened.Prove(txs2[0].ContentHash, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := proof.Verify(root2); !ok {
		t.Fatal("proof from reopened store should verify")
	}
}

func TestLoadBadgerStoreMissing(t *testing.T) {
	if _, err := LoadBadgerStore("/nonexistent/path"); err == nil {
		t.Fatal("loading a missing database should fail")
	}
}

func TestLoadOrCreateBadgerStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "badger")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "db")

	store, err := LoadOrCreateBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if store.NeedBootstrap() {
		t.Fatal("first open should create, not load")
	}

	applyTestBlock(t, store, 0, 0, testTransactions(1, 0))
	store.Close()

	store, err = LoadOrCreateBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if !store.NeedBootstrap() {
		t.Fatal("second open should load")
	}
	if store.LastHeight() != 0 {
		t.Fatalf("expected LastHeight 0 after reload, got %d", store.LastHeight())
	}

	if _, err := store.GetEntry("0XAB"); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
}
