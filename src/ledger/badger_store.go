package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/types"
)

const (
	entryPrefix = "entry"
	blockPrefix = "block"
	stateKey    = "state"
)

// BadgerStore persists the ledger in a badger database while serving reads
// from an embedded InmemStore. Every ApplyBlock writes through to disk;
// bootstrap replays the stored blocks into a fresh InmemStore so the node
// resumes with the exact state it shut down with.
type BadgerStore struct {
	inmemStore    *InmemStore
	db            *badger.DB
	path          string
	needBootstrap bool
}

type badgerState struct {
	LastHeight    int
	LastBlockHash string
}

func (st *badgerState) marshal() ([]byte, error) {
	return json.Marshal(st)
}

func (st *badgerState) unmarshal(data []byte) error {
	return json.Unmarshal(data, st)
}

// NewBadgerStore creates a brand new store with a new database
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	if err := store.dbSetState(badgerState{LastHeight: -1}); err != nil {
		return nil, err
	}

	return store, nil
}

// LoadBadgerStore opens an existing database and replays its blocks
func LoadBadgerStore(path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore:    NewInmemStore(),
		db:            handle,
		path:          path,
		needBootstrap: true,
	}

	state, err := store.dbGetState()
	if err != nil {
		return nil, err
	}

	for h := 0; h <= state.LastHeight; h++ {
		block, err := store.dbGetBlock(h)
		if err != nil {
			return nil, err
		}
		if _, err := store.inmemStore.ApplyBlock(block); err != nil {
			return nil, err
		}
	}

	if store.inmemStore.LastBlockHash() != state.LastBlockHash {
		return nil, common.NewStoreErr("Block", common.Corrupt, state.LastBlockHash)
	}

	return store, nil
}

// LoadOrCreateBadgerStore loads an existing database or creates a new one
func LoadOrCreateBadgerStore(path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(path)

	if err != nil {
		store, err = NewBadgerStore(path)

		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

//==============================================================================
//Keys

func entryKey(contentHash string) []byte {
	return []byte(fmt.Sprintf("%s_%s", entryPrefix, contentHash))
}

func blockKey(height int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", blockPrefix, height))
}

func blockKeyString(height int) string {
	return string(blockKey(height))
}

//==============================================================================
//Implement the Store interface

// ApplyBlock ...
func (s *BadgerStore) ApplyBlock(block *types.Block) (string, error) {
	root, err := s.inmemStore.ApplyBlock(block)
	if err != nil {
		return "", err
	}

	if err := s.dbSetBlock(block); err != nil {
		return "", err
	}

	state := badgerState{
		LastHeight:    block.Height(),
		LastBlockHash: block.Hex(),
	}
	if err := s.dbSetState(state); err != nil {
		return "", err
	}

	return root, nil
}

// GetEntry ...
func (s *BadgerStore) GetEntry(contentHash string) (*LedgerEntry, error) {
	return s.inmemStore.GetEntry(contentHash)
}

// GetBlock ...
func (s *BadgerStore) GetBlock(height int) (*types.Block, error) {
	block, err := s.inmemStore.GetBlock(height)
	if err != nil {
		block, err = s.dbGetBlock(height)
	}

	return block, err
}

// CommitmentAt ...
func (s *BadgerStore) CommitmentAt(height int) (string, error) {
	return s.inmemStore.CommitmentAt(height)
}

// Prove ...
func (s *BadgerStore) Prove(contentHash string, asOfHeight int) (*Proof, error) {
	return s.inmemStore.Prove(contentHash, asOfHeight)
}

// LastHeight ...
func (s *BadgerStore) LastHeight() int {
	return s.inmemStore.LastHeight()
}

// LastBlockHash ...
func (s *BadgerStore) LastBlockHash() string {
	return s.inmemStore.LastBlockHash()
}

// Contains ...
func (s *BadgerStore) Contains(contentHash string) bool {
	return s.inmemStore.Contains(contentHash)
}

// NeedBootstrap reports whether the store was opened from an existing
// database.
func (s *BadgerStore) NeedBootstrap() bool {
	return s.needBootstrap
}

// StorePath ...
func (s *BadgerStore) StorePath() string {
	return s.path
}

// Close ...
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func (s *BadgerStore) dbGetBlock(height int) (*types.Block, error) {
	var blockBytes []byte
	key := blockKey(height)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		blockBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, common.NewStoreErr("Block", common.KeyNotFound, string(key))
		}
		return nil, err
	}

	block := new(types.Block)
	if err := block.Unmarshal(blockBytes); err != nil {
		return nil, err
	}

	return block, nil
}

func (s *BadgerStore) dbSetBlock(block *types.Block) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	val, err := block.Marshal()
	if err != nil {
		return err
	}

	//insert [height] => [block bytes]
	if err := tx.Set(blockKey(block.Height()), val); err != nil {
		return err
	}

	//insert [entry_hash] => [entry bytes], for direct lookups by audit tools
	for i, t := range block.Transactions() {
		entry := &LedgerEntry{
			ContentHash:         t.ContentHash,
			BlockHeight:         block.Height(),
			PositionWithinBlock: i,
			SubmissionTime:      t.SubmissionTime,
		}
		entryBytes, err := entry.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Set(entryKey(t.ContentHash), entryBytes); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *BadgerStore) dbGetState() (badgerState, error) {
	var stateBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err != nil {
			return err
		}
		stateBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return badgerState{}, err
	}

	state := badgerState{}
	if err := state.unmarshal(stateBytes); err != nil {
		return badgerState{}, err
	}

	return state, nil
}

func (s *BadgerStore) dbSetState(state badgerState) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	val, err := state.marshal()
	if err != nil {
		return err
	}

	if err := tx.Set([]byte(stateKey), val); err != nil {
		return err
	}

	return tx.Commit()
}
