package ledger

import (
	"sync"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/types"
)

// InmemStore keeps the whole ledger in memory. It is the reference
// implementation of Store and the cache layer behind BadgerStore.
type InmemStore struct {
	sync.RWMutex

	entries     map[string]*LedgerEntry
	leaves      []string       //leaf hashes in global insertion order
	leafIndex   map[string]int //content hash to position in leaves
	blocks      []*types.Block
	commitments []string //Merkle root per height
	leafCounts  []int    //leaves committed through each height

	lastBlockHash string
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		entries:     make(map[string]*LedgerEntry),
		leaves:      []string{},
		leafIndex:   make(map[string]int),
		blocks:      []*types.Block{},
		commitments: []string{},
		leafCounts:  []int{},
	}
}

// ApplyBlock records a finalized block. Blocks must arrive in strict height
// order; the first block has height 0 and an empty previous hash. The block
// is validated in full before any state is touched, so a rejected block
// leaves the store unchanged. It returns the Merkle commitment at the
// block's height.
func (s *InmemStore) ApplyBlock(block *types.Block) (string, error) {
	s.Lock()
	defer s.Unlock()

	expected := len(s.blocks)
	if block.Height() < expected {
		return "", common.NewStoreErr("Block", common.PassedHeight, block.Hex())
	}
	if block.Height() > expected {
		return "", common.NewStoreErr("Block", common.SkippedHeight, block.Hex())
	}
	if block.PreviousHash() != s.lastBlockHash {
		return "", common.NewStoreErr("Block", common.Corrupt, block.Hex())
	}

	newEntries := []*LedgerEntry{}
	newLeaves := []string{}
	for i, tx := range block.Transactions() {
		if _, ok := s.entries[tx.ContentHash]; ok {
			return "", common.NewStoreErr("LedgerEntry", common.KeyAlreadyExists, tx.ContentHash)
		}
		for _, prior := range newEntries {
			if prior.ContentHash == tx.ContentHash {
				return "", common.NewStoreErr("LedgerEntry", common.KeyAlreadyExists, tx.ContentHash)
			}
		}

		entry := &LedgerEntry{
			ContentHash:         tx.ContentHash,
			BlockHeight:         block.Height(),
			PositionWithinBlock: i,
			SubmissionTime:      tx.SubmissionTime,
		}

		leaf, err := entry.LeafHash()
		if err != nil {
			return "", err
		}

		newEntries = append(newEntries, entry)
		newLeaves = append(newLeaves, leaf)
	}

	root, err := merkleRoot(append(append([]string{}, s.leaves...), newLeaves...))
	if err != nil {
		return "", err
	}

	for i, entry := range newEntries {
		s.entries[entry.ContentHash] = entry
		s.leafIndex[entry.ContentHash] = len(s.leaves) + i
	}
	s.leaves = append(s.leaves, newLeaves...)
	s.blocks = append(s.blocks, block)
	s.commitments = append(s.commitments, root)
	s.leafCounts = append(s.leafCounts, len(s.leaves))
	s.lastBlockHash = block.Hex()

	return root, nil
}

// GetEntry ...
func (s *InmemStore) GetEntry(contentHash string) (*LedgerEntry, error) {
	s.RLock()
	defer s.RUnlock()

	entry, ok := s.entries[contentHash]
	if !ok {
		return nil, common.NewStoreErr("LedgerEntry", common.KeyNotFound, contentHash)
	}

	return entry, nil
}

// GetBlock ...
func (s *InmemStore) GetBlock(height int) (*types.Block, error) {
	s.RLock()
	defer s.RUnlock()

	if height < 0 || height >= len(s.blocks) {
		return nil, common.NewStoreErr("Block", common.KeyNotFound, blockKeyString(height))
	}

	return s.blocks[height], nil
}

// CommitmentAt returns the Merkle root published at the given height. An
// empty block re-publishes the previous root.
func (s *InmemStore) CommitmentAt(height int) (string, error) {
	s.RLock()
	defer s.RUnlock()

	if height < 0 || height >= len(s.commitments) {
		return "", common.NewStoreErr("Commitment", common.KeyNotFound, blockKeyString(height))
	}

	return s.commitments[height], nil
}

// Prove builds an existence proof for contentHash against the commitment at
// asOfHeight. The entry must have been committed at or before that height.
func (s *InmemStore) Prove(contentHash string, asOfHeight int) (*Proof, error) {
	s.RLock()
	defer s.RUnlock()

	entry, ok := s.entries[contentHash]
	if !ok || entry.BlockHeight > asOfHeight {
		return nil, common.NewStoreErr("LedgerEntry", common.KeyNotFound, contentHash)
	}
	if asOfHeight >= len(s.leafCounts) {
		return nil, common.NewStoreErr("Commitment", common.KeyNotFound, blockKeyString(asOfHeight))
	}

	index := s.leafIndex[contentHash]
	siblings, err := merklePath(s.leaves[:s.leafCounts[asOfHeight]], index)
	if err != nil {
		return nil, err
	}

	return &Proof{
		Entry:              *entry,
		LeafIndex:          index,
		AuthenticationPath: siblings,
		RootCommitment:     s.commitments[asOfHeight],
	}, nil
}

// LastHeight returns the height of the last applied block, or -1 when the
// ledger is empty.
func (s *InmemStore) LastHeight() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.blocks) - 1
}

// LastBlockHash ...
func (s *InmemStore) LastBlockHash() string {
	s.RLock()
	defer s.RUnlock()

	return s.lastBlockHash
}

// Contains reports whether a content hash is already committed. It backs
// duplicate detection on the submission path.
func (s *InmemStore) Contains(contentHash string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.entries[contentHash]

	return ok
}

// EntryCount ...
func (s *InmemStore) EntryCount() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.entries)
}

// Close ...
func (s *InmemStore) Close() error {
	return nil
}
