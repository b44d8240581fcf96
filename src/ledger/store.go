package ledger

import "github.com/notarius/notarius/src/types"

// Store is the ledger's persistence interface. ApplyBlock is the only write
// path; it is called with finalized blocks in strict height order.
type Store interface {
	ApplyBlock(block *types.Block) (string, error)
	GetEntry(contentHash string) (*LedgerEntry, error)
	GetBlock(height int) (*types.Block, error)
	CommitmentAt(height int) (string, error)
	Prove(contentHash string, asOfHeight int) (*Proof, error)
	LastHeight() int
	LastBlockHash() string
	Contains(contentHash string) bool
	Close() error
}
