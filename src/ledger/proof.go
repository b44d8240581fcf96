package ledger

import (
	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
)

// Proof is a self-contained existence proof for a ledger entry as of a given
// ledger height. Verify needs nothing beyond the proof itself and the root
// the verifier trusts.
type Proof struct {
	Entry              LedgerEntry
	LeafIndex          int
	AuthenticationPath []string //sibling hashes, leaf to root
	RootCommitment     string
}

// Verify recomputes the root from the entry and the authentication path and
// compares it to expectedRoot. It is a pure function: no ledger access, no
// network.
func (p *Proof) Verify(expectedRoot string) (bool, error) {
	leaf, err := p.Entry.LeafHash()
	if err != nil {
		return false, err
	}

	cur, err := common.DecodeFromString(leaf)
	if err != nil {
		return false, err
	}

	index := p.LeafIndex
	for _, s := range p.AuthenticationPath {
		sib, err := common.DecodeFromString(s)
		if err != nil {
			return false, err
		}
		if index%2 == 0 {
			cur = crypto.SimpleHashFromTwoHashes(cur, sib)
		} else {
			cur = crypto.SimpleHashFromTwoHashes(sib, cur)
		}
		index /= 2
	}

	return common.EncodeToString(cur) == expectedRoot && p.RootCommitment == expectedRoot, nil
}
