package ledger

import (
	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
)

// merkleRoot folds a list of hex leaf hashes into a single root. An odd node
// at the end of a level is paired with itself. An empty list yields the empty
// string.
func merkleRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", nil
	}

	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		raw, err := common.DecodeFromString(l)
		if err != nil {
			return "", err
		}
		level[i] = raw
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, crypto.SimpleHashFromTwoHashes(level[i], right))
		}
		level = next
	}

	return common.EncodeToString(level[0]), nil
}

// merklePath returns the sibling hashes along the path from leaf index to the
// root, bottom up. Together with the leaf index, the siblings are enough to
// recompute the root: at each level an even index hashes (node, sibling) and
// an odd index hashes (sibling, node).
func merklePath(leaves []string, index int) ([]string, error) {
	if index < 0 || index >= len(leaves) {
		return nil, common.NewStoreErr("MerklePath", common.KeyNotFound, "")
	}

	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		raw, err := common.DecodeFromString(l)
		if err != nil {
			return nil, err
		}
		level[i] = raw
	}

	siblings := []string{}
	for len(level) > 1 {
		sib := index ^ 1
		if sib >= len(level) {
			sib = index
		}
		siblings = append(siblings, common.EncodeToString(level[sib]))

		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, crypto.SimpleHashFromTwoHashes(level[i], right))
		}
		level = next
		index /= 2
	}

	return siblings, nil
}
