package consensus

import (
	"github.com/notarius/notarius/src/types"
	"github.com/notarius/notarius/src/validators"
)

// VoteSet tallies votes of one type for one round. Votes are keyed by
// validator, so duplicate deliveries are idempotent; a validator signing two
// different hashes in the same set is equivocation.
type VoteSet struct {
	round      int
	voteType   types.VoteType
	validators *validators.Set

	votes   map[string]*types.Vote //by validator hex public key
	byBlock map[string]int         //tally per block hash, "" is the nil vote
	maj23   *string                //block hash that reached quorum, once any
}

// NewVoteSet ...
func NewVoteSet(round int, voteType types.VoteType, validators *validators.Set) *VoteSet {
	return &VoteSet{
		round:      round,
		voteType:   voteType,
		validators: validators,
		votes:      make(map[string]*types.Vote),
		byBlock:    make(map[string]int),
	}
}

// AddVote verifies and records a vote. It returns true when the vote was
// added, and (false, nil) for a benign duplicate. Conflicting votes return a
// ConflictingVoteError carrying both hashes.
func (vs *VoteSet) AddVote(vote *types.Vote) (bool, error) {
	if vote.Round != vs.round || vote.Type != vs.voteType {
		return false, ErrInvalidVote
	}

	if !vs.validators.Contains(vote.Validator) {
		return false, ErrUnknownValidator
	}

	existing, seen := vs.votes[vote.Validator]
	if seen && existing.BlockHash == vote.BlockHash {
		return false, nil
	}

	if ok, err := vote.Verify(); err != nil || !ok {
		return false, ErrBadVoteSignature
	}

	// only a vote that actually carries the validator's signature counts
	// as equivocation
	if seen {
		return false, &ConflictingVoteError{
			Validator:    vote.Validator,
			ExistingHash: existing.BlockHash,
			NewHash:      vote.BlockHash,
		}
	}

	vs.votes[vote.Validator] = vote
	vs.byBlock[vote.BlockHash]++

	if vs.maj23 == nil && vs.byBlock[vote.BlockHash] >= vs.validators.Quorum() {
		hash := vote.BlockHash
		vs.maj23 = &hash
	}

	return true, nil
}

// Quorum returns the block hash that gathered 2/3+ votes. The bool is false
// while no hash has a quorum; an empty string with true means a nil quorum.
func (vs *VoteSet) Quorum() (string, bool) {
	if vs.maj23 == nil {
		return "", false
	}
	return *vs.maj23, true
}

// VotesFor returns the recorded votes for a block hash, in validator set
// order so every node assembles identical commit signatures.
func (vs *VoteSet) VotesFor(blockHash string) []*types.Vote {
	votes := []*types.Vote{}
	for _, v := range vs.validators.Validators {
		if vote, ok := vs.votes[v.PubKeyHex]; ok && vote.BlockHash == blockHash {
			votes = append(votes, vote)
		}
	}
	return votes
}

// Len ...
func (vs *VoteSet) Len() int {
	return len(vs.votes)
}

// roundVoteSet pairs the two tallies of a round.
type roundVoteSet struct {
	prevotes   *VoteSet
	precommits *VoteSet
}

func newRoundVoteSet(round int, validators *validators.Set) *roundVoteSet {
	return &roundVoteSet{
		prevotes:   NewVoteSet(round, types.VoteTypePreVote, validators),
		precommits: NewVoteSet(round, types.VoteTypePreCommit, validators),
	}
}
