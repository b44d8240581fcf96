package consensus

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidVote ...
	ErrInvalidVote = errors.New("invalid vote")
	// ErrUnknownValidator ...
	ErrUnknownValidator = errors.New("vote from unknown validator")
	// ErrBadVoteSignature ...
	ErrBadVoteSignature = errors.New("bad vote signature")
	// ErrEngineShutdown ...
	ErrEngineShutdown = errors.New("engine is shut down")
	// ErrPoolFull ...
	ErrPoolFull = errors.New("transaction pool is full")
)

// ConflictingVoteError is returned when a validator signs two different
// block hashes at the same round and vote type. The conflicting pair is kept
// for accountability.
type ConflictingVoteError struct {
	Validator    string
	ExistingHash string
	NewHash      string
}

func (e *ConflictingVoteError) Error() string {
	return fmt.Sprintf("conflicting vote from %s: %s vs %s", e.Validator, e.ExistingHash, e.NewHash)
}

var (
	errBadProposerSignature = errors.New("bad proposer signature")
	errBrokenChain          = errors.New("proposal does not extend the last committed block")
)

func errNotLeader(proposer string) error {
	return fmt.Errorf("proposer %s is not the round leader", proposer)
}

func errBadHeight(got, expected int) error {
	return fmt.Errorf("proposal at height %d, expected %d", got, expected)
}
