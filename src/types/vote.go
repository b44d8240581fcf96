package types

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
	"github.com/notarius/notarius/src/crypto/keys"
)

// VoteType distinguishes the two voting phases of a round.
type VoteType uint8

const (
	// VoteTypePreVote ...
	VoteTypePreVote VoteType = iota + 1
	// VoteTypePreCommit ...
	VoteTypePreCommit
)

// String ...
func (vt VoteType) String() string {
	switch vt {
	case VoteTypePreVote:
		return "PreVote"
	case VoteTypePreCommit:
		return "PreCommit"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(vt))
	}
}

// Vote is a validator's signed PreVote or PreCommit for a round. An empty
// BlockHash is a nil vote: the validator saw no acceptable block in time.
type Vote struct {
	Type      VoteType
	Round     int
	BlockHash string //empty = nil vote
	Validator string //hex public key of the voting validator
	Signature string
}

// NewVote ...
func NewVote(voteType VoteType, round int, blockHash, validatorHex string) *Vote {
	return &Vote{
		Type:      voteType,
		Round:     round,
		BlockHash: blockHash,
		Validator: validatorHex,
	}
}

// IsNil reports whether this is a nil vote.
func (v *Vote) IsNil() bool {
	return v.BlockHash == ""
}

// SignBytes returns the digest the validator signs: the SHA256 of the
// canonical encoding of the vote with the signature cleared.
func (v *Vote) SignBytes() ([]byte, error) {
	unsigned := *v
	unsigned.Signature = ""

	data, err := canonicalMarshal(unsigned)
	if err != nil {
		return nil, err
	}

	return crypto.SHA256(data), nil
}

// Sign ...
func (v *Vote) Sign(key *ecdsa.PrivateKey) error {
	signBytes, err := v.SignBytes()
	if err != nil {
		return err
	}

	r, s, err := keys.Sign(key, signBytes)
	if err != nil {
		return err
	}

	v.Signature = keys.EncodeSignature(r, s)

	return nil
}

// Verify checks the signature against the Validator public key.
func (v *Vote) Verify() (bool, error) {
	signBytes, err := v.SignBytes()
	if err != nil {
		return false, err
	}

	pubBytes, err := common.DecodeFromString(v.Validator)
	if err != nil {
		return false, err
	}
	pubKey := keys.ToPublicKey(pubBytes)

	r, s, err := keys.DecodeSignature(v.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, signBytes, r, s), nil
}

// Key identifies a vote slot: one validator, one round, one type. Duplicate
// deliveries of the same vote share a Key and are idempotent.
func (v *Vote) Key() string {
	return fmt.Sprintf("%d-%d-%s", v.Type, v.Round, v.Validator)
}
