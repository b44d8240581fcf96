package types

import (
	"crypto/ecdsa"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
	"github.com/notarius/notarius/src/crypto/keys"
)

// BlockBody groups the fields covered by the proposer signature and the block
// hash.
type BlockBody struct {
	Height       int
	Round        int
	PreviousHash string //hash of the block at Height-1, empty at genesis
	Timestamp    int64  //proposer clock, unix nanoseconds
	Transactions []Transaction
	Proposer     string //hex public key of the round leader
}

//Marshal - canonical encoding of body only
func (bb *BlockBody) Marshal() ([]byte, error) {
	return canonicalMarshal(bb)
}

// Unmarshal ...
func (bb *BlockBody) Unmarshal(data []byte) error {
	return canonicalUnmarshal(data, bb)
}

// Hash ...
func (bb *BlockBody) Hash() ([]byte, error) {
	hashBytes, err := bb.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

// Block is an ordered batch of transactions at one position of the chain. It
// is terminal once Signatures holds a quorum of valid precommit signatures.
//
// Body.Round is the round the block was created in; CommitRound is the round
// it was finalized in. They differ when a block locked in one round gathers
// its precommit quorum in a later one. CommitRound lives outside the body so
// the hash is stable across re-proposals.
type Block struct {
	Body              BlockBody
	CommitRound       int
	ProposerSignature string
	Signatures        map[string]string // [validator hex] => precommit signature

	hash []byte
	hex  string
}

// NewBlock ...
func NewBlock(height, round int, previousHash string, timestamp int64, txs []Transaction, proposer string) *Block {
	body := BlockBody{
		Height:       height,
		Round:        round,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Transactions: txs,
		Proposer:     proposer,
	}

	return &Block{
		Body:        body,
		CommitRound: round,
		Signatures:  make(map[string]string),
	}
}

// Height ...
func (b *Block) Height() int {
	return b.Body.Height
}

// Round ...
func (b *Block) Round() int {
	return b.Body.Round
}

// PreviousHash ...
func (b *Block) PreviousHash() string {
	return b.Body.PreviousHash
}

// Transactions ...
func (b *Block) Transactions() []Transaction {
	return b.Body.Transactions
}

// Hash returns the SHA256 of the canonical encoding of the body. Signatures
// are not part of the hash: the same block carries different signature sets on
// different validators until finalization.
func (b *Block) Hash() ([]byte, error) {
	if len(b.hash) == 0 {
		hashBytes, err := b.Body.Marshal()
		if err != nil {
			return nil, err
		}
		b.hash = crypto.SHA256(hashBytes)
	}
	return b.hash, nil
}

// Hex ...
func (b *Block) Hex() string {
	if b.hex == "" {
		hash, _ := b.Hash()
		b.hex = common.EncodeToString(hash)
	}
	return b.hex
}

// Marshal ...
func (b *Block) Marshal() ([]byte, error) {
	w := wireBlock{
		Body:              b.Body,
		CommitRound:       b.CommitRound,
		ProposerSignature: b.ProposerSignature,
		Signatures:        b.Signatures,
	}
	return canonicalMarshal(w)
}

// Unmarshal ...
func (b *Block) Unmarshal(data []byte) error {
	var w wireBlock
	if err := canonicalUnmarshal(data, &w); err != nil {
		return err
	}

	b.Body = w.Body
	b.CommitRound = w.CommitRound
	b.ProposerSignature = w.ProposerSignature
	b.Signatures = w.Signatures
	if b.Signatures == nil {
		b.Signatures = make(map[string]string)
	}
	b.hash = nil
	b.hex = ""

	return nil
}

// wireBlock is the encoded form of a Block, without the cached hash fields.
type wireBlock struct {
	Body              BlockBody
	CommitRound       int
	ProposerSignature string
	Signatures        map[string]string
}

// Sign computes the proposer signature over the body hash.
func (b *Block) Sign(key *ecdsa.PrivateKey) error {
	signBytes, err := b.Body.Hash()
	if err != nil {
		return err
	}

	r, s, err := keys.Sign(key, signBytes)
	if err != nil {
		return err
	}

	b.ProposerSignature = keys.EncodeSignature(r, s)

	return nil
}

// VerifyProposerSignature checks the proposer signature against the Proposer
// public key announced in the body.
func (b *Block) VerifyProposerSignature() (bool, error) {
	signBytes, err := b.Body.Hash()
	if err != nil {
		return false, err
	}

	pubBytes, err := common.DecodeFromString(b.Body.Proposer)
	if err != nil {
		return false, err
	}
	pubKey := keys.ToPublicKey(pubBytes)

	r, s, err := keys.DecodeSignature(b.ProposerSignature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, signBytes, r, s), nil
}

// SetCommitSignature records a validator's precommit signature for this block.
func (b *Block) SetCommitSignature(validatorHex, signature string) {
	b.Signatures[validatorHex] = signature
}

// CommitSigCount returns the number of recorded precommit signatures.
func (b *Block) CommitSigCount() int {
	return len(b.Signatures)
}

// VerifyCommitSignature checks one of the block's precommit signatures. The
// signature is over the sign bytes of the precommit Vote for this block's
// hash and CommitRound, which makes a finalized block self-contained: any
// third party can reconstruct the vote and check the quorum.
func (b *Block) VerifyCommitSignature(validatorHex string) (bool, error) {
	sig, ok := b.Signatures[validatorHex]
	if !ok {
		return false, nil
	}

	vote := Vote{
		Type:      VoteTypePreCommit,
		Round:     b.CommitRound,
		BlockHash: b.Hex(),
		Validator: validatorHex,
		Signature: sig,
	}

	return vote.Verify()
}
