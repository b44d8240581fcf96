// Package privval owns the validator's signing key and prevents double
// signing. The last signed round and step are persisted in a small bbolt
// file, so the guard survives a crash and restart.
package privval

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/notarius/notarius/src/crypto/keys"
	"github.com/notarius/notarius/src/types"
)

var (
	// ErrDoubleSign ...
	ErrDoubleSign = errors.New("double sign attempt")
	// ErrRoundRegression ...
	ErrRoundRegression = errors.New("round regression")
	// ErrStepRegression ...
	ErrStepRegression = errors.New("step regression")
)

// Step values order the signing phases within a round. A proposal comes
// before the votes.
const (
	StepPropose   int8 = 1
	StepPreVote   int8 = 2
	StepPreCommit int8 = 3
)

var (
	signStateBucket = []byte("sign_state")
	signStateKey    = []byte("last")
)

// lastSignState is what gets persisted after every signature.
type lastSignState struct {
	Round     int    `json:"round"`
	Step      int8   `json:"step"`
	BlockHash string `json:"block_hash"`
	Signature string `json:"signature"`
}

// checkRS reports whether signing at (round, step) is allowed given the last
// recorded signature. ErrDoubleSign means same slot; the caller may still
// re-issue the cached signature if the payload matches.
func (lss *lastSignState) checkRS(round int, step int8) error {
	if lss.Round > round {
		return ErrRoundRegression
	}
	if lss.Round == round {
		if lss.Step > step {
			return ErrStepRegression
		}
		if lss.Step == step {
			return ErrDoubleSign
		}
	}
	return nil
}

// Signer signs proposals and votes for one validator.
type Signer struct {
	mu sync.Mutex

	key    *ecdsa.PrivateKey
	pubHex string
	db     *bolt.DB

	last lastSignState
}

// NewSigner opens (or creates) the sign-state file at path and restores the
// last-signed watermark from it.
func NewSigner(key *ecdsa.PrivateKey, path string) (*Signer, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open sign state: %w", err)
	}

	s := &Signer{
		key:    key,
		pubHex: keys.PublicKeyHex(&key.PublicKey),
		db:     db,
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(signStateBucket)
		if err != nil {
			return err
		}

		data := b.Get(signStateKey)
		if data == nil {
			s.last = lastSignState{Round: -1}
			return nil
		}

		return json.Unmarshal(data, &s.last)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load sign state: %w", err)
	}

	return s, nil
}

// PublicKeyHex ...
func (s *Signer) PublicKeyHex() string {
	return s.pubHex
}

// SignProposal signs the block a leader is about to broadcast. The proposal
// step guards against proposing twice in one round.
func (s *Signer) SignProposal(block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := block.Round()
	if err := s.last.checkRS(round, StepPropose); err != nil {
		if err == ErrDoubleSign && s.last.BlockHash == block.Hex() {
			block.ProposerSignature = s.last.Signature
			return nil
		}
		return err
	}

	if err := block.Sign(s.key); err != nil {
		return err
	}

	return s.record(round, StepPropose, block.Hex(), block.ProposerSignature)
}

// SignVote signs a prevote or precommit, refusing any vote that would
// conflict with one already signed at the same round and step. Re-signing
// the identical vote returns the cached signature.
func (s *Signer) SignVote(vote *types.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := voteStep(vote.Type)
	if err := s.last.checkRS(vote.Round, step); err != nil {
		if err == ErrDoubleSign && s.last.BlockHash == vote.BlockHash {
			vote.Signature = s.last.Signature
			return nil
		}
		return err
	}

	if err := vote.Sign(s.key); err != nil {
		return err
	}

	return s.record(vote.Round, step, vote.BlockHash, vote.Signature)
}

// record persists the watermark before the signature leaves the process.
func (s *Signer) record(round int, step int8, blockHash, signature string) error {
	last := lastSignState{
		Round:     round,
		Step:      step,
		BlockHash: blockHash,
		Signature: signature,
	}

	data, err := json.Marshal(last)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(signStateBucket).Put(signStateKey, data)
	})
	if err != nil {
		return fmt.Errorf("persist sign state: %w", err)
	}

	s.last = last

	return nil
}

// Close ...
func (s *Signer) Close() error {
	return s.db.Close()
}

func voteStep(voteType types.VoteType) int8 {
	switch voteType {
	case types.VoteTypePreVote:
		return StepPreVote
	case types.VoteTypePreCommit:
		return StepPreCommit
	default:
		panic(fmt.Sprintf("privval: invalid vote type %d", voteType))
	}
}
