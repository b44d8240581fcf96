package consensus

import (
	"crypto/ecdsa"
	"testing"

	"github.com/notarius/notarius/src/crypto/keys"
	"github.com/notarius/notarius/src/types"
	"github.com/notarius/notarius/src/validators"
)

func newTestValidators(t *testing.T, n int) (*validators.Set, []*ecdsa.PrivateKey) {
	vals := []*validators.Validator{}
	privKeys := []*ecdsa.PrivateKey{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		privKeys = append(privKeys, key)
		vals = append(vals, validators.NewValidator(keys.PublicKeyHex(&key.PublicKey), "", ""))
	}
	return validators.NewSet(vals), privKeys
}

func signedVote(t *testing.T, voteType types.VoteType, round int, hash string, key *ecdsa.PrivateKey) *types.Vote {
	vote := types.NewVote(voteType, round, hash, keys.PublicKeyHex(&key.PublicKey))
	if err := vote.Sign(key); err != nil {
		t.Fatal(err)
	}
	return vote
}

func TestVoteSetQuorum(t *testing.T) {
	valSet, privKeys := newTestValidators(t, 4)
	vs := NewVoteSet(0, types.VoteTypePreVote, valSet)

	// quorum for 4 validators is 3
	for i := 0; i < 2; i++ {
		added, err := vs.AddVote(signedVote(t, types.VoteTypePreVote, 0, "0XABCD", privKeys[i]))
		if err != nil {
			t.Fatal(err)
		}
		if !added {
			t.Fatal("vote should be added")
		}
		if _, ok := vs.Quorum(); ok {
			t.Fatalf("no quorum expected after %d votes", i+1)
		}
	}

	if _, err := vs.AddVote(signedVote(t, types.VoteTypePreVote, 0, "0XABCD", privKeys[2])); err != nil {
		t.Fatal(err)
	}

	hash, ok := vs.Quorum()
	if !ok {
		t.Fatal("expected quorum after 3 votes")
	}
	if hash != "0XABCD" {
		t.Fatalf("quorum for wrong hash: %s", hash)
	}
}

func TestVoteSetNilQuorum(t *testing.T) {
	valSet, privKeys := newTestValidators(t, 4)
	vs := NewVoteSet(1, types.VoteTypePreCommit, valSet)

	for i := 0; i < 3; i++ {
		if _, err := vs.AddVote(signedVote(t, types.VoteTypePreCommit, 1, "", privKeys[i])); err != nil {
			t.Fatal(err)
		}
	}

	hash, ok := vs.Quorum()
	if !ok || hash != "" {
		t.Fatalf("expected nil quorum, got (%q, %v)", hash, ok)
	}
}

func TestVoteSetDuplicate(t *testing.T) {
	valSet, privKeys := newTestValidators(t, 4)
	vs := NewVoteSet(0, types.VoteTypePreVote, valSet)

	vote := signedVote(t, types.VoteTypePreVote, 0, "0XABCD", privKeys[0])
	if added, err := vs.AddVote(vote); err != nil || !added {
		t.Fatalf("first delivery: added=%v err=%v", added, err)
	}

	// redelivery is benign
	added, err := vs.AddVote(vote)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Fatal("duplicate should not be added twice")
	}
	if vs.Len() != 1 {
		t.Fatalf("expected 1 vote, got %d", vs.Len())
	}
}

func TestVoteSetConflict(t *testing.T) {
	valSet, privKeys := newTestValidators(t, 4)
	vs := NewVoteSet(0, types.VoteTypePreVote, valSet)

	if _, err := vs.AddVote(signedVote(t, types.VoteTypePreVote, 0, "0XABCD", privKeys[0])); err != nil {
		t.Fatal(err)
	}

	_, err := vs.AddVote(signedVote(t, types.VoteTypePreVote, 0, "0XBEEF", privKeys[0]))
	conflict, ok := err.(*ConflictingVoteError)
	if !ok {
		t.Fatalf("expected ConflictingVoteError, got %v", err)
	}
	if conflict.ExistingHash != "0XABCD" || conflict.NewHash != "0XBEEF" {
		t.Fatalf("conflict should carry both hashes: %+v", conflict)
	}

	// the first vote stands
	if vs.byBlock["0XABCD"] != 1 || vs.byBlock["0XBEEF"] != 0 {
		t.Fatal("equivocation should not change the tally")
	}
}

func TestVoteSetForgedConflict(t *testing.T) {
	valSet, privKeys := newTestValidators(t, 4)
	vs := NewVoteSet(0, types.VoteTypePreVote, valSet)

	if _, err := vs.AddVote(signedVote(t, types.VoteTypePreVote, 0, "0XABCD", privKeys[0])); err != nil {
		t.Fatal(err)
	}

	// an unsigned vote contradicting a recorded one is forgery by whoever
	// relayed it, not equivocation by the named validator
	forged := types.NewVote(types.VoteTypePreVote, 0, "0XBEEF", keys.PublicKeyHex(&privKeys[0].PublicKey))

	_, err := vs.AddVote(forged)
	if err != ErrBadVoteSignature {
		t.Fatalf("expected ErrBadVoteSignature, got %v", err)
	}
	if _, ok := err.(*ConflictingVoteError); ok {
		t.Fatal("a forged vote must not be recorded as equivocation")
	}
	if vs.byBlock["0XABCD"] != 1 || vs.byBlock["0XBEEF"] != 0 {
		t.Fatal("forged vote should not change the tally")
	}
}

func TestVoteSetRejections(t *testing.T) {
	valSet, privKeys := newTestValidators(t, 4)
	vs := NewVoteSet(0, types.VoteTypePreVote, valSet)

	// wrong round
	if _, err := vs.AddVote(signedVote(t, types.VoteTypePreVote, 1, "0XABCD", privKeys[0])); err != ErrInvalidVote {
		t.Fatalf("expected ErrInvalidVote, got %v", err)
	}

	// wrong type
	if _, err := vs.AddVote(signedVote(t, types.VoteTypePreCommit, 0, "0XABCD", privKeys[0])); err != ErrInvalidVote {
		t.Fatalf("expected ErrInvalidVote, got %v", err)
	}

	// non-member
	stranger, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vs.AddVote(signedVote(t, types.VoteTypePreVote, 0, "0XABCD", stranger)); err != ErrUnknownValidator {
		t.Fatalf("expected ErrUnknownValidator, got %v", err)
	}

	// bad signature
	forged := signedVote(t, types.VoteTypePreVote, 0, "0XABCD", privKeys[0])
	forged.BlockHash = "0XBEEF"
	if _, err := vs.AddVote(forged); err != ErrBadVoteSignature {
		t.Fatalf("expected ErrBadVoteSignature, got %v", err)
	}
}

func TestVotesForOrdered(t *testing.T) {
	valSet, privKeys := newTestValidators(t, 4)
	vs := NewVoteSet(0, types.VoteTypePreCommit, valSet)

	// add in reverse order, VotesFor must come back in set order
	for i := len(privKeys) - 1; i >= 0; i-- {
		if _, err := vs.AddVote(signedVote(t, types.VoteTypePreCommit, 0, "0XABCD", privKeys[i])); err != nil {
			t.Fatal(err)
		}
	}

	votes := vs.VotesFor("0XABCD")
	if len(votes) != 4 {
		t.Fatalf("expected 4 votes, got %d", len(votes))
	}
	for i, vote := range votes {
		if vote.Validator != valSet.Validators[i].PubKeyHex {
			t.Fatal("votes should follow validator set order")
		}
	}
}
