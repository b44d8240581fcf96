package types

import (
	"reflect"
	"testing"
	"time"

	"github.com/notarius/notarius/src/crypto/keys"
)

func newTestBlock(t *testing.T) (*Block, string) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	proposer := keys.PublicKeyHex(&key.PublicKey)

	tx1 := newTestTransaction(t, "doc one", 0)
	tx2 := newTestTransaction(t, "doc two", 0)

	block := NewBlock(0, 0, "", time.Now().UnixNano(), []Transaction{*tx1, *tx2}, proposer)

	if err := block.Sign(key); err != nil {
		t.Fatal(err)
	}

	return block, proposer
}

func TestBlockHashStable(t *testing.T) {
	block, _ := newTestBlock(t)

	h1, err := block.Hash()
	if err != nil {
		t.Fatal(err)
	}

	// signatures and the commit round are not part of the hash
	block.SetCommitSignature("0XAA", "sig")

	fresh := &Block{Body: block.Body, CommitRound: 9, Signatures: map[string]string{}}
	h2, err := fresh.Hash()
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(h1, h2) {
		t.Fatal("block hash should cover the body only")
	}
}

func TestBlockProposerSignature(t *testing.T) {
	block, _ := newTestBlock(t)

	ok, err := block.VerifyProposerSignature()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("proposer signature should verify")
	}

	tampered := &Block{Body: block.Body, ProposerSignature: block.ProposerSignature, Signatures: map[string]string{}}
	tampered.Body.Round++

	ok, err = tampered.VerifyProposerSignature()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("tampered block should not verify")
	}
}

func TestBlockCommitSignatures(t *testing.T) {
	block, _ := newTestBlock(t)

	key, _ := keys.GenerateECDSAKey()
	valHex := keys.PublicKeyHex(&key.PublicKey)

	// finalized two rounds after creation, like a locked block
	block.CommitRound = block.Round() + 2

	vote := NewVote(VoteTypePreCommit, block.CommitRound, block.Hex(), valHex)
	if err := vote.Sign(key); err != nil {
		t.Fatal(err)
	}

	block.SetCommitSignature(valHex, vote.Signature)

	if block.CommitSigCount() != 1 {
		t.Fatalf("expected 1 commit signature, got %d", block.CommitSigCount())
	}

	ok, err := block.VerifyCommitSignature(valHex)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("commit signature should verify")
	}

	// an unknown validator has no signature to verify
	ok, _ = block.VerifyCommitSignature("0XFF")
	if ok {
		t.Fatal("missing signature should not verify")
	}
}

func TestBlockMarshal(t *testing.T) {
	block, _ := newTestBlock(t)
	block.CommitRound = 3
	block.SetCommitSignature("0XAA", "sig")

	data, err := block.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var decoded Block
	if err := decoded.Unmarshal(data); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(decoded.Body, block.Body) {
		t.Fatal("decoded body should match")
	}
	if decoded.CommitRound != block.CommitRound {
		t.Fatal("decoded commit round should match")
	}
	if decoded.ProposerSignature != block.ProposerSignature {
		t.Fatal("decoded proposer signature should match")
	}
	if !reflect.DeepEqual(decoded.Signatures, block.Signatures) {
		t.Fatal("decoded signatures should match")
	}
	if decoded.Hex() != block.Hex() {
		t.Fatal("decoded block hash should match")
	}
}
