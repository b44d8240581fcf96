package crypto

import (
	"bytes"
	"testing"
)

func TestSHA256Deterministic(t *testing.T) {
	h1 := SHA256([]byte("time for beer"))
	h2 := SHA256([]byte("time for beer"))

	if !bytes.Equal(h1, h2) {
		t.Fatal("SHA256 should be deterministic")
	}

	if len(h1) != DigestLength {
		t.Fatalf("digest length should be %d, not %d", DigestLength, len(h1))
	}
}

func TestSimpleHashFromTwoHashes(t *testing.T) {
	left := SHA256([]byte("left"))
	right := SHA256([]byte("right"))

	lr := SimpleHashFromTwoHashes(left, right)
	rl := SimpleHashFromTwoHashes(right, left)

	if bytes.Equal(lr, rl) {
		t.Fatal("pair hash should not be commutative")
	}

	if !bytes.Equal(lr, SimpleHashFromTwoHashes(left, right)) {
		t.Fatal("pair hash should be deterministic")
	}
}
