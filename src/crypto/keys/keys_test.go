package keys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/notarius/notarius/src/crypto"
)

func TestSimpleKeyfile(t *testing.T) {
	dir, err := ioutil.TempDir("", "notarius")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	keyfile := filepath.Join(dir, "priv_key")

	simpleKeyfile := NewSimpleKeyfile(keyfile)

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key
	key, _ = GenerateECDSAKey()
	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(*nKey, *key) {
		t.Fatalf("Keys do not match")
	}
}

func TestKeyfilePermissions(t *testing.T) {
	dir, err := ioutil.TempDir("", "notarius")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	keyfile := filepath.Join(dir, "priv_key")

	simpleKeyfile := NewSimpleKeyfile(keyfile)

	key, _ := GenerateECDSAKey()
	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// loosen permissions; the file should be rejected
	if err := os.Chmod(keyfile, 0644); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		t.Fatalf("ReadKey should refuse a group/other-readable keyfile")
	}
}

func TestSignatureEncoding(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	msg := "J'aime mieux forger mon ame que la meubler"
	msgBytes := []byte(msg)
	msgHashBytes := crypto.SHA256(msgBytes)

	r, s, _ := Sign(privKey, msgHashBytes)

	encodedSig := EncodeSignature(r, s)

	dr, ds, err := DecodeSignature(encodedSig)
	if err != nil {
		t.Logf("r: %#v", r)
		t.Logf("s: %#v", s)
		t.Logf("error decoding %v", encodedSig)
		t.Fatal(err)
	}

	if r.Cmp(dr) != 0 {
		t.Fatalf("Signature Rs defer")
	}

	if s.Cmp(ds) != 0 {
		t.Fatalf("Signature Ss defer")
	}
}

func TestSignVerify(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	digest := crypto.SHA256([]byte("content to notarize"))

	r, s, err := Sign(privKey, digest)
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(&privKey.PublicKey, digest, r, s) {
		t.Fatal("signature should verify")
	}

	otherDigest := crypto.SHA256([]byte("other content"))
	if Verify(&privKey.PublicKey, otherDigest, r, s) {
		t.Fatal("signature should not verify against another digest")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	raw := FromPublicKey(&privKey.PublicKey)

	pub := ToPublicKey(raw)
	if pub == nil {
		t.Fatal("ToPublicKey returned nil")
	}

	if !reflect.DeepEqual(pub, &privKey.PublicKey) {
		t.Fatal("public keys do not match")
	}

	if PublicKeyID(raw) != PublicKeyID(raw) {
		t.Fatal("PublicKeyID should be deterministic")
	}
}
