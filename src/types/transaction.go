package types

import (
	"crypto/ecdsa"
	"time"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
	"github.com/notarius/notarius/src/crypto/keys"
)

// Transaction is a client's request to timestamp a content hash. It is
// immutable once signed: the signature covers every other field.
type Transaction struct {
	ContentHash    string //hex digest of the notarized content
	Submitter      string //hex public key of the submitting client
	SubmissionTime int64  //client clock, unix nanoseconds
	Signature      string
}

// NewTransaction creates and signs a Transaction for the given content hash.
func NewTransaction(contentHash []byte, submissionTime time.Time, key *ecdsa.PrivateKey) (*Transaction, error) {
	tx := &Transaction{
		ContentHash:    common.EncodeToString(contentHash),
		Submitter:      keys.PublicKeyHex(&key.PublicKey),
		SubmissionTime: submissionTime.UnixNano(),
	}

	if err := tx.Sign(key); err != nil {
		return nil, err
	}

	return tx, nil
}

// SignBytes returns the digest that the submitter signs: the SHA256 of the
// canonical encoding of the transaction with the signature cleared.
func (tx *Transaction) SignBytes() ([]byte, error) {
	unsigned := *tx
	unsigned.Signature = ""

	data, err := canonicalMarshal(unsigned)
	if err != nil {
		return nil, err
	}

	return crypto.SHA256(data), nil
}

// Sign computes the submitter signature. The key must match the Submitter
// field.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	signBytes, err := tx.SignBytes()
	if err != nil {
		return err
	}

	r, s, err := keys.Sign(key, signBytes)
	if err != nil {
		return err
	}

	tx.Signature = keys.EncodeSignature(r, s)

	return nil
}

// Verify checks the submitter signature against the Submitter public key.
func (tx *Transaction) Verify() (bool, error) {
	signBytes, err := tx.SignBytes()
	if err != nil {
		return false, err
	}

	pubBytes, err := common.DecodeFromString(tx.Submitter)
	if err != nil {
		return false, err
	}
	pubKey := keys.ToPublicKey(pubBytes)

	r, s, err := keys.DecodeSignature(tx.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, signBytes, r, s), nil
}

// Marshal ...
func (tx *Transaction) Marshal() ([]byte, error) {
	return canonicalMarshal(tx)
}

// Unmarshal ...
func (tx *Transaction) Unmarshal(data []byte) error {
	return canonicalUnmarshal(data, tx)
}

// Hash returns the SHA256 of the full canonical encoding, used for pool
// bookkeeping.
func (tx *Transaction) Hash() ([]byte, error) {
	data, err := tx.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(data), nil
}
