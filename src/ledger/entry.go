package ledger

import (
	"bytes"

	"github.com/ugorji/go/codec"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
)

// LedgerEntry records where a content hash landed in the chain. There is at
// most one entry per content hash.
type LedgerEntry struct {
	ContentHash         string //hex digest of the timestamped document
	BlockHeight         int
	PositionWithinBlock int
	SubmissionTime      int64 //unix nanoseconds, from the signed transaction
}

// Marshal ...
func (e *LedgerEntry) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *LedgerEntry) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(e)
}

// LeafHash returns the hex digest under which the entry appears in the
// Merkle commitment.
func (e *LedgerEntry) LeafHash() (string, error) {
	data, err := e.Marshal()
	if err != nil {
		return "", err
	}

	return common.EncodeToString(crypto.SHA256(data)), nil
}
