package types

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// canonicalMarshal encodes v with a canonical JSON codec: map keys are sorted
// so the same value always yields the same bytes on every validator.
func canonicalMarshal(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// canonicalUnmarshal decodes data produced by canonicalMarshal.
func canonicalUnmarshal(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(v)
}
