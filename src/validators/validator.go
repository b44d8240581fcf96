package validators

import (
	"crypto/ecdsa"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto/keys"
)

// Validator is a member of the consensus network. The validator set is fixed
// at genesis; membership does not change afterwards.
type Validator struct {
	NetAddr   string `json:"NetAddr"`
	PubKeyHex string `json:"PubKeyHex"`
	Moniker   string `json:"Moniker,omitempty"`

	id uint32
}

// NewValidator is a factory method for a Validator.
func NewValidator(pubKeyHex, netAddr, moniker string) *Validator {
	validator := &Validator{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}

	return validator
}

// PubKeyBytes returns the validator's public key as raw bytes.
func (v *Validator) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(v.PubKeyHex)
}

// PubKey returns the validator's ecdsa public key.
func (v *Validator) PubKey() *ecdsa.PublicKey {
	b, err := v.PubKeyBytes()
	if err != nil {
		return nil
	}
	return keys.ToPublicKey(b)
}

// ID returns a compact identifier derived from the public key.
func (v *Validator) ID() uint32 {
	if v.id == 0 {
		pubBytes, err := v.PubKeyBytes()
		if err != nil {
			return 0
		}
		v.id = keys.PublicKeyID(pubBytes)
	}
	return v.id
}
