package validators

import (
	"bytes"
	"encoding/json"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
)

// Set is the ordered, fixed set of validators forming the consensus network.
// The order is fixed at genesis and determines the leader schedule.
type Set struct {
	Validators []*Validator          `json:"validators"`
	ByPubKey   map[string]*Validator `json:"-"`
	ByID       map[uint32]*Validator `json:"-"`

	//cached values
	hash   []byte
	hex    string
	quorum *int
}

// NewSet creates a new Set from an ordered list of Validators.
func NewSet(vals []*Validator) *Set {
	set := &Set{
		ByPubKey: make(map[string]*Validator),
		ByID:     make(map[uint32]*Validator),
	}

	for _, val := range vals {
		set.ByPubKey[val.PubKeyHex] = val
		set.ByID[val.ID()] = val
	}

	set.Validators = vals

	return set
}

// Len returns the number of validators in the Set.
func (s *Set) Len() int {
	return len(s.Validators)
}

// Quorum returns the minimum number of matching votes required to finalize,
// 2n/3+1. Any two quorums overlap in at least one honest validator when at
// most FaultTolerance validators are faulty.
func (s *Set) Quorum() int {
	if s.quorum == nil {
		val := 2*s.Len()/3 + 1
		s.quorum = &val
	}
	return *s.quorum
}

// FaultTolerance returns f, the maximum number of Byzantine validators the
// set tolerates: (n-1)/3.
func (s *Set) FaultTolerance() int {
	return (s.Len() - 1) / 3
}

// Leader returns the validator responsible for proposing a block in the given
// round: round modulo n over the genesis-ordered list.
func (s *Set) Leader(round int) *Validator {
	if s.Len() == 0 {
		return nil
	}
	return s.Validators[round%s.Len()]
}

// Contains reports whether the public key belongs to the set.
func (s *Set) Contains(pubKeyHex string) bool {
	_, ok := s.ByPubKey[pubKeyHex]
	return ok
}

// PubKeys returns the Set's ordered slice of public keys.
func (s *Set) PubKeys() []string {
	res := []string{}

	for _, val := range s.Validators {
		res = append(res, val.PubKeyHex)
	}

	return res
}

// IDs returns the Set's ordered slice of IDs.
func (s *Set) IDs() []uint32 {
	res := []uint32{}

	for _, val := range s.Validators {
		res = append(res, val.ID())
	}

	return res
}

// Hash uniquely identifies a validator Set. It is computed by hashing (SHA256)
// the public keys together, one by one, in genesis order.
func (s *Set) Hash() ([]byte, error) {
	if len(s.hash) == 0 {
		hash := []byte{}
		for _, val := range s.Validators {
			pk, err := val.PubKeyBytes()
			if err != nil {
				return nil, err
			}
			hash = crypto.SimpleHashFromTwoHashes(hash, pk)
		}
		s.hash = hash
	}
	return s.hash, nil
}

// Hex is the hexadecimal representation of Hash.
func (s *Set) Hex() string {
	if len(s.hex) == 0 {
		hash, _ := s.Hash()
		s.hex = common.EncodeToString(hash)
	}
	return s.hex
}

// Marshal marshals the ordered validator list.
func (s *Set) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(s.Validators); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewSetFromSliceBytes creates a new Set from a JSON-encoded validator slice.
func NewSetFromSliceBytes(data []byte) (*Set, error) {
	vals := []*Validator{}

	b := bytes.NewBuffer(data)
	dec := json.NewDecoder(b)

	if err := dec.Decode(&vals); err != nil {
		return nil, err
	}

	return NewSet(vals), nil
}
