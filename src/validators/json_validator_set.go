package validators

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"strings"
	"sync"
)

const jsonValidatorSetPath = "validators.json"

// JSONValidatorSet provides validator-set persistence on disk in the form of a
// JSON file. The file is written once at genesis and read at every start.
type JSONValidatorSet struct {
	l    sync.Mutex
	path string
}

// NewJSONValidatorSet creates a new JSONValidatorSet with reference to a base
// directory where the JSON file resides.
func NewJSONValidatorSet(base string) *JSONValidatorSet {
	store := &JSONValidatorSet{
		path: filepath.Join(base, jsonValidatorSetPath),
	}
	return store
}

// Set parses the underlying JSON file and returns the corresponding Set.
func (j *JSONValidatorSet) Set() (*Set, error) {
	j.l.Lock()
	defer j.l.Unlock()

	// Read the file
	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	// Check for no validators
	if len(buf) == 0 {
		return nil, nil
	}

	// Decode the validators
	var vals []*Validator
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&vals); err != nil {
		return nil, err
	}

	cleanseValidators(vals)

	return NewSet(vals), nil
}

// cleanseValidators standardises the public key strings to match the format
// derived from a private key.
func cleanseValidators(vals []*Validator) {
	for _, val := range vals {
		val.PubKeyHex = "0X" + strings.TrimPrefix((strings.ToUpper(val.PubKeyHex)), "0X")
	}
}

// Write persists an ordered validator list to a JSON file.
func (j *JSONValidatorSet) Write(vals []*Validator) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(vals); err != nil {
		return err
	}

	// Write out as JSON
	return ioutil.WriteFile(j.path, buf.Bytes(), 0755)
}
