package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/notarius/notarius/src/crypto"
	"github.com/notarius/notarius/src/crypto/keys"
	"github.com/notarius/notarius/src/ledger"
	"github.com/notarius/notarius/src/types"
)

var (
	apiAddr       string
	clientKeyFile string
	proofHeight   int
)

// NewSubmitCmd produces the command that notarizes a file through a node's
// HTTP API.
func NewSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Timestamp a file's SHA256 digest",
		Args:  cobra.ExactArgs(1),
		RunE:  submit,
	}

	cmd.Flags().StringVar(&apiAddr, "api", "http://"+_config.ServiceAddr, "Address of a node's HTTP API")
	cmd.Flags().StringVar(&clientKeyFile, "key", _config.Keyfile(), "File containing the submitter's private key")

	return cmd
}

// NewProofCmd produces the command that retrieves and verifies an existence
// proof for a content hash.
func NewProofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof [content-hash]",
		Short: "Retrieve and verify an existence proof",
		Args:  cobra.ExactArgs(1),
		RunE:  fetchProof,
	}

	cmd.Flags().StringVar(&apiAddr, "api", "http://"+_config.ServiceAddr, "Address of a node's HTTP API")
	cmd.Flags().IntVar(&proofHeight, "height", -1, "Ledger height to anchor the proof at (-1 for latest)")

	return cmd
}

func submit(cmd *cobra.Command, args []string) error {
	content, err := ioutil.ReadFile(args[0])
	if err != nil {
		return err
	}

	key, err := keys.NewSimpleKeyfile(clientKeyFile).ReadKey()
	if err != nil {
		return fmt.Errorf("reading key from %s: %v", clientKeyFile, err)
	}

	tx, err := types.NewTransaction(crypto.SHA256(content), time.Now(), key)
	if err != nil {
		return err
	}

	body, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	resp, err := http.Post(apiAddr+"/tx", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var sr struct {
		Accepted bool   `json:"accepted"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return err
	}

	if !sr.Accepted {
		return fmt.Errorf("submission rejected: %s", sr.Reason)
	}

	fmt.Printf("Accepted: %s\n", tx.ContentHash)

	return nil
}

func fetchProof(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/proof/%s", apiAddr, args[0])
	if proofHeight >= 0 {
		url = fmt.Sprintf("%s?height=%d", url, proofHeight)
	}

	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("node returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var proof ledger.Proof
	if err := json.NewDecoder(resp.Body).Decode(&proof); err != nil {
		return err
	}

	ok, err := proof.Verify(proof.RootCommitment)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proof does not verify against its commitment")
	}

	out, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return nil
}
