package consensus

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
	"github.com/notarius/notarius/src/crypto/keys"
	"github.com/notarius/notarius/src/ledger"
	"github.com/notarius/notarius/src/privval"
	"github.com/notarius/notarius/src/types"
)

func fastConfig() Config {
	conf := DefaultConfig()
	conf.Timeouts = fastTimeouts()
	return conf
}

// copyBlock delivers a fresh copy, as the wire would; commit mutates blocks,
// so engines must not share one.
func copyBlock(block *types.Block) *types.Block {
	data, err := block.Marshal()
	if err != nil {
		panic(err)
	}
	cp := &types.Block{}
	if err := cp.Unmarshal(data); err != nil {
		panic(err)
	}
	return cp
}

// fanoutBroadcaster delivers messages to every engine except the sender's,
// skipping silenced validators in both directions.
type fanoutBroadcaster struct {
	self     int
	engines  []*Engine
	silenced map[int]bool
}

func (b *fanoutBroadcaster) BroadcastProposal(block *types.Block) {
	if b.silenced[b.self] {
		return
	}
	for i, e := range b.engines {
		if i == b.self || b.silenced[i] {
			continue
		}
		e.ReceiveProposal(copyBlock(block))
	}
}

func (b *fanoutBroadcaster) BroadcastVote(vote *types.Vote) {
	if b.silenced[b.self] {
		return
	}
	for i, e := range b.engines {
		if i == b.self || b.silenced[i] {
			continue
		}
		e.ReceiveVote(vote)
	}
}

func newTestEngines(t *testing.T, n int, silenced map[int]bool) ([]*Engine, []*ecdsa.PrivateKey, string) {
	dir, err := ioutil.TempDir("", "engine")
	if err != nil {
		t.Fatal(err)
	}

	valSet, privKeys := newTestValidators(t, n)

	engines := make([]*Engine, n)
	for i := 0; i < n; i++ {
		signer, err := privval.NewSigner(privKeys[i], filepath.Join(dir, fmt.Sprintf("pv_%d.db", i)))
		if err != nil {
			t.Fatal(err)
		}

		broadcaster := &fanoutBroadcaster{self: i, engines: engines, silenced: silenced}
		engines[i] = NewEngine(fastConfig(), valSet, ledger.NewInmemStore(), signer, broadcaster, common.NewTestEntry(t))
	}

	return engines, privKeys, dir
}

func newSignedTx(t *testing.T, content string) *types.Transaction {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	tx, err := types.NewTransaction(crypto.SHA256([]byte(content)), time.Now(), key)
	if err != nil {
		t.Fatal(err)
	}

	return tx
}

func waitForCommit(t *testing.T, e *Engine, timeout time.Duration) *types.Block {
	select {
	case block := <-e.CommitCh():
		return block
	case <-time.After(timeout):
		t.Fatal("no block committed in time")
		return nil
	}
}

func TestSingleValidatorCommit(t *testing.T) {
	engines, _, dir := newTestEngines(t, 1, nil)
	defer os.RemoveAll(dir)

	e := engines[0]

	tx := newSignedTx(t, "the document")
	if err := e.SubmitTransaction(tx); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	block := waitForCommit(t, e, 5*time.Second)

	if block.Height() != 0 {
		t.Fatalf("first block should be at height 0, got %d", block.Height())
	}
	if len(block.Transactions()) != 1 || block.Transactions()[0].ContentHash != tx.ContentHash {
		t.Fatal("committed block should carry the submitted transaction")
	}
	if block.CommitSigCount() < 1 {
		t.Fatal("committed block should carry a quorum signature")
	}

	entry, err := e.store.GetEntry(tx.ContentHash)
	if err != nil {
		t.Fatal(err)
	}
	if entry.BlockHeight != 0 {
		t.Fatalf("entry recorded at wrong height: %d", entry.BlockHeight)
	}
}

func TestFourValidatorCommit(t *testing.T) {
	engines, _, dir := newTestEngines(t, 4, nil)
	defer os.RemoveAll(dir)

	tx := newSignedTx(t, "four validator doc")
	for _, e := range engines {
		if err := e.SubmitTransaction(tx); err != nil {
			t.Fatal(err)
		}
	}

	for _, e := range engines {
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		for _, e := range engines {
			e.Shutdown()
		}
	}()

	blocks := make([]*types.Block, len(engines))
	for i, e := range engines {
		blocks[i] = waitForCommit(t, e, 10*time.Second)
	}

	// all validators finalize the same block with a quorum of signatures
	for i, block := range blocks {
		if block.Hex() != blocks[0].Hex() {
			t.Fatalf("validator %d committed a different block", i)
		}
		if block.CommitSigCount() < 3 {
			t.Fatalf("expected at least 3 commit signatures, got %d", block.CommitSigCount())
		}
		for val := range block.Signatures {
			ok, err := block.VerifyCommitSignature(val)
			if err != nil || !ok {
				t.Fatalf("commit signature from %s should verify", val)
			}
		}
	}
}

func TestCommitWithSilentValidator(t *testing.T) {
	// f=1 for n=4, one silent validator must not stop progress
	engines, _, dir := newTestEngines(t, 4, map[int]bool{3: true})
	defer os.RemoveAll(dir)

	tx := newSignedTx(t, "progress with a silent peer")
	for i, e := range engines {
		if i == 3 {
			continue
		}
		if err := e.SubmitTransaction(tx); err != nil {
			t.Fatal(err)
		}
	}

	for _, e := range engines {
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		for _, e := range engines {
			e.Shutdown()
		}
	}()

	for i := 0; i < 3; i++ {
		block := waitForCommit(t, engines[i], 30*time.Second)
		if got := block.CommitSigCount(); got != 3 {
			t.Fatalf("expected exactly 3 commit signatures, got %d", got)
		}
		if _, ok := block.Signatures[engines[3].pubKeyHex]; ok {
			t.Fatal("silent validator should not appear in commit signatures")
		}
	}
}

func TestSubmitTransactionRejections(t *testing.T) {
	engines, _, dir := newTestEngines(t, 1, nil)
	defer os.RemoveAll(dir)

	e := engines[0]

	tx := newSignedTx(t, "dup doc")
	if err := e.SubmitTransaction(tx); err != nil {
		t.Fatal(err)
	}

	// same content hash again, still pending
	if err := e.SubmitTransaction(tx); !errors.Is(err, types.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// lowercase spelling of the same digest decodes to the same bytes; it
	// must not slip past the pool as a second entry
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	shadow := types.Transaction{
		ContentHash:    strings.ToLower(tx.ContentHash),
		Submitter:      keys.PublicKeyHex(&key.PublicKey),
		SubmissionTime: time.Now().UnixNano(),
	}
	if err := shadow.Sign(key); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitTransaction(&shadow); !errors.Is(err, types.ErrBadDigest) {
		t.Fatalf("expected ErrBadDigest, got %v", err)
	}

	// stale submission time
	stale, err := types.NewTransaction(crypto.SHA256([]byte("stale doc")), time.Now().Add(-time.Hour), key)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitTransaction(stale); !errors.Is(err, types.ErrClockSkew) {
		t.Fatalf("expected ErrClockSkew, got %v", err)
	}

	if e.PendingTransactions() != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", e.PendingTransactions())
	}
}

// routeRules is a mutable message filter shared by a cluster's
// routeBroadcasters, so a test can change the network topology mid-flight.
type routeRules struct {
	mu       sync.Mutex
	isolated map[int]bool
	dropVote func(from, to int, vote *types.Vote) bool
}

func (r *routeRules) blocked(from, to int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.isolated[from] || r.isolated[to]
}

func (r *routeRules) drops(from, to int, vote *types.Vote) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isolated[from] || r.isolated[to] {
		return true
	}
	return r.dropVote != nil && r.dropVote(from, to, vote)
}

func (r *routeRules) isolate(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.isolated[i] = true
}

func (r *routeRules) setDropVote(f func(from, to int, vote *types.Vote) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropVote = f
}

type routeBroadcaster struct {
	self    int
	engines []*Engine
	rules   *routeRules
}

func (b *routeBroadcaster) BroadcastProposal(block *types.Block) {
	for i, e := range b.engines {
		if i == b.self || b.rules.blocked(b.self, i) {
			continue
		}
		e.ReceiveProposal(copyBlock(block))
	}
}

func (b *routeBroadcaster) BroadcastVote(vote *types.Vote) {
	for i, e := range b.engines {
		if i == b.self || b.rules.drops(b.self, i, vote) {
			continue
		}
		e.ReceiveVote(vote)
	}
}

func newRoutedEngines(t *testing.T, n int, rules *routeRules) ([]*Engine, string) {
	dir, err := ioutil.TempDir("", "engine")
	if err != nil {
		t.Fatal(err)
	}

	valSet, privKeys := newTestValidators(t, n)

	engines := make([]*Engine, n)
	for i := 0; i < n; i++ {
		signer, err := privval.NewSigner(privKeys[i], filepath.Join(dir, fmt.Sprintf("pv_%d.db", i)))
		if err != nil {
			t.Fatal(err)
		}

		broadcaster := &routeBroadcaster{self: i, engines: engines, rules: rules}
		engines[i] = NewEngine(fastConfig(), valSet, ledger.NewInmemStore(), signer, broadcaster, common.NewTestEntry(t))
	}

	return engines, dir
}

func TestNoForkAcrossRounds(t *testing.T) {
	rules := &routeRules{isolated: map[int]bool{}}

	// precommits reach only the round-0 leader, so it is the only validator
	// that finalizes the first block
	rules.setDropVote(func(from, to int, vote *types.Vote) bool {
		return vote.Type == types.VoteTypePreCommit && to != 0
	})

	engines, dir := newRoutedEngines(t, 4, rules)
	defer os.RemoveAll(dir)

	tx := newSignedTx(t, "one height one block")
	for _, e := range engines {
		if err := e.SubmitTransaction(tx); err != nil {
			t.Fatal(err)
		}
	}

	for _, e := range engines {
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		for _, e := range engines {
			e.Shutdown()
		}
	}()

	first := waitForCommit(t, engines[0], 10*time.Second)

	// cut off the only validator holding the finalized block; the others
	// saw a prevote quorum for it, so later rounds must finalize the same
	// block at the same height, never a new one
	rules.isolate(0)
	rules.setDropVote(nil)

	for i := 1; i < 4; i++ {
		block := waitForCommit(t, engines[i], 30*time.Second)
		if block.Height() != first.Height() {
			t.Fatalf("validator %d finalized height %d, want %d", i, block.Height(), first.Height())
		}
		if block.Hex() != first.Hex() {
			t.Fatalf("validator %d finalized %s at height %d, the chain already holds %s",
				i, block.Hex(), block.Height(), first.Hex())
		}
	}
}

func TestProposeSkipsCommittedTransactions(t *testing.T) {
	engines, _, dir := newTestEngines(t, 1, nil)
	defer os.RemoveAll(dir)

	e := engines[0]

	tx := newSignedTx(t, "already notarized")
	if err := e.SubmitTransaction(tx); err != nil {
		t.Fatal(err)
	}

	// the block reaches the store through catch-up, behind the engine's back
	committed := types.NewBlock(0, 0, "", time.Now().UnixNano(), []types.Transaction{*tx}, e.pubKeyHex)
	if _, err := e.store.ApplyBlock(committed); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	block := waitForCommit(t, e, 5*time.Second)

	if block.Height() != 1 {
		t.Fatalf("expected height 1, got %d", block.Height())
	}
	for _, btx := range block.Transactions() {
		if btx.ContentHash == tx.ContentHash {
			t.Fatal("a committed transaction should never be proposed again")
		}
	}
	if e.PendingTransactions() != 0 {
		t.Fatalf("expected an empty pool, got %d", e.PendingTransactions())
	}
}

func TestEmptyRoundsAdvance(t *testing.T) {
	engines, _, dir := newTestEngines(t, 1, nil)
	defer os.RemoveAll(dir)

	e := engines[0]
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	// no transactions at all, empty blocks still commit and link up
	b0 := waitForCommit(t, e, 5*time.Second)
	b1 := waitForCommit(t, e, 5*time.Second)

	if len(b0.Transactions()) != 0 || len(b1.Transactions()) != 0 {
		t.Fatal("blocks should be empty")
	}
	if b1.Height() != b0.Height()+1 {
		t.Fatalf("heights should be consecutive: %d then %d", b0.Height(), b1.Height())
	}
	if b1.PreviousHash() != b0.Hex() {
		t.Fatal("blocks should be hash linked")
	}
}
