package consensus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/ledger"
	"github.com/notarius/notarius/src/privval"
	"github.com/notarius/notarius/src/types"
	"github.com/notarius/notarius/src/validators"
)

// Broadcaster sends consensus messages to the other validators. The engine
// handles its own copy of every message it broadcasts, so implementations
// only fan out to remote peers.
type Broadcaster interface {
	BroadcastProposal(block *types.Block)
	BroadcastVote(vote *types.Vote)
}

// Config ...
type Config struct {
	Timeouts  Timeouts
	BatchSize int
	PoolSize  int
	ClockSkew time.Duration
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		Timeouts:  DefaultTimeouts(),
		BatchSize: 512,
		PoolSize:  8192,
		ClockSkew: 10 * time.Minute,
	}
}

// Engine drives the round FSM: Propose, PreVote, PreCommit, Commit. All
// state transitions happen on the single receive routine; everything else
// talks to it through channels.
type Engine struct {
	conf        Config
	validators  *validators.Set
	store       ledger.Store
	signer      *privval.Signer
	broadcaster Broadcaster
	logger      *logrus.Entry

	pubKeyHex string
	pool      *txPool
	ticker    *TimeoutTicker

	proposalCh chan *types.Block
	voteCh     chan *types.Vote
	commitCh   chan *types.Block

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	// receive routine state
	round    int
	step     Step
	retries  int
	proposal *types.Block
	votes    map[int]*roundVoteSet

	// set when a prevote quorum lands on a block we hold; from then on we
	// prevote only that block, so a height where some validators already
	// precommitted can never finalize twice
	lockedRound int
	lockedBlock *types.Block

	// snapshot for Stats, read outside the receive routine
	statsMu   sync.RWMutex
	statRound int
	statStep  Step
}

// NewEngine ...
func NewEngine(
	conf Config,
	vals *validators.Set,
	store ledger.Store,
	signer *privval.Signer,
	broadcaster Broadcaster,
	logger *logrus.Entry) *Engine {

	return &Engine{
		conf:        conf,
		validators:  vals,
		store:       store,
		signer:      signer,
		broadcaster: broadcaster,
		logger:      logger.WithField("validator", signer.PublicKeyHex()[2:10]),
		pubKeyHex:   signer.PublicKeyHex(),
		pool:        newTxPool(conf.PoolSize),
		ticker:      NewTimeoutTicker(conf.Timeouts),
		proposalCh:  make(chan *types.Block, 64),
		voteCh:      make(chan *types.Vote, 256),
		commitCh:    make(chan *types.Block, 16),
		shutdownCh:  make(chan struct{}),
		votes:       make(map[int]*roundVoteSet),
		lockedRound: -1,
	}
}

// Start resumes from the last committed block and launches the receive
// routine.
func (e *Engine) Start() error {
	round := 0
	if lastHeight := e.store.LastHeight(); lastHeight >= 0 {
		block, err := e.store.GetBlock(lastHeight)
		if err != nil {
			return err
		}
		round = block.CommitRound + 1
	}
	e.round = round

	e.logger.WithFields(logrus.Fields{
		"round":       e.round,
		"last_height": e.store.LastHeight(),
	}).Debug("Starting consensus engine")

	e.ticker.Start()
	e.wg.Add(1)
	go e.receiveRoutine()

	return nil
}

// Shutdown ...
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Debug("Shutting down consensus engine")
		close(e.shutdownCh)
		e.ticker.Stop()
		e.wg.Wait()
	})
}

// ReceiveProposal hands a proposal from the network to the receive routine.
func (e *Engine) ReceiveProposal(block *types.Block) error {
	select {
	case e.proposalCh <- block:
		return nil
	case <-e.shutdownCh:
		return ErrEngineShutdown
	}
}

// ReceiveVote hands a vote from the network to the receive routine.
func (e *Engine) ReceiveVote(vote *types.Vote) error {
	select {
	case e.voteCh <- vote:
		return nil
	case <-e.shutdownCh:
		return ErrEngineShutdown
	}
}

// SubmitTransaction validates a submission against the pool and the ledger
// and queues it for inclusion in a block. Rejections are typed; use
// types.IsRejection to tell a client error from an internal one.
func (e *Engine) SubmitTransaction(tx *types.Transaction) error {
	seen := func(contentHash string) bool {
		return e.pool.Contains(contentHash) || e.store.Contains(contentHash)
	}

	if err := tx.Validate(time.Now(), e.conf.ClockSkew, seen); err != nil {
		return err
	}

	return e.pool.Add(tx)
}

// CommitCh delivers finalized blocks as they are applied to the ledger.
func (e *Engine) CommitCh() <-chan *types.Block {
	return e.commitCh
}

// Round ...
func (e *Engine) Round() int {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()

	return e.statRound
}

// Step ...
func (e *Engine) Step() Step {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()

	return e.statStep
}

// PendingTransactions ...
func (e *Engine) PendingTransactions() int {
	return e.pool.Len()
}

/*******************************************************************************
Receive routine
*******************************************************************************/

func (e *Engine) receiveRoutine() {
	defer e.wg.Done()

	e.enterRound(e.round)

	for {
		select {
		case <-e.shutdownCh:
			return
		case block := <-e.proposalCh:
			e.handleProposal(block)
		case vote := <-e.voteCh:
			e.handleVote(vote)
		case ti := <-e.ticker.Chan():
			e.handleTimeout(ti)
		}
	}
}

func (e *Engine) enterRound(round int) {
	e.round = round
	e.step = StepPropose
	e.proposal = nil

	// tallies from settled rounds are no longer needed
	for r := range e.votes {
		if r < round {
			delete(e.votes, r)
		}
	}
	if _, ok := e.votes[round]; !ok {
		e.votes[round] = newRoundVoteSet(round, e.validators)
	}

	e.setStats(round, StepPropose)

	leader := e.validators.Leader(round)
	e.logger.WithFields(logrus.Fields{
		"round":  round,
		"leader": leader.PubKeyHex[2:10],
	}).Debug("Entering round")

	if leader.PubKeyHex == e.pubKeyHex {
		e.propose()
		return
	}

	e.scheduleTimeout(StepPropose)

	// a quorum may already be waiting in this round's tallies
	e.checkQuorum()
}

func (e *Engine) propose() {
	if e.lockedBlock != nil {
		e.logger.WithFields(logrus.Fields{
			"round":        e.round,
			"locked_round": e.lockedRound,
			"block_hash":   e.lockedBlock.Hex(),
		}).Debug("Re-proposing locked block")
		e.broadcaster.BroadcastProposal(e.lockedBlock)
		e.handleProposal(e.lockedBlock)
		return
	}

	height := e.store.LastHeight() + 1

	// catch-up applies blocks without going through RemoveCommitted, so the
	// pool can still hold transactions that are already in the ledger
	batch := []types.Transaction{}
	for _, tx := range e.pool.Batch(e.conf.BatchSize) {
		if e.store.Contains(tx.ContentHash) {
			e.pool.Remove(tx.ContentHash)
			continue
		}
		batch = append(batch, tx)
	}

	block := types.NewBlock(height, e.round, e.store.LastBlockHash(), time.Now().UnixNano(), batch, e.pubKeyHex)

	if err := e.signer.SignProposal(block); err != nil {
		e.logger.WithError(err).Warning("Refusing to sign proposal")
		e.scheduleTimeout(StepPropose)
		return
	}

	e.logger.WithFields(logrus.Fields{
		"round":  e.round,
		"height": height,
		"txs":    len(batch),
	}).Debug("Proposing block")

	e.broadcaster.BroadcastProposal(block)
	e.handleProposal(block)
}

// handleProposal accepts blocks created in the current round, and re-proposals
// of blocks from earlier rounds at the same height. Re-proposals keep their
// creating leader's signature, so the hash is the one the network may already
// be locked on.
func (e *Engine) handleProposal(block *types.Block) {
	if block.Round() > e.round || e.step != StepPropose {
		e.logger.WithFields(logrus.Fields{
			"round":         block.Round(),
			"current_round": e.round,
			"current_step":  e.step.String(),
		}).Debug("Ignoring stale proposal")
		return
	}

	if err := e.validateProposal(block); err != nil {
		e.logger.WithError(err).WithField("round", e.round).Warning("Invalid proposal")
		e.doPreVote(e.lockedHash())
		return
	}

	e.proposal = block

	if e.lockedBlock != nil && e.lockedBlock.Hex() != block.Hex() {
		e.doPreVote(e.lockedBlock.Hex())
		return
	}
	e.doPreVote(block.Hex())
}

// validateProposal re-checks everything a leader asserted: identity,
// signature, chain linkage, and every transaction in the batch.
func (e *Engine) validateProposal(block *types.Block) error {
	leader := e.validators.Leader(block.Round())
	if block.Body.Proposer != leader.PubKeyHex {
		return errNotLeader(block.Body.Proposer)
	}

	if ok, err := block.VerifyProposerSignature(); err != nil || !ok {
		return errBadProposerSignature
	}

	if block.Height() != e.store.LastHeight()+1 {
		return errBadHeight(block.Height(), e.store.LastHeight()+1)
	}
	if block.PreviousHash() != e.store.LastBlockHash() {
		return errBrokenChain
	}

	proposalTime := time.Unix(0, block.Body.Timestamp)
	inBatch := make(map[string]bool)
	for _, tx := range block.Transactions() {
		seen := func(contentHash string) bool {
			return inBatch[contentHash] || e.store.Contains(contentHash)
		}
		txCopy := tx
		if err := txCopy.Validate(proposalTime, e.conf.ClockSkew, seen); err != nil {
			return err
		}
		inBatch[tx.ContentHash] = true
	}

	return nil
}

func (e *Engine) doPreVote(blockHash string) {
	e.step = StepPreVote
	e.setStats(e.round, StepPreVote)
	e.scheduleTimeout(StepPreVote)

	vote := types.NewVote(types.VoteTypePreVote, e.round, blockHash, e.pubKeyHex)
	if err := e.signer.SignVote(vote); err != nil {
		e.logger.WithError(err).Warning("Refusing to sign prevote")
		return
	}

	e.broadcaster.BroadcastVote(vote)
	e.addVote(vote)
}

func (e *Engine) doPreCommit(blockHash string) {
	e.step = StepPreCommit
	e.setStats(e.round, StepPreCommit)
	e.scheduleTimeout(StepPreCommit)

	vote := types.NewVote(types.VoteTypePreCommit, e.round, blockHash, e.pubKeyHex)
	if err := e.signer.SignVote(vote); err != nil {
		e.logger.WithError(err).Warning("Refusing to sign precommit")
		return
	}

	e.broadcaster.BroadcastVote(vote)
	e.addVote(vote)
}

func (e *Engine) handleVote(vote *types.Vote) {
	if vote.Round < e.round {
		return
	}
	e.addVote(vote)
}

func (e *Engine) addVote(vote *types.Vote) {
	rvs, ok := e.votes[vote.Round]
	if !ok {
		rvs = newRoundVoteSet(vote.Round, e.validators)
		e.votes[vote.Round] = rvs
	}

	var set *VoteSet
	switch vote.Type {
	case types.VoteTypePreVote:
		set = rvs.prevotes
	case types.VoteTypePreCommit:
		set = rvs.precommits
	default:
		e.logger.WithField("type", vote.Type).Warning("Dropping vote of unknown type")
		return
	}

	added, err := set.AddVote(vote)
	if err != nil {
		if conflict, ok := err.(*ConflictingVoteError); ok {
			// equivocation, keep the first vote and log the offender
			e.logger.WithFields(logrus.Fields{
				"validator": conflict.Validator,
				"round":     vote.Round,
				"type":      vote.Type.String(),
				"existing":  conflict.ExistingHash,
				"new":       conflict.NewHash,
			}).Warning("Conflicting vote")
			return
		}
		e.logger.WithError(err).Debug("Rejected vote")
		return
	}

	if added && vote.Round == e.round {
		e.checkQuorum()
	}
}

// checkQuorum advances the FSM whenever the current round's tallies hold a
// 2/3+ majority for the step we are waiting on.
func (e *Engine) checkQuorum() {
	rvs := e.votes[e.round]

	if e.step == StepPreVote {
		if hash, ok := rvs.prevotes.Quorum(); ok {
			if hash == "" {
				// the network passed on this round, any lock is released
				e.lockedRound = -1
				e.lockedBlock = nil
				e.doPreCommit("")
				return
			}

			block := e.blockFor(hash)
			if block == nil {
				// the network accepted a block we never received; precommit
				// nil and let catch-up recover the block
				e.doPreCommit("")
				return
			}

			e.lockedRound = e.round
			e.lockedBlock = block
			e.doPreCommit(hash)
			return
		}
	}

	if e.step == StepPreCommit {
		if hash, ok := rvs.precommits.Quorum(); ok {
			if hash == "" {
				e.advanceRound()
				return
			}
			e.commit(hash)
		}
	}
}

func (e *Engine) commit(blockHash string) {
	block := e.blockFor(blockHash)
	if block == nil {
		e.logger.WithFields(logrus.Fields{
			"round":      e.round,
			"block_hash": blockHash,
		}).Warning("Precommit quorum for a block we do not hold")
		e.advanceRound()
		return
	}

	block.CommitRound = e.round
	for _, vote := range e.votes[e.round].precommits.VotesFor(blockHash) {
		block.SetCommitSignature(vote.Validator, vote.Signature)
	}

	root, err := e.store.ApplyBlock(block)
	if common.IsStore(err, common.PassedHeight) {
		// catch-up already applied this height
		e.logger.WithField("height", block.Height()).Debug("Block already applied")
		err = nil
		root, _ = e.store.CommitmentAt(block.Height())
	}
	if err != nil {
		e.logger.WithError(err).Error("Failed to apply finalized block")
		return
	}

	e.pool.RemoveCommitted(block)
	e.retries = 0
	e.lockedRound = -1
	e.lockedBlock = nil

	e.logger.WithFields(logrus.Fields{
		"height":     block.Height(),
		"round":      block.CommitRound,
		"txs":        len(block.Transactions()),
		"commitment": root,
		"signatures": block.CommitSigCount(),
	}).Info("Committed block")

	select {
	case e.commitCh <- block:
	default:
	}

	// linger in Commit so straggling precommits drain; the next round
	// starts from the timeout handler, never inline
	e.step = StepCommit
	e.setStats(e.round, StepCommit)
	e.scheduleTimeout(StepCommit)
}

func (e *Engine) handleTimeout(ti TimeoutInfo) {
	if ti.Round != e.round || ti.Step != e.step {
		return
	}

	e.logger.WithFields(logrus.Fields{
		"round": ti.Round,
		"step":  ti.Step.String(),
	}).Debug("Timeout")

	switch ti.Step {
	case StepPropose:
		e.doPreVote(e.lockedHash())
	case StepPreVote:
		e.doPreCommit("")
	case StepPreCommit:
		e.advanceRound()
	case StepCommit:
		e.enterRound(e.round + 1)
	}
}

// lockedHash returns the hash a locked validator must keep prevoting, or ""
// when free to vote nil.
func (e *Engine) lockedHash() string {
	if e.lockedBlock != nil {
		return e.lockedBlock.Hex()
	}
	return ""
}

// blockFor resolves a quorum hash to a block we hold, either the current
// proposal or the locked block.
func (e *Engine) blockFor(blockHash string) *types.Block {
	if e.proposal != nil && e.proposal.Hex() == blockHash {
		return e.proposal
	}
	if e.lockedBlock != nil && e.lockedBlock.Hex() == blockHash {
		return e.lockedBlock
	}
	return nil
}

func (e *Engine) advanceRound() {
	e.retries++
	e.enterRound(e.round + 1)
}

func (e *Engine) scheduleTimeout(step Step) {
	e.ticker.ScheduleTimeout(TimeoutInfo{
		Round:   e.round,
		Step:    step,
		Retries: e.retries,
	})
}

func (e *Engine) setStats(round int, step Step) {
	e.statsMu.Lock()
	e.statRound = round
	e.statStep = step
	e.statsMu.Unlock()
}
