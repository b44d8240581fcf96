package node

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notarius/notarius/src/consensus"
	"github.com/notarius/notarius/src/ledger"
	"github.com/notarius/notarius/src/net"
	"github.com/notarius/notarius/src/privval"
	"github.com/notarius/notarius/src/types"
	"github.com/notarius/notarius/src/validators"
)

const (
	// fetchLimit is the maximum number of blocks served or requested in one
	// FetchBlocks exchange.
	fetchLimit = 256

	// catchUpInterval is how often the node probes a peer for blocks it may
	// have missed.
	catchUpInterval = 10 * time.Second
)

// Node ties the consensus engine to the transport. It fans broadcasts out to
// the other validators, funnels inbound RPCs into the engine, and keeps the
// ledger in sync with the network through the FetchBlocks protocol.
type Node struct {
	state

	logger *logrus.Entry

	validator  *validators.Validator
	validators *validators.Set

	engine *consensus.Engine
	store  ledger.Store
	signer *privval.Signer

	trans net.Transport
	netCh <-chan net.RPC

	sigintCh   chan os.Signal
	shutdownCh chan struct{}

	start time.Time
}

// NewNode is a factory method that returns a Node instance. The signer's
// public key must belong to the validator set.
func NewNode(
	conf consensus.Config,
	vals *validators.Set,
	store ledger.Store,
	signer *privval.Signer,
	trans net.Transport,
	logger *logrus.Entry,
) (*Node, error) {

	self, ok := vals.ByPubKey[signer.PublicKeyHex()]
	if !ok {
		return nil, fmt.Errorf("validator %s not in validator set", signer.PublicKeyHex())
	}

	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	node := &Node{
		logger:     logger.WithField("this_id", self.ID()),
		validator:  self,
		validators: vals,
		store:      store,
		signer:     signer,
		trans:      trans,
		netCh:      trans.Consumer(),
		sigintCh:   sigintCh,
		shutdownCh: make(chan struct{}),
		start:      time.Now(),
	}

	node.engine = consensus.NewEngine(conf, vals, store, signer, node, logger)

	return node, nil
}

// Init catches up with the network before consensus starts. It is safe to
// call on a fresh node; with no reachable peers it simply starts from the
// ledger it has.
func (n *Node) Init() error {
	n.setState(CatchingUp)
	n.catchUp()
	n.setState(Running)

	return nil
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	go n.Run()
}

// Run starts the transport listener, the background routines, and the
// consensus engine, then blocks until shutdown.
func (n *Node) Run() {
	go n.trans.Listen()
	go n.doBackgroundWork()

	if err := n.engine.Start(); err != nil {
		n.logger.WithError(err).Error("Failed to start consensus engine")
		n.Shutdown()
		return
	}

	<-n.shutdownCh
}

func (n *Node) doBackgroundWork() {
	catchUpTicker := time.NewTicker(catchUpInterval)
	defer catchUpTicker.Stop()

	for {
		select {
		case rpc := <-n.netCh:
			n.goFunc(func() {
				n.processRPC(rpc)
			})
		case <-catchUpTicker.C:
			n.goFunc(func() {
				n.catchUp()
			})
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT")
			n.Shutdown()
			os.Exit(0)
		}
	}
}

/*******************************************************************************
Broadcaster
*******************************************************************************/

// BroadcastProposal implements consensus.Broadcaster. Sends run on their own
// goroutines; an unreachable peer is logged and skipped, never waited on.
func (n *Node) BroadcastProposal(block *types.Block) {
	for _, peer := range n.otherValidators() {
		go func(peer *validators.Validator) {
			args := &net.ProposeRequest{FromID: n.validator.ID(), Block: block}
			var resp net.ProposeResponse
			if err := n.trans.SendPropose(peer.NetAddr, args, &resp); err != nil {
				n.logger.WithFields(logrus.Fields{
					"target": peer.NetAddr,
					"error":  err,
				}).Debug("Failed to send proposal")
			}
		}(peer)
	}
}

// BroadcastVote implements consensus.Broadcaster.
func (n *Node) BroadcastVote(vote *types.Vote) {
	for _, peer := range n.otherValidators() {
		go func(peer *validators.Validator) {
			args := &net.VoteRequest{FromID: n.validator.ID(), Vote: vote}
			var resp net.VoteResponse

			var err error
			if vote.Type == types.VoteTypePreCommit {
				err = n.trans.SendPreCommit(peer.NetAddr, args, &resp)
			} else {
				err = n.trans.SendPreVote(peer.NetAddr, args, &resp)
			}

			if err != nil {
				n.logger.WithFields(logrus.Fields{
					"target": peer.NetAddr,
					"error":  err,
				}).Debug("Failed to send vote")
			}
		}(peer)
	}
}

func (n *Node) otherValidators() []*validators.Validator {
	others := []*validators.Validator{}
	for _, v := range n.validators.Validators {
		if v.PubKeyHex != n.validator.PubKeyHex {
			others = append(others, v)
		}
	}
	return others
}

/*******************************************************************************
Inbound RPCs
*******************************************************************************/

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.ProposeRequest:
		err := n.engine.ReceiveProposal(cmd.Block)
		rpc.Respond(&net.ProposeResponse{FromID: n.validator.ID(), Accepted: err == nil}, err)
	case *net.VoteRequest:
		err := n.engine.ReceiveVote(cmd.Vote)
		rpc.Respond(&net.VoteResponse{FromID: n.validator.ID(), Accepted: err == nil}, err)
	case *net.FetchBlocksRequest:
		n.processFetchBlocks(rpc, cmd)
	default:
		n.logger.WithField("command", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processFetchBlocks(rpc net.RPC, cmd *net.FetchBlocksRequest) {
	limit := cmd.Limit
	if limit <= 0 || limit > fetchLimit {
		limit = fetchLimit
	}

	blocks := []*types.Block{}
	lastHeight := n.store.LastHeight()
	for h := cmd.FromHeight; h <= lastHeight && len(blocks) < limit; h++ {
		block, err := n.store.GetBlock(h)
		if err != nil {
			rpc.Respond(nil, err)
			return
		}
		blocks = append(blocks, block)
	}

	rpc.Respond(&net.FetchBlocksResponse{
		FromID:     n.validator.ID(),
		Blocks:     blocks,
		LastHeight: lastHeight,
	}, nil)
}

/*******************************************************************************
Catch-up
*******************************************************************************/

// catchUp pulls finalized blocks from peers until no peer is ahead of us.
// Every fetched block is independently verified against the validator set
// before it is applied, a lying peer cannot feed us a forged chain.
func (n *Node) catchUp() {
	for _, peer := range n.otherValidators() {
		for {
			args := &net.FetchBlocksRequest{
				FromID:     n.validator.ID(),
				FromHeight: n.store.LastHeight() + 1,
				Limit:      fetchLimit,
			}

			var resp net.FetchBlocksResponse
			if err := n.trans.FetchBlocks(peer.NetAddr, args, &resp); err != nil {
				n.logger.WithFields(logrus.Fields{
					"target": peer.NetAddr,
					"error":  err,
				}).Debug("FetchBlocks failed")
				break
			}

			applied := 0
			for _, block := range resp.Blocks {
				if err := n.applyFetchedBlock(block); err != nil {
					n.logger.WithFields(logrus.Fields{
						"target": peer.NetAddr,
						"height": block.Height(),
						"error":  err,
					}).Warning("Rejected fetched block")
					break
				}
				applied++
			}

			if applied == 0 || n.store.LastHeight() >= resp.LastHeight {
				break
			}
		}
	}
}

// applyFetchedBlock verifies a quorum of commit signatures on a fetched
// block, then applies it to the ledger.
func (n *Node) applyFetchedBlock(block *types.Block) error {
	if block.Height() != n.store.LastHeight()+1 {
		return fmt.Errorf("out of order block at height %d", block.Height())
	}
	if block.PreviousHash() != n.store.LastBlockHash() {
		return fmt.Errorf("block %d does not extend our chain", block.Height())
	}

	valid := 0
	for valHex := range block.Signatures {
		if !n.validators.Contains(valHex) {
			return fmt.Errorf("commit signature from unknown validator %s", valHex)
		}
		ok, err := block.VerifyCommitSignature(valHex)
		if err != nil || !ok {
			return fmt.Errorf("bad commit signature from %s", valHex)
		}
		valid++
	}
	if valid < n.validators.Quorum() {
		return fmt.Errorf("block %d has %d commit signatures, quorum is %d",
			block.Height(), valid, n.validators.Quorum())
	}

	_, err := n.store.ApplyBlock(block)
	return err
}

/*******************************************************************************
Public API
*******************************************************************************/

// SubmitTransaction validates and queues a timestamp request.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	return n.engine.SubmitTransaction(tx)
}

// CommitCh delivers finalized blocks as they are applied to the ledger.
func (n *Node) CommitCh() <-chan *types.Block {
	return n.engine.CommitCh()
}

// GetEntry ...
func (n *Node) GetEntry(contentHash string) (*ledger.LedgerEntry, error) {
	return n.store.GetEntry(contentHash)
}

// GetBlock ...
func (n *Node) GetBlock(height int) (*types.Block, error) {
	return n.store.GetBlock(height)
}

// GetCommitment ...
func (n *Node) GetCommitment(height int) (string, error) {
	return n.store.CommitmentAt(height)
}

// GetProof builds an existence proof against the commitment at asOfHeight.
// A negative height means the latest.
func (n *Node) GetProof(contentHash string, asOfHeight int) (*ledger.Proof, error) {
	if asOfHeight < 0 {
		asOfHeight = n.store.LastHeight()
	}
	return n.store.Prove(contentHash, asOfHeight)
}

// LastHeight ...
func (n *Node) LastHeight() int {
	return n.store.LastHeight()
}

// GetValidatorSet ...
func (n *Node) GetValidatorSet() *validators.Set {
	return n.validators
}

// ID ...
func (n *Node) ID() uint32 {
	return n.validator.ID()
}

// Moniker ...
func (n *Node) Moniker() string {
	return n.validator.Moniker
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	lastHeight := n.store.LastHeight()

	var blocksPerSecond float64
	if lastHeight >= 0 {
		blocksPerSecond = float64(lastHeight+1) / timeElapsed.Seconds()
	}

	commitment := ""
	if lastHeight >= 0 {
		commitment, _ = n.store.CommitmentAt(lastHeight)
	}

	s := map[string]string{
		"last_height":       strconv.Itoa(lastHeight),
		"last_block_hash":   n.store.LastBlockHash(),
		"commitment":        commitment,
		"round":             strconv.Itoa(n.engine.Round()),
		"step":              n.engine.Step().String(),
		"transaction_pool":  strconv.Itoa(n.engine.PendingTransactions()),
		"num_validators":    strconv.Itoa(n.validators.Len()),
		"blocks_per_second": strconv.FormatFloat(blocksPerSecond, 'f', 2, 64),
		"id":                fmt.Sprint(n.validator.ID()),
		"state":             n.getState().String(),
		"moniker":           n.validator.Moniker,
	}
	return s
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		n.engine.Shutdown()

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		//transport and store should only be closed once all concurrent
		//operations are finished otherwise they will panic trying to use
		//closed objects
		n.trans.Close()

		n.signer.Close()

		n.store.Close()
	}
}
