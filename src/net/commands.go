package net

import (
	"github.com/notarius/notarius/src/types"
)

// ProposeRequest carries a round leader's signed block proposal.
type ProposeRequest struct {
	FromID uint32
	Block  *types.Block
}

// ProposeResponse acknowledges a ProposeRequest. Accepted only means the
// proposal was queued for the consensus engine, not that it will be voted
// for.
type ProposeResponse struct {
	FromID   uint32
	Accepted bool
}

// VoteRequest carries a signed prevote or precommit.
type VoteRequest struct {
	FromID uint32
	Vote   *types.Vote
}

// VoteResponse acknowledges a VoteRequest.
type VoteResponse struct {
	FromID   uint32
	Accepted bool
}

// FetchBlocksRequest asks a peer for its finalized blocks from FromHeight
// upwards, at most Limit of them. It is used to catch up after a restart or
// a missed commit.
type FetchBlocksRequest struct {
	FromID     uint32
	FromHeight int
	Limit      int
}

// FetchBlocksResponse returns the requested blocks in height order, plus the
// responder's own last height so the requester knows whether to keep
// fetching.
type FetchBlocksResponse struct {
	FromID     uint32
	Blocks     []*types.Block
	LastHeight int
}
