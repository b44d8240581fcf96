// Package consensus implements the round-based agreement protocol that
// finalizes timestamp blocks. Each round has a deterministic leader who
// proposes a block; the other validators vote in two phases, PreVote and
// PreCommit, and a block is finalized once 2/3+ of the validator set
// precommits its hash. Rounds advance on every commit and on every timeout,
// so the chain keeps moving with up to (n-1)/3 faulty validators.
package consensus
