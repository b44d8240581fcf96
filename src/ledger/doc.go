// Package ledger implements the append-only timestamp ledger. Finalized
// blocks are applied in strict height order; every applied block produces a
// Merkle commitment over all entries recorded so far, and historical
// commitments are retained so existence proofs can be produced as of any
// past height.
package ledger
