/*
Package types defines the objects that circulate between clients, validators,
and the ledger: Transactions (signed content-hash submissions), Blocks
(ordered batches finalized by a quorum of validators), and Votes (the signed
PreVote/PreCommit messages of the agreement protocol).

Everything that is hashed or signed is first encoded with a canonical JSON
codec so that every validator derives identical bytes.
*/
package types
