// Package validators defines the fixed validator set of a consensus network,
// its quorum arithmetic, and the round-robin leader schedule.
package validators
