// Package keys implements the cryptographic keys and signatures used to
// authenticate transactions, blocks, votes, and peer messages.
package keys
