// Package config defines the configuration for a notarius node.
//
// Regardless of how notarius is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, notarius relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. notarius keygen).
//  validators.json // a JSON file containing the validator set.
//  sign_state.db // double-sign protection records, created on first run.
package config
