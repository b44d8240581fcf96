// Package net implements the transports validators use to exchange
// consensus messages.
//
// This package contains two implementations of the Transport interface:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// Each RPC is framed as a protocol version byte, a message type byte, and a
// JSON encoded body. A peer speaking a different protocol version is
// rejected outright instead of having its frames misread.
package net
