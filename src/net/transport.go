package net

// Transport provides an interface for network transports to allow a
// validator to communicate with its peers.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// SendPropose, SendPreVote, SendPreCommit, and FetchBlocks send the
	// appropriate RPC to the target validator.

	SendPropose(target string, args *ProposeRequest, resp *ProposeResponse) error

	SendPreVote(target string, args *VoteRequest, resp *VoteResponse) error

	SendPreCommit(target string, args *VoteRequest, resp *VoteResponse) error

	FetchBlocks(target string, args *FetchBlocksRequest, resp *FetchBlocksResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
