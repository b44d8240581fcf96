package net

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/notarius/notarius/src/types"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemTransport Implements the Transport interface, to allow the node to be
// tested in-memory without going over a network. Partition simulates a
// one-way network cut towards a peer.
type InmemTransport struct {
	sync.RWMutex
	consumerCh  chan RPC
	localAddr   string
	peers       map[string]*InmemTransport
	partitioned map[string]bool
	timeout     time.Duration
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh:  make(chan RPC, 16),
		localAddr:   addr,
		peers:       make(map[string]*InmemTransport),
		partitioned: make(map[string]bool),
		timeout:     500 * time.Millisecond,
	}
	return addr, trans
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// SendPropose implements the Transport interface. The block is delivered as
// a fresh wire copy, like it would be over TCP; commit mutates blocks, so the
// peer must not share ours.
func (i *InmemTransport) SendPropose(target string, args *ProposeRequest, resp *ProposeResponse) error {
	data, err := args.Block.Marshal()
	if err != nil {
		return err
	}
	block := &types.Block{}
	if err := block.Unmarshal(data); err != nil {
		return err
	}

	rpcResp, err := i.makeRPC(target, &ProposeRequest{FromID: args.FromID, Block: block}, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*ProposeResponse)
	*resp = *out
	return nil
}

// SendPreVote implements the Transport interface.
func (i *InmemTransport) SendPreVote(target string, args *VoteRequest, resp *VoteResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*VoteResponse)
	*resp = *out
	return nil
}

// SendPreCommit implements the Transport interface.
func (i *InmemTransport) SendPreCommit(target string, args *VoteRequest, resp *VoteResponse) error {
	return i.SendPreVote(target, args, resp)
}

// FetchBlocks implements the Transport interface.
func (i *InmemTransport) FetchBlocks(target string, args *FetchBlocksRequest, resp *FetchBlocksResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*FetchBlocksResponse)
	*resp = *out
	return nil
}

func (i *InmemTransport) makeRPC(target string, args interface{}, timeout time.Duration) (rpcResp RPCResponse, err error) {
	i.RLock()
	peer, ok := i.peers[target]
	cut := i.partitioned[target]
	i.RUnlock()

	if !ok || cut {
		err = fmt.Errorf("failed to connect to peer: %v", target)
		return
	}

	// Send the RPC over
	respCh := make(chan RPCResponse, 1)
	select {
	case peer.consumerCh <- RPC{Command: args, RespChan: respCh}:
	case <-time.After(timeout):
		err = fmt.Errorf("send timed out")
		return
	}

	// Wait for a response
	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
	}
	return
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// Partition cuts outgoing traffic to a peer without forgetting the route.
func (i *InmemTransport) Partition(peer string) {
	i.Lock()
	defer i.Unlock()
	i.partitioned[peer] = true
}

// Heal re-enables outgoing traffic to a partitioned peer.
func (i *InmemTransport) Heal(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.partitioned, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
	i.partitioned = make(map[string]bool)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}
