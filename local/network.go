// Package local connects modules living in one process. A
// Network stands in for the XMPP router; each module gets its own
// Transport on it. Values still cross the boundary in wire form,
// copied through msgpack, so code that works locally also works
// over the network.
package local

import (
	"fmt"
	"sort"
	"sync"

	"github.com/glycerine/idem"
	"github.com/glycerine/obsrpc"
)

// Network is the registry of transports that can reach each other.
type Network struct {
	mut   sync.Mutex
	nodes map[string]*Transport
	halt  *idem.Halter
}

func NewNetwork() *Network {
	return &Network{
		nodes: make(map[string]*Transport),
		halt:  idem.NewHalterNamed("local_network"),
	}
}

// Close disconnects every transport.
func (n *Network) Close() {
	n.halt.ReqStop.Close()
	n.mut.Lock()
	all := make([]*Transport, 0, len(n.nodes))
	for _, t := range n.nodes {
		all = append(all, t)
	}
	n.mut.Unlock()
	for _, t := range all {
		t.Close()
	}
	n.halt.Done.Close()
}

// Names lists the connected modules.
func (n *Network) Names() (names []string) {
	n.mut.Lock()
	for k := range n.nodes {
		names = append(names, k)
	}
	n.mut.Unlock()
	sort.Strings(names)
	return
}

func (n *Network) lookup(name string) *Transport {
	n.mut.Lock()
	defer n.mut.Unlock()
	return n.nodes[name]
}

// others returns every transport but the named one.
func (n *Network) others(name string) (ts []*Transport) {
	n.mut.Lock()
	for k, t := range n.nodes {
		if k != name {
			ts = append(ts, t)
		}
	}
	n.mut.Unlock()
	sort.Slice(ts, func(i, j int) bool { return ts[i].name < ts[j].name })
	return
}

func (n *Network) join(t *Transport) error {
	if n.halt.ReqStop.IsClosed() {
		return fmt.Errorf("network closed: %w", obsrpc.ErrShutdown)
	}
	n.mut.Lock()
	defer n.mut.Unlock()
	if _, dup := n.nodes[t.name]; dup {
		return fmt.Errorf("module '%v' is already connected: %w", t.name, obsrpc.ErrConflict)
	}
	n.nodes[t.name] = t
	return nil
}

func (n *Network) leave(t *Transport) bool {
	n.mut.Lock()
	defer n.mut.Unlock()
	if n.nodes[t.name] != t {
		return false
	}
	delete(n.nodes, t.name)
	return true
}
