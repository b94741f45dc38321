// Package discovery resolves gRPC endpoints for the heap-tender/log/query
// client managers via a memberlist gossip cluster (spec.md section 6).
// Full gRPC service wiring is out of scope; this is the thin endpoint
// resolver ambient infra named in the domain stack.
package discovery

import (
	"sync"

	"github.com/hashicorp/memberlist"
	"github.com/hunddb/hunddb-core/hdberr"
)

// NodeMeta describes one node: the gRPC address other nodes should
// dial to reach it. Resolver does not gossip it (see RegisterSelf).
type NodeMeta struct {
	GRPCAddr string
}

// Resolver tracks cluster membership and hands out gRPC addresses by
// memberlist node name without ever dialing a socket itself — it is a
// pure address book.
type Resolver struct {
	mu       sync.RWMutex
	list     *memberlist.Memberlist
	addrsByNode map[string]string // memberlist node name -> grpc addr
}

// Config mirrors the subset of memberlist.Config callers typically need
// to override; zero values fall back to memberlist.DefaultLocalConfig.
type Config struct {
	NodeName string
	BindAddr string
	BindPort int
}

// New starts a memberlist agent bound to cfg and returns a Resolver for
// it. Joining the cluster is a separate step (Join), so construction
// never blocks on cluster availability.
func New(cfg Config) (*Resolver, error) {
	mlCfg := memberlist.DefaultLocalConfig()
	if cfg.NodeName != "" {
		mlCfg.Name = cfg.NodeName
	}
	if cfg.BindAddr != "" {
		mlCfg.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort != 0 {
		mlCfg.BindPort = cfg.BindPort
	}

	r := &Resolver{addrsByNode: make(map[string]string)}
	mlCfg.Events = &eventDelegate{r: r}

	list, err := memberlist.Create(mlCfg)
	if err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "discovery: starting memberlist agent", err)
	}
	r.list = list
	return r, nil
}

// Join contacts existing cluster members by address, merging their
// membership view into ours.
func (r *Resolver) Join(seeds []string) (int, error) {
	n, err := r.list.Join(seeds)
	if err != nil {
		return n, hdberr.Wrap(hdberr.Internal, "discovery: joining cluster", err)
	}
	return n, nil
}

// Leave gracefully announces departure and shuts the agent down.
func (r *Resolver) Leave() error {
	if err := r.list.Leave(0); err != nil {
		return hdberr.Wrap(hdberr.Internal, "discovery: leaving cluster", err)
	}
	return r.list.Shutdown()
}

// RegisterSelf records this node's gRPC address in the local address
// book under the local memberlist node name. The address is not
// gossiped and NotifyJoin records nothing, so other members never
// learn it and this Resolver only knows addresses registered in this
// process.
func (r *Resolver) RegisterSelf(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrsByNode[r.list.LocalNode().Name] = addr
}

// Endpoints returns every gRPC address in the local address book, in
// no particular order.
func (r *Resolver) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.addrsByNode))
	for _, addr := range r.addrsByNode {
		out = append(out, addr)
	}
	return out
}

// Resolve returns the gRPC address for a specific memberlist node name.
func (r *Resolver) Resolve(nodeName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.addrsByNode[nodeName]
	return addr, ok
}

// forget drops a node's address once it has left or been marked dead.
func (r *Resolver) forget(nodeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrsByNode, nodeName)
}

type eventDelegate struct {
	r *Resolver
}

func (e *eventDelegate) NotifyJoin(n *memberlist.Node)   {}
func (e *eventDelegate) NotifyUpdate(n *memberlist.Node) {}
func (e *eventDelegate) NotifyLeave(n *memberlist.Node) {
	e.r.forget(n.Name)
}
