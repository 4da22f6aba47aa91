// Package noderegistry is the process-wide node_id → NodeClient map,
// built the way an embedded-agent manager tracks its worker
// connections (map[uint]*Client guarded by sync.RWMutex).
package noderegistry

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"xpanel/internal/nodeclient"
	"xpanel/internal/store/models"
)

// Registry constructs NodeClients lazily from Node rows and serializes
// per-node connect attempts via the connecting set below.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint]*nodeclient.Client

	connectingMu sync.Mutex
	connecting   map[uint]struct{}

	caCertMu sync.RWMutex
	caCert   string

	log *logrus.Logger
}

// New builds an empty registry.
func New(log *logrus.Logger) *Registry {
	return &Registry{
		clients:    make(map[uint]*nodeclient.Client),
		connecting: make(map[uint]struct{}),
		log:        log,
	}
}

// SetCACert updates the CA certificate PEM every subsequently built
// NodeClient verifies its server cert against. Existing clients are
// unaffected; a rotation only takes effect for nodes reconnected after
// the call.
func (r *Registry) SetCACert(certPEM string) {
	r.caCertMu.Lock()
	r.caCert = certPEM
	r.caCertMu.Unlock()
}

func (r *Registry) caCertPEM() string {
	r.caCertMu.RLock()
	defer r.caCertMu.RUnlock()
	return r.caCert
}

// Get returns the existing client for nodeID, if any.
func (r *Registry) Get(nodeID uint) (*nodeclient.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[nodeID]
	return c, ok
}

// Ensure returns the client for node, constructing one from its current
// row and mirrored cert material if it doesn't exist yet.
func (r *Registry) Ensure(node *models.Node) (*nodeclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[node.ID]; ok {
		return c, nil
	}

	c, err := nodeclient.New(nodeclient.Config{
		NodeID:    node.ID,
		Address:   node.Address,
		RPCPort:   node.RPCPort,
		StatsPort: node.StatsPort,
		TLS: nodeclient.TLSMaterial{
			PanelClientCertPEM: node.PanelClientCertPEM,
			PanelClientKeyPEM:  node.PanelClientKeyPEM,
			CACertPEM:          r.caCertPEM(),
		},
	}, r.log.WithField("component", "nodeclient"))
	if err != nil {
		return nil, err
	}
	r.clients[node.ID] = c
	return c, nil
}

// Remove disconnects and drops the client for nodeID, used on node
// deletion or disable.
func (r *Registry) Remove(nodeID uint) {
	r.mu.Lock()
	c, ok := r.clients[nodeID]
	delete(r.clients, nodeID)
	r.mu.Unlock()
	if ok {
		go func() { _ = c.Disconnect(context.Background()) }()
	}
}

// All returns a snapshot of every registered client, keyed by node id.
func (r *Registry) All() map[uint]*nodeclient.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint]*nodeclient.Client, len(r.clients))
	for k, v := range r.clients {
		out[k] = v
	}
	return out
}

// TryBeginConnect reports whether nodeID was not already connecting and
// marks it as such; the caller must call EndConnect when done.
func (r *Registry) TryBeginConnect(nodeID uint) bool {
	r.connectingMu.Lock()
	defer r.connectingMu.Unlock()
	if _, ok := r.connecting[nodeID]; ok {
		return false
	}
	r.connecting[nodeID] = struct{}{}
	return true
}

// EndConnect clears the connecting marker for nodeID.
func (r *Registry) EndConnect(nodeID uint) {
	r.connectingMu.Lock()
	delete(r.connecting, nodeID)
	r.connectingMu.Unlock()
}
