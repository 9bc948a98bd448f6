package federation

import (
	"encoding/json"
	"sync"
	"time"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"
)

// PeerStatus is the session state of a peer.
type PeerStatus string

const (
	PeerDisconnected PeerStatus = "disconnected"
	PeerConnecting   PeerStatus = "connecting"
	PeerConnected    PeerStatus = "connected"
)

// Policies control which message categories are sent to a peer, and
// whether CDMs relayed by that peer are passed on.
type Policies struct {
	AcceptCDM         bool `json:"accept_cdm"`
	AcceptObjectState bool `json:"accept_object_state"`
	AcceptManeuver    bool `json:"accept_maneuver"`
	ForwardCDM        bool `json:"forward_cdm"`
}

// DefaultPolicies allows everything.
func DefaultPolicies() Policies {
	return Policies{AcceptCDM: true, AcceptObjectState: true, AcceptManeuver: true, ForwardCDM: true}
}

// Allows reports whether a message of type mt may be sent to the peer.
func (p Policies) Allows(mt protocol.MessageType) bool {
	return ShouldForwardToPeer(mt, p.AcceptCDM, p.AcceptObjectState, p.AcceptManeuver)
}

// UnmarshalJSON starts from DefaultPolicies so omitted flags stay enabled.
func (p *Policies) UnmarshalJSON(data []byte) error {
	type plain Policies
	v := plain(DefaultPolicies())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Policies(v)
	return nil
}

// PeerInfo is a point-in-time view of one peer. Values returned by the
// Registry are copies.
type PeerInfo struct {
	ID               types.NodeID `json:"id"`
	Address          string       `json:"address"`
	Status           PeerStatus   `json:"status"`
	LastHeartbeat    *time.Time   `json:"last_heartbeat,omitempty"`
	MessagesSent     uint64       `json:"messages_sent"`
	MessagesReceived uint64       `json:"messages_received"`
	Policies         Policies     `json:"policies"`
	AuthToken        string       `json:"-"`
}

// Registry is the concurrency-safe set of known peers, in insertion order.
type Registry struct {
	mu    sync.RWMutex
	peers map[types.NodeID]*PeerInfo
	order []types.NodeID
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[types.NodeID]*PeerInfo),
		now:   time.Now,
	}
}

// Add inserts peer, or for a known id updates its address, token and
// policies while keeping status and counters. New peers with no status
// start Disconnected.
func (r *Registry) Add(peer PeerInfo) PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[peer.ID]; ok {
		existing.Address = peer.Address
		existing.Policies = peer.Policies
		existing.AuthToken = peer.AuthToken
		return existing.copy()
	}

	if peer.Status == "" {
		peer.Status = PeerDisconnected
	}
	p := peer
	r.peers[peer.ID] = &p
	r.order = append(r.order, peer.ID)
	return p.copy()
}

// Remove deletes id and reports whether it existed.
func (r *Registry) Remove(id types.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Get(id types.NodeID) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return p.copy(), true
}

// Update applies fn to the live entry for id under the write lock. fn must
// not block.
func (r *Registry) Update(id types.NodeID, fn func(p *PeerInfo)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// List returns copies of every peer in insertion order.
func (r *Registry) List() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id].copy())
	}
	return out
}

func (r *Registry) IDs() []types.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.NodeID(nil), r.order...)
}

func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.peers {
		if p.Status == PeerConnected {
			n++
		}
	}
	return n
}

func (r *Registry) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) SetStatus(id types.NodeID, status PeerStatus) bool {
	return r.Update(id, func(p *PeerInfo) { p.Status = status })
}

func (r *Registry) RecordSent(id types.NodeID) bool {
	return r.Update(id, func(p *PeerInfo) { p.MessagesSent++ })
}

func (r *Registry) RecordReceived(id types.NodeID) bool {
	return r.Update(id, func(p *PeerInfo) { p.MessagesReceived++ })
}

// UpdateHeartbeat marks id Connected and stamps its last heartbeat.
func (r *Registry) UpdateHeartbeat(id types.NodeID) bool {
	now := r.now().UTC()
	return r.Update(id, func(p *PeerInfo) {
		p.LastHeartbeat = &now
		p.Status = PeerConnected
	})
}

// ExpireStale moves Connected peers silent for longer than timeout to
// Disconnected and returns their ids.
func (r *Registry) ExpireStale(timeout time.Duration, now time.Time) []types.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []types.NodeID
	for _, id := range r.order {
		p := r.peers[id]
		if p.Status != PeerConnected {
			continue
		}
		if p.LastHeartbeat != nil && now.Sub(*p.LastHeartbeat) <= timeout {
			continue
		}
		p.Status = PeerDisconnected
		expired = append(expired, id)
	}
	return expired
}

func (p *PeerInfo) copy() PeerInfo {
	cp := *p
	if p.LastHeartbeat != nil {
		t := *p.LastHeartbeat
		cp.LastHeartbeat = &t
	}
	return cp
}
