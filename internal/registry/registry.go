package registry

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateClient = errors.New("registry: client id already registered")
	ErrRegistryFull    = errors.New("registry: client limit reached")
)

// Outbound is the non-blocking producer side of a connection's send queue.
//
// Enqueue must never block; the registry lock may be held while it is called.
type Outbound interface {
	Enqueue(msg []byte) bool
}

// ChallengeState tracks one nonce in a client's challenge map.
//
// Issuer is the id of the client whose offer carried the nonce. For the
// issuer's own entry Issuer equals the client's id.
type ChallengeState struct {
	Issuer   string
	Resolved bool
}

// Client is the registry's record of one live connection.
//
// Pointers handed to Update/View/ForEachExcept callbacks are only valid for the
// duration of the callback.
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	Outbound    Outbound

	Verified      bool
	PublicKey     []byte
	ScreenSharing bool

	Challenges    map[string]ChallengeState
	Peers         map[string]struct{}
	LastOfferFrom string
}

// LinkPeer records a peer relationship on both sides.
func LinkPeer(a, b *Client) {
	if a == nil || b == nil || a.ID == b.ID {
		return
	}
	a.Peers[b.ID] = struct{}{}
	b.Peers[a.ID] = struct{}{}
}

// Registry is the process-wide map of connected clients.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	maxClients int
	now        func() time.Time
}

// New returns an empty registry. maxClients <= 0 means unlimited.
func New(maxClients int) *Registry {
	return &Registry{
		clients:    make(map[string]*Client),
		maxClients: maxClients,
		now:        time.Now,
	}
}

func (r *Registry) Register(id, remoteAddr string, out Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; ok {
		return ErrDuplicateClient
	}
	if r.maxClients > 0 && len(r.clients) >= r.maxClients {
		return ErrRegistryFull
	}
	r.clients[id] = &Client{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: r.now(),
		Outbound:    out,
		Challenges:  make(map[string]ChallengeState),
		Peers:       make(map[string]struct{}),
	}
	return nil
}

// Update runs fn with exclusive access to the client's entry. It reports
// whether the client was found.
func (r *Registry) Update(id string, fn func(c *Client)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// View runs fn with shared access to the client's entry. fn must not mutate c.
func (r *Registry) View(id string, fn func(c *Client)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// Remove detaches the client's entry and returns it.
func (r *Registry) Remove(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	delete(r.clients, id)
	return c, true
}

// ForEachExcept calls fn for every client other than id while holding the
// registry's exclusive lock, so every call observes the same membership.
// sender is id's own entry, or nil when id is not registered. fn may mutate
// both sender and c.
func (r *Registry) ForEachExcept(id string, fn func(sender, c *Client)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sender := r.clients[id]
	for cid, c := range r.clients {
		if cid == id {
			continue
		}
		fn(sender, c)
	}
}

// UpdatePair runs fn with exclusive access to two entries at once. Either
// pointer is nil when that client is not registered.
func (r *Registry) UpdatePair(a, b string, fn func(ca, cb *Client)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.clients[a], r.clients[b])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Full reports whether Register would fail with ErrRegistryFull.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxClients > 0 && len(r.clients) >= r.maxClients
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
