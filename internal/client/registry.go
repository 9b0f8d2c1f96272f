package client

import (
	"sync"

	"meshlink/internal/core/domain"
)

// PeerLinkRegistry maps remote user ids to their single active PeerLink.
// One instance per client; nothing is process-global, so independent
// clients (and tests) carry isolated registries.
type PeerLinkRegistry struct {
	mu    sync.RWMutex
	links map[domain.UserID]*PeerLink
}

func NewPeerLinkRegistry() *PeerLinkRegistry {
	return &PeerLinkRegistry{links: make(map[domain.UserID]*PeerLink)}
}

// Add registers the link, enforcing at most one per remote party.
func (r *PeerLinkRegistry) Add(link *PeerLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.links[link.remoteUserID]; exists {
		return domain.ErrDuplicateLink
	}
	r.links[link.remoteUserID] = link
	return nil
}

// Get returns the link for remoteUserID, or nil.
func (r *PeerLinkRegistry) Get(remoteUserID domain.UserID) *PeerLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.links[remoteUserID]
}

// Remove unregisters and returns the link, or nil if absent.
func (r *PeerLinkRegistry) Remove(remoteUserID domain.UserID) *PeerLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	link := r.links[remoteUserID]
	delete(r.links, remoteUserID)
	return link
}

// All returns the current links in no particular order.
func (r *PeerLinkRegistry) All() []*PeerLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	links := make([]*PeerLink, 0, len(r.links))
	for _, link := range r.links {
		links = append(links, link)
	}
	return links
}

// Len reports the number of active links.
func (r *PeerLinkRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}
