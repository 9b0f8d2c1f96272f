package memory

import (
	"context"
	"sync"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
)

type MemoryUserDirectory struct {
	endpoints map[domain.UserID]domain.EndpointID
	mu        sync.RWMutex
}

func NewMemoryUserDirectory() ports.UserDirectory {
	return &MemoryUserDirectory{
		endpoints: make(map[domain.UserID]domain.EndpointID),
	}
}

func (d *MemoryUserDirectory) Upsert(ctx context.Context, userID domain.UserID, endpointID domain.EndpointID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A reconnect replaces the stale endpoint.
	d.endpoints[userID] = endpointID
	return nil
}

func (d *MemoryUserDirectory) Resolve(ctx context.Context, userID domain.UserID) (domain.EndpointID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	endpoint, exists := d.endpoints[userID]
	if !exists {
		return "", domain.ErrUserNotFound
	}
	return endpoint, nil
}

func (d *MemoryUserDirectory) Remove(ctx context.Context, userID domain.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.endpoints[userID]; !exists {
		return domain.ErrUserNotFound
	}
	delete(d.endpoints, userID)
	return nil
}

func (d *MemoryUserDirectory) ConnectedUsers(ctx context.Context) ([]domain.UserID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]domain.UserID, 0, len(d.endpoints))
	for userID := range d.endpoints {
		users = append(users, userID)
	}
	return users, nil
}
