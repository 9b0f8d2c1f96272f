package client

import (
	"sync"

	"meshlink/internal/core/domain"
)

// IceCandidateQueue buffers candidates that arrive before the link's remote
// description is applied. Flush order is strictly receipt order; nothing is
// ever dropped for arriving early.
type IceCandidateQueue struct {
	mu      sync.Mutex
	pending []domain.IceCandidate
}

func NewIceCandidateQueue() *IceCandidateQueue {
	return &IceCandidateQueue{}
}

// Push buffers one candidate.
func (q *IceCandidateQueue) Push(c domain.IceCandidate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, c)
}

// Drain removes and returns the buffered candidates in receipt order.
func (q *IceCandidateQueue) Drain() []domain.IceCandidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = nil
	return drained
}

// Len reports the number of buffered candidates.
func (q *IceCandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
