package memory

import (
	"context"
	"fmt"
	"sync"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
)

type MemoryOfferTable struct {
	offers map[domain.UserID]*domain.Offer
	mu     sync.RWMutex
}

func NewMemoryOfferTable() ports.OfferTable {
	return &MemoryOfferTable{
		offers: make(map[domain.UserID]*domain.Offer),
	}
}

func (t *MemoryOfferTable) Put(ctx context.Context, offer *domain.Offer) error {
	if offer.OffererUserID == "" {
		return fmt.Errorf("offer must carry an offerer user id")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Only one in-flight offer per sender: a new offer replaces the old.
	t.offers[offer.OffererUserID] = offer
	return nil
}

func (t *MemoryOfferTable) GetByOfferer(ctx context.Context, offerer domain.UserID) (*domain.Offer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	offer, exists := t.offers[offerer]
	if !exists {
		return nil, domain.ErrOfferNotFound
	}
	return cloneOffer(offer), nil
}

func (t *MemoryOfferTable) GetByAnswerer(ctx context.Context, answerer domain.UserID) (*domain.Offer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, offer := range t.offers {
		if offer.AnswererUserID == answerer {
			return cloneOffer(offer), nil
		}
	}
	return nil, domain.ErrOfferNotFound
}

func (t *MemoryOfferTable) AppendOfferCandidate(ctx context.Context, offerer domain.UserID, c domain.IceCandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	offer, exists := t.offers[offerer]
	if !exists {
		return domain.ErrOfferNotFound
	}
	offer.OfferCandidates = append(offer.OfferCandidates, c)
	return nil
}

func (t *MemoryOfferTable) AppendAnswerCandidate(ctx context.Context, offerer domain.UserID, c domain.IceCandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	offer, exists := t.offers[offerer]
	if !exists {
		return domain.ErrOfferNotFound
	}
	offer.AnswererCandidates = append(offer.AnswererCandidates, c)
	return nil
}

func (t *MemoryOfferTable) SetAnswer(ctx context.Context, offerer domain.UserID, answerer domain.UserID, answer domain.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	offer, exists := t.offers[offerer]
	if !exists {
		return domain.ErrOfferNotFound
	}
	if offer.Answer != nil {
		return fmt.Errorf("offer from %s already answered by %s", offerer, offer.AnswererUserID)
	}

	answerCopy := answer
	offer.Answer = &answerCopy
	offer.AnswererUserID = answerer
	return nil
}

func (t *MemoryOfferTable) Delete(ctx context.Context, offerer domain.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.offers[offerer]; !exists {
		return domain.ErrOfferNotFound
	}
	delete(t.offers, offerer)
	return nil
}

func (t *MemoryOfferTable) Open(ctx context.Context) ([]*domain.Offer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var open []*domain.Offer
	for _, offer := range t.offers {
		if offer.Answer == nil {
			open = append(open, cloneOffer(offer))
		}
	}
	return open, nil
}

// cloneOffer copies the record so callers cannot mutate table state.
func cloneOffer(o *domain.Offer) *domain.Offer {
	clone := *o
	clone.OfferCandidates = append([]domain.IceCandidate(nil), o.OfferCandidates...)
	clone.AnswererCandidates = append([]domain.IceCandidate(nil), o.AnswererCandidates...)
	if o.Answer != nil {
		answer := *o.Answer
		clone.Answer = &answer
	}
	return &clone
}
