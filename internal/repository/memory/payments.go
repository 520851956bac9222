package memory

import (
	"context"
	"sync"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

// PaymentStore is an in-memory repository.PaymentRepository.
type PaymentStore struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	byKey    map[string]string
}

// NewPaymentStore creates an empty payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		payments: make(map[string]*domain.Payment),
		byKey:    make(map[string]string),
	}
}

var _ repository.PaymentRepository = (*PaymentStore)(nil)

// Create persists a new payment.
func (s *PaymentStore) Create(ctx context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *payment
	s.payments[p.ID] = &p
	if p.IdempotencyKey != "" {
		s.byKey[p.IdempotencyKey] = p.ID
	}
	return nil
}

// GetByID retrieves a payment by ID.
func (s *PaymentStore) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetByIdempotencyKey returns nil if no payment has key.
func (s *PaymentStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	c := *s.payments[id]
	return &c, nil
}

// UpdateStatus records the outcome of a payment attempt.
func (s *PaymentStore) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, providerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	if providerRef != "" {
		p.ProviderRef = providerRef
	}
	return nil
}
