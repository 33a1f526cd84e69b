// Package memory provides an in-process DatabaseStorage used for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

var _ storage.DatabaseStorage = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	payments    map[string]types.Payment
	collections map[string]types.Collection
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		payments:    make(map[string]types.Payment),
		collections: make(map[string]types.Collection),
		now:         time.Now,
	}
}

func (s *Store) Close() error {
	return nil
}

// PutPayment inserts or replaces a payment.
func (s *Store) PutPayment(p types.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	s.payments[p.ID] = copyPayment(p)
}

func (s *Store) PutCollection(c types.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[c.ID] = c
}

func (s *Store) GetPayment(_ context.Context, id string) (*types.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := copyPayment(p)
	return &copied, nil
}

func (s *Store) UpdatePayment(_ context.Context, id string, update types.PaymentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return storage.ErrNotFound
	}
	if update.Status != nil {
		p.Status = *update.Status
	}
	if update.StatusReason != nil {
		p.StatusReason = *update.StatusReason
	}
	if update.PostProcessResult != nil {
		raw, err := json.Marshal(update.PostProcessResult)
		if err != nil {
			return fmt.Errorf("failed to encode post process result: %w", err)
		}
		p.PostProcessResult = raw
	}
	if update.PostProcessResultAt != nil {
		at := *update.PostProcessResultAt
		p.PostProcessResultAt = &at
	}
	if update.CompletedAt != nil {
		at := *update.CompletedAt
		p.CompletedAt = &at
	}
	p.UpdatedAt = s.now()
	s.payments[id] = p
	return nil
}

func (s *Store) TransitionPaymentStatus(_ context.Context, id string, from, to types.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = s.now()
	s.payments[id] = p
	return true, nil
}

func (s *Store) ListPaymentsByStatus(_ context.Context, status types.PaymentStatus, updatedBefore time.Time, limit int) ([]types.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Payment
	for _, p := range s.payments {
		if p.Status == status && p.UpdatedAt.Before(updatedBefore) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetCollectionByAddress(_ context.Context, address string) (*types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.collections {
		if strings.EqualFold(c.Address, address) {
			copied := c
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetCollectionByID(_ context.Context, id string) (*types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func copyPayment(p types.Payment) types.Payment {
	if p.PostProcessResult != nil {
		p.PostProcessResult = append(json.RawMessage(nil), p.PostProcessResult...)
	}
	return p
}
