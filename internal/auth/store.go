package auth

import (
	"context"
	"sort"
	"sync"
)

type AccountStore interface {
	Create(ctx context.Context, a Account) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	List(ctx context.Context) ([]Account, error)
	UpdateRole(ctx context.Context, id int64, role Role) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	// DeleteWithRole removes the account only while its role is still
	// role. A row with another role is left alone and ErrRoleChanged is
	// returned.
	DeleteWithRole(ctx context.Context, id int64, role Role) error
}

type InMemoryAccountStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]Account
	byEmail map[string]int64
}

func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{
		byID:    make(map[int64]Account),
		byEmail: make(map[string]int64),
	}
}

func (s *InMemoryAccountStore) Create(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[a.Email]; ok {
		return Account{}, ErrDuplicateEmail
	}
	s.nextID++
	a.ID = s.nextID
	s.byID[a.ID] = a
	s.byEmail[a.Email] = a.ID
	return a, nil
}

func (s *InMemoryAccountStore) GetByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryAccountStore) GetByID(_ context.Context, id int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *InMemoryAccountStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	out := make([]Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryAccountStore) UpdateRole(_ context.Context, id int64, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Role = role
	s.byID[id] = a
	return nil
}

func (s *InMemoryAccountStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = hash
	s.byID[id] = a
	return nil
}

func (s *InMemoryAccountStore) DeleteWithRole(_ context.Context, id int64, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	if a.Role != role {
		return ErrRoleChanged
	}
	delete(s.byID, id)
	delete(s.byEmail, a.Email)
	return nil
}
