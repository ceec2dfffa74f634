// Package user is the demo User subgraph: an in-memory store behind a
// GraphQL-over-HTTP endpoint.
package user

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is the entity owned by this subgraph.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt string
	UpdatedAt *string
}

func (u *User) toMap() map[string]any {
	m := map[string]any{
		"id":        u.ID,
		"name":      u.Name,
		"email":     u.Email,
		"createdAt": u.CreatedAt,
		"updatedAt": nil,
	}
	if u.UpdatedAt != nil {
		m["updatedAt"] = *u.UpdatedAt
	}
	return m
}

// Store is an in-memory user table. Iteration order is insertion order.
type Store struct {
	mu    sync.RWMutex
	users map[string]*User
	order []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{users: make(map[string]*User)}
}

// NewSeededStore returns a store pre-populated with the demo data set.
func NewSeededStore() *Store {
	s := NewStore()
	now := time.Now().UTC().Format(time.RFC3339)
	s.Insert(&User{ID: "1", Name: "John Doe", Email: "john.doe@example.com", CreatedAt: now})
	s.Insert(&User{ID: "2", Name: "Jane Smith", Email: "jane.smith@example.com", CreatedAt: now})
	return s
}

// Insert adds or replaces a user under its own id.
func (s *Store) Insert(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		s.order = append(s.order, u.ID)
	}
	s.users[u.ID] = u
}

// Get returns the user with the given id.
func (s *Store) Get(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// ByIDs returns one entry per requested id, in request order. Missing ids
// yield nil entries.
func (s *Store) ByIDs(ids []string) []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, len(ids))
	for i, id := range ids {
		out[i] = s.users[id]
	}
	return out
}

// All returns every user in insertion order.
func (s *Store) All() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.users[id])
	}
	return out
}

// Create inserts a new user with a generated id.
func (s *Store) Create(name, email string) *User {
	u := &User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.Insert(u)
	return u
}

// Update applies non-nil fields to an existing user and stamps updatedAt.
func (s *Store) Update(id string, name, email *string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	if name != nil {
		u.Name = *name
	}
	if email != nil {
		u.Email = *email
	}
	now := time.Now().UTC().Format(time.RFC3339)
	u.UpdatedAt = &now
	return u, true
}

// Delete removes a user, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return false
	}
	delete(s.users, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
