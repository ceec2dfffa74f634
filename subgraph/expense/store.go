// Package expense is the demo Expense subgraph: an in-memory store behind a
// GraphQL-over-HTTP endpoint. It additionally serves the
// expensesByUsers(userIds) batch query the gateway's loaders depend on.
package expense

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Expense is the entity owned by this subgraph. UserID references a User in
// the other subgraph; referential integrity is not enforced here.
type Expense struct {
	ID          string
	UserID      string
	Amount      float64
	Description string
	Category    string
	Date        string
	CreatedAt   string
}

func (e *Expense) toMap() map[string]any {
	return map[string]any{
		"id":          e.ID,
		"userId":      e.UserID,
		"amount":      e.Amount,
		"description": e.Description,
		"category":    e.Category,
		"date":        e.Date,
		"createdAt":   e.CreatedAt,
	}
}

// Store is an in-memory expense table. Iteration order is insertion order.
type Store struct {
	mu       sync.RWMutex
	expenses map[string]*Expense
	order    []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{expenses: make(map[string]*Expense)}
}

// NewSeededStore returns a store pre-populated with the demo data set: two
// expenses for user 1, two for user 2.
func NewSeededStore() *Store {
	s := NewStore()
	s.Insert(&Expense{ID: "1", UserID: "1", Amount: 50.0, Description: "Groceries", Category: "Food", Date: "2023-01-01", CreatedAt: "2023-01-01T10:00:00Z"})
	s.Insert(&Expense{ID: "2", UserID: "1", Amount: 20.0, Description: "Bus ticket", Category: "Transport", Date: "2023-01-02", CreatedAt: "2023-01-02T11:00:00Z"})
	s.Insert(&Expense{ID: "3", UserID: "2", Amount: 100.0, Description: "New shoes", Category: "Clothing", Date: "2023-01-03", CreatedAt: "2023-01-03T12:00:00Z"})
	s.Insert(&Expense{ID: "4", UserID: "2", Amount: 15.0, Description: "Coffee", Category: "Food", Date: "2023-01-04", CreatedAt: "2023-01-04T13:00:00Z"})
	return s
}

// Insert adds or replaces an expense under its own id.
func (s *Store) Insert(e *Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expenses[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.expenses[e.ID] = e
}

// Get returns the expense with the given id.
func (s *Store) Get(id string) (*Expense, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.expenses[id]
	return e, ok
}

// All returns every expense in insertion order.
func (s *Store) All() []*Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Expense, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.expenses[id])
	}
	return out
}

// ByUser returns the expenses of one user in insertion order.
func (s *Store) ByUser(userID string) []*Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Expense
	for _, id := range s.order {
		if e := s.expenses[id]; e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ByUsers returns a flat list of the expenses of all listed users, in
// insertion order. Callers group the result by userId themselves.
func (s *Store) ByUsers(userIDs []string) []*Expense {
	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Expense
	for _, id := range s.order {
		if e := s.expenses[id]; wanted[e.UserID] {
			out = append(out, e)
		}
	}
	return out
}

// ByDateRange returns expenses with start <= date <= end. An empty end means
// now.
func (s *Store) ByDateRange(start, end string) ([]*Expense, error) {
	startAt, err := parseDate(start)
	if err != nil {
		return nil, err
	}
	endAt := time.Now().UTC()
	if end != "" {
		endAt, err = parseDate(end)
		if err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Expense
	for _, id := range s.order {
		e := s.expenses[id]
		at, err := parseDate(e.Date)
		if err != nil {
			continue
		}
		if !at.Before(startAt) && !at.After(endAt) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create inserts a new expense with a generated id. An empty category
// defaults to "Uncategorized".
func (s *Store) Create(userID string, amount float64, description, category, date string) *Expense {
	if category == "" {
		category = "Uncategorized"
	}
	e := &Expense{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Description: description,
		Category:    category,
		Date:        date,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	s.Insert(e)
	return e
}

// Update applies non-nil fields to an existing expense.
func (s *Store) Update(id string, amount *float64, description, category *string) (*Expense, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok {
		return nil, false
	}
	if amount != nil {
		e.Amount = *amount
	}
	if description != nil {
		e.Description = *description
	}
	if category != nil {
		e.Category = *category
	}
	return e, true
}

// Delete removes an expense, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expenses[id]; !ok {
		return false
	}
	delete(s.expenses, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
