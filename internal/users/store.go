package users

import (
	"context"
	"sort"
	"sync"
)

// Entity is the persisted projection of a valid user.
type Entity struct {
	UserID int64   `json:"userid"`
	Email  *string `json:"email,omitempty"`
	Name   string  `json:"name"`
	Age    *int    `json:"age,omitempty"`
}

// ToEntity maps a validated user onto its persisted projection.
func ToEntity(u User) Entity {
	e := Entity{Email: u.Email, Age: u.Age}
	if u.ID != nil {
		e.UserID = *u.ID
	}
	if u.Name != nil {
		e.Name = *u.Name
	}
	return e
}

// Store receives every record the consumer accepts. Records may be delivered
// more than once, so Save must be idempotent per user id.
type Store interface {
	Save(ctx context.Context, entity Entity) error
}

// MemoryStore keeps entities in memory keyed by user id.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[int64]Entity
	saves    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[int64]Entity)}
}

func (s *MemoryStore) Save(ctx context.Context, entity Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.UserID] = entity
	s.saves++
	return nil
}

// Get returns the entity stored for id.
func (s *MemoryStore) Get(id int64) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// All returns every stored entity ordered by user id.
func (s *MemoryStore) All() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Saves counts Save calls, duplicates included.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
