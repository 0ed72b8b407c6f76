package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"authgate.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used in tests and single-node dev runs.
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[string]*Subject
	byName   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects: make(map[string]*Subject),
		byName:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, subject *Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subject.ID == "" {
		subject.ID = ids.New()
	}
	if subject.Status == "" {
		subject.Status = StatusActive
	}
	name := strings.ToLower(subject.Username)
	if _, ok := s.byName[name]; ok {
		return ErrAlreadyExists
	}
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = time.Now().UTC()
	}
	subject.UpdatedAt = subject.CreatedAt
	clone := *subject
	s.subjects[subject.ID] = &clone
	s.byName[name] = subject.ID
	return nil
}

func (s *MemoryStore) Find(_ context.Context, id string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *subject
	return &clone, nil
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (*Subject, error) {
	s.mu.RLock()
	id, ok := s.byName[strings.ToLower(strings.TrimSpace(username))]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[id]
	if !ok {
		return 0, ErrNotFound
	}
	subject.PasswordHash = passwordHash
	subject.PasswordVersion++
	subject.UpdatedAt = time.Now().UTC()
	return subject.PasswordVersion, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[id]
	if !ok {
		return ErrNotFound
	}
	subject.Status = status
	subject.UpdatedAt = time.Now().UTC()
	return nil
}
