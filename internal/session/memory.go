package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"authgate.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used to unit-test the state machines
// without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // keyed by subjectID+"/"+jti
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func key(subjectID, jti string) string { return subjectID + "/" + jti }

func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	clone := *sess
	s.sessions[key(sess.SubjectID, sess.JTI)] = &clone
	return nil
}

func (s *MemoryStore) Find(_ context.Context, subjectID, jti string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key(subjectID, jti)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *MemoryStore) ListBySubject(_ context.Context, subjectID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Session
	for _, sess := range s.sessions {
		if sess.SubjectID == subjectID {
			clone := *sess
			res = append(res, &clone)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryStore) ListActive(_ context.Context, subjectID string, now time.Time) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Session
	for _, sess := range s.sessions {
		if sess.SubjectID == subjectID && !sess.Revoked() && sess.ExpiresAt.After(now) {
			clone := *sess
			res = append(res, &clone)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryStore) MarkRevoked(_ context.Context, subjectID, jti, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key(subjectID, jti)]
	if !ok || sess.Revoked() {
		return ErrNotFound
	}
	t := at
	sess.RevokedAt = &t
	sess.RevokedReason = reason
	return nil
}

func (s *MemoryStore) RevokeAllForSubject(_ context.Context, subjectID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.SubjectID == subjectID && !sess.Revoked() {
			t := at
			sess.RevokedAt = &t
			sess.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RevokeDevice(_ context.Context, subjectID, deviceID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.SubjectID == subjectID && sess.DeviceID == deviceID && deviceID != "" && !sess.Revoked() {
			t := at
			sess.RevokedAt = &t
			sess.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecordRefresh(_ context.Context, subjectID, jti string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key(subjectID, jti)]
	if !ok {
		return ErrNotFound
	}
	t := at
	sess.LastSeenAt = &t
	sess.RefreshCount++
	return nil
}
