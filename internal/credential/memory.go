package credential

import (
	"context"
	"sort"
	"sync"
	"time"

	"authgate.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests and single-node dev runs.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential // keyed by appID+"/"+keyID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func key(appID, keyID string) string { return appID + "/" + keyID }

func (s *MemoryStore) Create(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(cred.AppID, cred.KeyID)
	if _, ok := s.creds[k]; ok {
		return ErrAlreadyExists
	}
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	if cred.Status == "" {
		cred.Status = StatusActive
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	cred.UpdatedAt = cred.CreatedAt
	clone := *cred
	s.creds[k] = &clone
	return nil
}

func (s *MemoryStore) Find(_ context.Context, appID, keyID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key(appID, keyID)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cred
	return &clone, nil
}

func (s *MemoryStore) ListByApp(_ context.Context, appID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Credential
	for _, cred := range s.creds {
		if cred.AppID == appID {
			clone := *cred
			res = append(res, &clone)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryStore) UpdateMeta(_ context.Context, appID, keyID string, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[key(appID, keyID)]
	if !ok {
		return ErrNotFound
	}
	cred.Status = meta.Status
	cred.NotBefore = meta.NotBefore
	cred.ExpiresAt = meta.ExpiresAt
	cred.AllowIPs = append([]string(nil), meta.AllowIPs...)
	cred.Description = meta.Description
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, appID, keyID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[key(appID, keyID)]
	if !ok {
		return ErrNotFound
	}
	cred.Status = status
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) TouchUsage(_ context.Context, appID, keyID string, at time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[key(appID, keyID)]
	if !ok {
		return ErrNotFound
	}
	t := at
	cred.LastUsedAt = &t
	cred.LastUsedIP = ip
	return nil
}
