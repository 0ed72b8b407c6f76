package credential

import (
	"context"
	"time"
)

// Meta is the administratively mutable part of a credential.
type Meta struct {
	Status      Status
	NotBefore   *time.Time
	ExpiresAt   *time.Time
	AllowIPs    []string
	Description string
}

// Store describes credential persistence. (AppID, KeyID) is unique; rows
// are never hard-deleted in normal operation.
type Store interface {
	Create(ctx context.Context, cred *Credential) error
	Find(ctx context.Context, appID, keyID string) (*Credential, error)
	ListByApp(ctx context.Context, appID string) ([]*Credential, error)
	UpdateMeta(ctx context.Context, appID, keyID string, meta Meta) error
	SetStatus(ctx context.Context, appID, keyID string, status Status) error
	// TouchUsage records last-used metadata; called asynchronously and
	// must never block verification.
	TouchUsage(ctx context.Context, appID, keyID string, at time.Time, ip string) error
}
