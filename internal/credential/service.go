package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/secretbox"
	"authgate.org/internal/signing"
)

// Service is the administrative surface for credential lifecycle. The
// verification path never writes through it; it never deletes rows.
type Service struct {
	store Store
	box   *secretbox.Box
	now   func() time.Time
}

// NewService constructs the administrative credential service.
func NewService(store Store, box *secretbox.Box) *Service {
	return &Service{store: store, box: box, now: time.Now}
}

// CreateParams describes a new credential.
type CreateParams struct {
	AppID       string
	KeyID       string
	Secret      string
	Algorithm   signing.Algorithm
	Encoding    signing.Encoding
	NotBefore   *time.Time
	ExpiresAt   *time.Time
	AllowIPs    []string
	Description string
}

func (p *CreateParams) normalize() error {
	p.AppID = strings.TrimSpace(p.AppID)
	if p.AppID == "" {
		return errors.New("credential: app id is required")
	}
	if p.KeyID = strings.TrimSpace(p.KeyID); p.KeyID == "" {
		p.KeyID = DefaultKeyID
	}
	if p.Secret == "" {
		return errors.New("credential: secret is required")
	}
	if p.Algorithm == "" {
		p.Algorithm = signing.AlgSHA256
	}
	if p.Encoding == "" {
		p.Encoding = signing.EncHex
	}
	if !p.Algorithm.Valid() {
		return fmt.Errorf("credential: unsupported algorithm %q", p.Algorithm)
	}
	if !p.Encoding.Valid() {
		return fmt.Errorf("credential: unsupported encoding %q", p.Encoding)
	}
	return nil
}

// Create inserts a new credential with the secret encrypted at rest.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Credential, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}
	secretEnc, err := s.box.Seal([]byte(params.Secret))
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	cred := &Credential{
		AppID:       params.AppID,
		KeyID:       params.KeyID,
		SecretEnc:   secretEnc,
		Algorithm:   params.Algorithm,
		Encoding:    params.Encoding,
		Status:      StatusActive,
		NotBefore:   params.NotBefore,
		ExpiresAt:   params.ExpiresAt,
		AllowIPs:    params.AllowIPs,
		Description: params.Description,
	}
	if err := s.store.Create(ctx, cred); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "credential.created", map[string]any{
		"app_id": cred.AppID,
		"key_id": cred.KeyID,
	})
	return cred, nil
}

// Update merges the mutable metadata of a credential. Omitted fields
// keep their stored values, and a revoked credential can never be
// brought back to a usable status.
func (s *Service) Update(ctx context.Context, appID, keyID string, meta Meta) error {
	if keyID == "" {
		keyID = DefaultKeyID
	}
	cred, err := s.store.Find(ctx, appID, keyID)
	if err != nil {
		return err
	}
	if meta.Status == "" {
		meta.Status = cred.Status
	}
	switch meta.Status {
	case StatusActive, StatusInactive, StatusRevoked:
	default:
		return fmt.Errorf("credential: unknown status %q", meta.Status)
	}
	if cred.Status == StatusRevoked && meta.Status != StatusRevoked {
		return ErrRevoked
	}
	if meta.NotBefore == nil {
		meta.NotBefore = cred.NotBefore
	}
	if meta.ExpiresAt == nil {
		meta.ExpiresAt = cred.ExpiresAt
	}
	if meta.AllowIPs == nil {
		meta.AllowIPs = cred.AllowIPs
	}
	if meta.Description == "" {
		meta.Description = cred.Description
	}
	if err := s.store.UpdateMeta(ctx, appID, keyID, meta); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "credential.updated", map[string]any{
		"app_id": appID,
		"key_id": keyID,
		"status": meta.Status,
	})
	return nil
}

// Revoke permanently disables a credential.
func (s *Service) Revoke(ctx context.Context, appID, keyID, reason string) error {
	if keyID == "" {
		keyID = DefaultKeyID
	}
	if err := s.store.SetStatus(ctx, appID, keyID, StatusRevoked); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "credential.revoked", map[string]any{
		"app_id": appID,
		"key_id": keyID,
		"reason": reason,
	})
	return nil
}

// RotateParams describes a staged key rotation.
type RotateParams struct {
	AppID     string
	NewKeyID  string
	NewSecret string
	Algorithm signing.Algorithm
	Encoding  signing.Encoding
	// RevokeOld revokes OldKeyID immediately. Leaving it false keeps
	// both keys valid for a grace period.
	RevokeOld bool
	OldKeyID  string
}

// Rotate inserts the new credential; it never deletes the old one.
// Revoking the old key is a separate, optional step so rotation can be
// staged.
func (s *Service) Rotate(ctx context.Context, params RotateParams) (*Credential, error) {
	cred, err := s.Create(ctx, CreateParams{
		AppID:     params.AppID,
		KeyID:     params.NewKeyID,
		Secret:    params.NewSecret,
		Algorithm: params.Algorithm,
		Encoding:  params.Encoding,
	})
	if err != nil {
		return nil, err
	}
	if params.RevokeOld {
		oldKeyID := params.OldKeyID
		if oldKeyID == "" {
			oldKeyID = DefaultKeyID
		}
		if err := s.Revoke(ctx, params.AppID, oldKeyID, "rotated"); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	_ = audit.LogEvent(ctx, "credential.rotated", map[string]any{
		"app_id":      params.AppID,
		"new_key_id":  cred.KeyID,
		"revoked_old": params.RevokeOld,
	})
	return cred, nil
}

// List returns every credential of an application, oldest first.
func (s *Service) List(ctx context.Context, appID string) ([]*Credential, error) {
	return s.store.ListByApp(ctx, appID)
}
