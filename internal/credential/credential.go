// Package credential manages per-application signing credentials: the
// administrative lifecycle (create, update, revoke, staged rotation) and
// the request-time resolver that turns (appId, keyId) into a usable
// secret.
package credential

import (
	"errors"
	"strings"
	"time"

	"authgate.org/internal/signing"
)

// DefaultKeyID is assumed when a request names no key.
const DefaultKeyID = "k1"

// Status describes whether a credential may sign requests.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusRevoked  Status = "revoked"
)

var (
	ErrNotFound      = errors.New("credential: not found")
	ErrAlreadyExists = errors.New("credential: already exists")
	// ErrRevoked rejects attempts to move a revoked credential back to a
	// usable status; revocation is permanent.
	ErrRevoked = errors.New("credential: revoked")
	// ErrNoActiveCredential covers every resolution failure (missing,
	// inactive, out of window, IP not allowed) so callers cannot tell
	// which check failed.
	ErrNoActiveCredential = errors.New("credential: no active credential")
)

// Credential is one application signing key. The secret is encrypted at
// rest; SecretEnc never leaves the package in decrypted form except via
// the Resolver.
type Credential struct {
	ID          string
	AppID       string
	KeyID       string
	SecretEnc   []byte
	Algorithm   signing.Algorithm
	Encoding    signing.Encoding
	Status      Status
	NotBefore   *time.Time
	ExpiresAt   *time.Time
	AllowIPs    []string
	Description string
	LastUsedAt  *time.Time
	LastUsedIP  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsableAt reports whether the credential may sign at the given instant:
// active status and inside the optional [NotBefore, ExpiresAt) window.
func (c *Credential) UsableAt(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if c.NotBefore != nil && now.Before(*c.NotBefore) {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// AllowsIP reports whether the caller IP matches the allowlist by prefix.
// An empty allowlist admits every IP.
func (c *Credential) AllowsIP(ip string) bool {
	if len(c.AllowIPs) == 0 {
		return true
	}
	if ip == "" {
		return false
	}
	for _, prefix := range c.AllowIPs {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" && strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}
