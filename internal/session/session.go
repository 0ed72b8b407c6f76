// Package session owns the server-side session lifecycle: one row per
// issued refresh-token lineage, the concurrency policies applied at
// login, and the refresh/rotation state machine with reuse detection.
package session

import (
	"errors"
	"time"
)

// Revocation reasons recorded on closed sessions. Stable strings: they
// form the durable contract with inspection and audit tooling.
const (
	ReasonLogout            = "logout"
	ReasonLogoutAll         = "logout_all"
	ReasonReplaced          = "replaced"
	ReasonLimitEviction     = "limit_eviction"
	ReasonRotated           = "rotated"
	ReasonReuseRotated      = "reuse_detected_rotated"
	ReasonReuseHashMismatch = "reuse_detected_hash_mismatch"
	ReasonPasswordChanged   = "password_changed"
)

var (
	ErrNotFound = errors.New("session: not found")
	// ErrUnauthorized is the only failure surfaced to callers of the
	// login/refresh/authenticate paths; the reason lives in the audit
	// sink.
	ErrUnauthorized = errors.New("session: unauthorized")
)

// Session binds a subject to one refresh-token lineage. Rows are never
// physically deleted; revocation closes them logically and RevokedAt is
// never cleared once set.
type Session struct {
	ID               string
	SubjectID        string
	JTI              string
	RefreshTokenHash string
	DeviceID         string
	DeviceName       string
	Platform         string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevokedReason    string
	RefreshCount     int
	LastSeenAt       *time.Time
	CreatedAt        time.Time
}

// Revoked reports whether the session has been logically closed.
func (s *Session) Revoked() bool { return s.RevokedAt != nil }

// Device is the optional client metadata captured at login and copied
// across rotations.
type Device struct {
	ID       string
	Name     string
	Platform string
}
