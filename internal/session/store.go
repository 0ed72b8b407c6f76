package session

import (
	"context"
	"time"
)

// Store describes session persistence. Implementations must keep at most
// one non-revoked row per (subject, jti) and must never clear RevokedAt.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Find looks a session up by its (subject, jti) key.
	Find(ctx context.Context, subjectID, jti string) (*Session, error)
	// ListBySubject returns all sessions including closed ones, newest
	// first (inspection/audit surface).
	ListBySubject(ctx context.Context, subjectID string) ([]*Session, error)
	// ListActive returns non-revoked, non-expired sessions oldest first.
	ListActive(ctx context.Context, subjectID string, now time.Time) ([]*Session, error)
	// MarkRevoked closes one session. Already-revoked rows are left
	// untouched so the original reason survives.
	MarkRevoked(ctx context.Context, subjectID, jti, reason string, at time.Time) error
	// RevokeAllForSubject closes every open session of the subject and
	// reports how many rows it touched.
	RevokeAllForSubject(ctx context.Context, subjectID, reason string, at time.Time) (int64, error)
	// RevokeDevice closes every open session bound to the device.
	RevokeDevice(ctx context.Context, subjectID, deviceID, reason string, at time.Time) (int64, error)
	// RecordRefresh updates last-seen and bumps the refresh counter.
	RecordRefresh(ctx context.Context, subjectID, jti string, at time.Time) error
}
