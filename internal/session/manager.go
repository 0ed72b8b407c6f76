package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"authgate.org/internal/audit"
	"authgate.org/internal/identity"
	"authgate.org/internal/obs"
	"authgate.org/internal/token"
)

// PolicyMode selects how many simultaneously valid sessions a subject or
// device may hold.
type PolicyMode string

const (
	// PolicyReplace keeps one active session per device: a new login on
	// a known device revokes the previous session for that device.
	PolicyReplace PolicyMode = "replace"
	// PolicyLimit bounds the active-session count per subject, evicting
	// the oldest on overflow.
	PolicyLimit PolicyMode = "limit"
)

// Policy is the session concurrency policy applied at login.
type Policy struct {
	Mode      PolicyMode
	MaxActive int
}

// Manager drives the session lifecycle: login, refresh with rotation and
// reuse detection, logout and password changes.
type Manager struct {
	sessions Store
	subjects identity.Store
	issuer   *token.Issuer
	policy   Policy
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time source (useful for tests).
func WithManagerClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(sessions Store, subjects identity.Store, issuer *token.Issuer, policy Policy, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: sessions,
		subjects: subjects,
		issuer:   issuer,
		policy:   policy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login authenticates a password credential and starts a new session.
func (m *Manager) Login(ctx context.Context, username, password string, device Device) (token.Pair, error) {
	subject, err := m.subjects.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return token.Pair{}, m.rejectLogin(ctx, username, "unknown_subject")
		}
		return token.Pair{}, err
	}
	if !subject.CanAuthenticate() {
		return token.Pair{}, m.rejectLogin(ctx, username, "subject_"+string(subject.Status))
	}
	if err := identity.VerifyPassword(subject.PasswordHash, password); err != nil {
		return token.Pair{}, m.rejectLogin(ctx, username, "bad_password")
	}

	pair, err := m.startSession(ctx, subject, device)
	if err != nil {
		return token.Pair{}, err
	}
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"subject_id": subject.ID,
		"session_id": pair.SessionID,
		"device_id":  device.ID,
	})
	return pair, nil
}

// startSession applies the concurrency policy, mints a pair and persists
// the new row. After it returns, exactly one additional non-revoked row
// exists for the subject and the policy invariants hold.
func (m *Manager) startSession(ctx context.Context, subject *identity.Subject, device Device) (token.Pair, error) {
	now := m.now().UTC()
	if err := m.applyPolicy(ctx, subject.ID, device, now); err != nil {
		return token.Pair{}, err
	}

	jti := uuid.NewString()
	pair, err := m.issuer.Mint(subject, jti)
	if err != nil {
		return token.Pair{}, err
	}
	row := &Session{
		SubjectID:        subject.ID,
		JTI:              jti,
		RefreshTokenHash: token.Hash(pair.RefreshToken),
		DeviceID:         device.ID,
		DeviceName:       device.Name,
		Platform:         device.Platform,
		ExpiresAt:        pair.RefreshExpiresAt,
		CreatedAt:        now,
	}
	if err := m.sessions.Create(ctx, row); err != nil {
		return token.Pair{}, fmt.Errorf("create session: %w", err)
	}
	return pair, nil
}

func (m *Manager) applyPolicy(ctx context.Context, subjectID string, device Device, now time.Time) error {
	switch m.policy.Mode {
	case PolicyReplace:
		if device.ID == "" {
			return nil
		}
		n, err := m.sessions.RevokeDevice(ctx, subjectID, device.ID, ReasonReplaced, now)
		if err != nil {
			return fmt.Errorf("replace policy: %w", err)
		}
		if n > 0 {
			obs.SessionRevoked(ReasonReplaced)
		}
	case PolicyLimit:
		active, err := m.sessions.ListActive(ctx, subjectID, now)
		if err != nil {
			return fmt.Errorf("limit policy: %w", err)
		}
		// ListActive is oldest-first; evict until one slot is free.
		for i := 0; len(active)-i >= m.policy.MaxActive && i < len(active); i++ {
			oldest := active[i]
			if err := m.sessions.MarkRevoked(ctx, subjectID, oldest.JTI, ReasonLimitEviction, now); err != nil {
				return fmt.Errorf("limit policy: %w", err)
			}
			obs.SessionRevoked(ReasonLimitEviction)
		}
	}
	return nil
}

// Refresh validates a presented refresh token and rotates the session.
// Presenting an already-rotated or hash-mismatched token is treated as
// evidence of theft and revokes every session of the subject.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	claims, err := m.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return token.Pair{}, m.rejectRefresh(ctx, "", "", "invalid_token")
	}
	subjectID, jti := claims.Subject, claims.ID
	now := m.now().UTC()

	sess, err := m.sessions.Find(ctx, subjectID, jti)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return token.Pair{}, m.rejectRefresh(ctx, subjectID, jti, "session_not_found")
		}
		return token.Pair{}, err
	}

	if sess.Revoked() {
		if sess.RevokedReason == ReasonRotated {
			// An already-rotated token was replayed: proof of reuse.
			return token.Pair{}, m.cascade(ctx, subjectID, jti, ReasonReuseRotated)
		}
		return token.Pair{}, m.rejectRefresh(ctx, subjectID, jti, "session_revoked")
	}
	if !sess.ExpiresAt.After(now) {
		return token.Pair{}, m.rejectRefresh(ctx, subjectID, jti, "session_expired")
	}
	if !token.HashEqual(sess.RefreshTokenHash, refreshToken) {
		// Valid signature but wrong lineage: tampering or theft.
		return token.Pair{}, m.cascade(ctx, subjectID, jti, ReasonReuseHashMismatch)
	}

	subject, err := m.subjects.Find(ctx, subjectID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return token.Pair{}, m.rejectRefresh(ctx, subjectID, jti, "unknown_subject")
		}
		return token.Pair{}, err
	}
	if !subject.CanAuthenticate() {
		return token.Pair{}, m.rejectRefresh(ctx, subjectID, jti, "subject_"+string(subject.Status))
	}
	if claims.PasswordVersion != subject.PasswordVersion {
		return token.Pair{}, m.rejectRefresh(ctx, subjectID, jti, "credential_stale")
	}

	if err := m.sessions.RecordRefresh(ctx, subjectID, jti, now); err != nil {
		return token.Pair{}, err
	}
	return m.rotate(ctx, subject, sess, now)
}

// rotate closes the old row and inserts the successor. Revoke happens
// before insert: a crash in between leaves the lineage closed (client
// re-logs in) instead of two simultaneously valid rows.
func (m *Manager) rotate(ctx context.Context, subject *identity.Subject, old *Session, now time.Time) (token.Pair, error) {
	newJTI := uuid.NewString()
	pair, err := m.issuer.Mint(subject, newJTI)
	if err != nil {
		return token.Pair{}, err
	}
	if err := m.sessions.MarkRevoked(ctx, old.SubjectID, old.JTI, ReasonRotated, now); err != nil {
		return token.Pair{}, fmt.Errorf("rotate: revoke old: %w", err)
	}
	obs.SessionRevoked(ReasonRotated)

	row := &Session{
		SubjectID:        old.SubjectID,
		JTI:              newJTI,
		RefreshTokenHash: token.Hash(pair.RefreshToken),
		DeviceID:         old.DeviceID,
		DeviceName:       old.DeviceName,
		Platform:         old.Platform,
		ExpiresAt:        pair.RefreshExpiresAt,
		CreatedAt:        now,
	}
	if err := m.sessions.Create(ctx, row); err != nil {
		return token.Pair{}, fmt.Errorf("rotate: insert new: %w", err)
	}
	_ = audit.LogEvent(ctx, "auth.refresh.rotated", map[string]any{
		"subject_id": old.SubjectID,
		"old_jti":    old.JTI,
		"new_jti":    newJTI,
	})
	return pair, nil
}

// cascade revokes every session of the subject after reuse detection.
func (m *Manager) cascade(ctx context.Context, subjectID, jti, reason string) error {
	now := m.now().UTC()
	n, err := m.sessions.RevokeAllForSubject(ctx, subjectID, reason, now)
	if err != nil {
		return err
	}
	obs.RefreshRejected(reason)
	obs.SessionRevoked(reason)
	_ = audit.LogEvent(ctx, "auth.session.reuse_detected", map[string]any{
		"subject_id": subjectID,
		"jti":        jti,
		"reason":     reason,
		"revoked":    n,
	})
	return ErrUnauthorized
}

// Authenticate validates an access token statelessly (claims plus the
// current password version and account status) and returns the request
// identity to thread through the call chain.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (identity.AuthContext, error) {
	claims, err := m.issuer.ParseAccess(accessToken)
	if err != nil {
		return identity.AuthContext{}, ErrUnauthorized
	}
	subject, err := m.subjects.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.AuthContext{}, ErrUnauthorized
		}
		return identity.AuthContext{}, err
	}
	if !subject.CanAuthenticate() {
		return identity.AuthContext{}, ErrUnauthorized
	}
	if claims.PasswordVersion != subject.PasswordVersion {
		return identity.AuthContext{}, ErrUnauthorized
	}
	return identity.AuthContext{
		SubjectID: subject.ID,
		UserID:    subject.UserID,
		Username:  subject.Username,
		Roles:     subject.Roles,
		SessionID: claims.ID,
		Domain:    claims.Domain,
	}, nil
}

// Logout revokes the caller's current session.
func (m *Manager) Logout(ctx context.Context, subjectID, jti string) error {
	err := m.sessions.MarkRevoked(ctx, subjectID, jti, ReasonLogout, m.now().UTC())
	switch {
	case err == nil:
		obs.SessionRevoked(ReasonLogout)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	_ = audit.LogEvent(ctx, "auth.logout", map[string]any{"subject_id": subjectID, "jti": jti})
	return nil
}

// LogoutAll revokes every session of the subject.
func (m *Manager) LogoutAll(ctx context.Context, subjectID string) error {
	n, err := m.sessions.RevokeAllForSubject(ctx, subjectID, ReasonLogoutAll, m.now().UTC())
	if err != nil {
		return err
	}
	obs.SessionRevoked(ReasonLogoutAll)
	_ = audit.LogEvent(ctx, "auth.logout_all", map[string]any{"subject_id": subjectID, "revoked": n})
	return nil
}

// Sessions lists the subject's sessions, open and closed, for inspection.
func (m *Manager) Sessions(ctx context.Context, subjectID string) ([]*Session, error) {
	return m.sessions.ListBySubject(ctx, subjectID)
}

// ChangePassword verifies the old password, stores the new hash and bumps
// the password version, then closes every open session: outstanding
// access and refresh tokens all become stale on next use.
func (m *Manager) ChangePassword(ctx context.Context, subjectID, oldPassword, newPassword string) error {
	subject, err := m.subjects.Find(ctx, subjectID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if err := identity.VerifyPassword(subject.PasswordHash, oldPassword); err != nil {
		_ = audit.LogEvent(ctx, "auth.password.rejected", map[string]any{"subject_id": subjectID})
		return ErrUnauthorized
	}
	hash, err := identity.HashPassword(newPassword)
	if err != nil {
		return err
	}
	version, err := m.subjects.UpdatePassword(ctx, subjectID, hash)
	if err != nil {
		return err
	}
	if _, err := m.sessions.RevokeAllForSubject(ctx, subjectID, ReasonPasswordChanged, m.now().UTC()); err != nil {
		return err
	}
	obs.SessionRevoked(ReasonPasswordChanged)
	_ = audit.LogEvent(ctx, "auth.password.changed", map[string]any{
		"subject_id":       subjectID,
		"password_version": version,
	})
	return nil
}

func (m *Manager) rejectLogin(ctx context.Context, username, reason string) error {
	_ = audit.LogEvent(ctx, "auth.login.rejected", map[string]any{
		"username": username,
		"reason":   reason,
	})
	return ErrUnauthorized
}

func (m *Manager) rejectRefresh(ctx context.Context, subjectID, jti, reason string) error {
	obs.RefreshRejected(reason)
	_ = audit.LogEvent(ctx, "auth.refresh.rejected", map[string]any{
		"subject_id": subjectID,
		"jti":        jti,
		"reason":     reason,
	})
	return ErrUnauthorized
}
