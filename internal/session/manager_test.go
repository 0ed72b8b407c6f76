package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"authgate.org/internal/identity"
	"authgate.org/internal/obs"
	"authgate.org/internal/token"
)

type env struct {
	manager  *Manager
	sessions *MemoryStore
	subjects *identity.MemoryStore
	subject  *identity.Subject
	now      *time.Time
}

func newEnv(t *testing.T, policy Policy) *env {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	issuer, err := token.NewIssuer([]byte("access-secret"), []byte("refresh-secret"),
		"authgate", "authgate-admin", "admin",
		token.WithTTLs(15*time.Minute, 24*time.Hour),
		token.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	hash, err := identity.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	subjects := identity.NewMemoryStore()
	subject := &identity.Subject{
		ID:              "subj-1",
		UserID:          7,
		Username:        "alice",
		PasswordHash:    hash,
		PasswordVersion: 1,
		Roles:           []string{"admin"},
		Status:          identity.StatusActive,
	}
	if err := subjects.Create(context.Background(), subject); err != nil {
		t.Fatalf("Create subject: %v", err)
	}

	sessions := NewMemoryStore()
	manager := NewManager(sessions, subjects, issuer, policy, WithManagerClock(clock))
	return &env{manager: manager, sessions: sessions, subjects: subjects, subject: subject, now: &now}
}

func (e *env) advance(d time.Duration) { *e.now = e.now.Add(d) }

func TestLoginIssuesSession(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	pair, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "dev-1", Name: "laptop"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionID == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}

	sess, err := e.sessions.Find(ctx, "subj-1", pair.SessionID)
	if err != nil {
		t.Fatalf("Find session: %v", err)
	}
	if sess.Revoked() {
		t.Fatal("fresh session is revoked")
	}
	if sess.RefreshTokenHash == pair.RefreshToken {
		t.Fatal("refresh token stored in plaintext")
	}
	if !token.HashEqual(sess.RefreshTokenHash, pair.RefreshToken) {
		t.Fatal("stored hash does not match issued token")
	}

	ac, err := e.manager.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ac.SubjectID != "subj-1" || ac.SessionID != pair.SessionID {
		t.Fatalf("auth context mismatch: %+v", ac)
	}
	if !ac.HasRole("admin") {
		t.Fatal("role lost in auth context")
	}
}

func TestLoginRejections(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	if _, err := e.manager.Login(ctx, "alice", "wrong", Device{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad password: %v", err)
	}
	if _, err := e.manager.Login(ctx, "nobody", "correct horse", Device{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown subject: %v", err)
	}

	if err := e.subjects.SetStatus(ctx, "subj-1", identity.StatusBanned); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := e.manager.Login(ctx, "alice", "correct horse", Device{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("banned subject: %v", err)
	}
}

func TestRefreshRotatesLineage(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	pair, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "dev-1", Name: "laptop", Platform: "linux"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Rotate three times; each step closes the predecessor and issues a
	// fresh jti.
	seen := map[string]bool{pair.SessionID: true}
	current := pair
	for i := 0; i < 3; i++ {
		e.advance(time.Minute)
		next, err := e.manager.Refresh(ctx, current.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh %d: %v", i, err)
		}
		if seen[next.SessionID] {
			t.Fatalf("jti reused across rotation: %s", next.SessionID)
		}
		seen[next.SessionID] = true

		old, err := e.sessions.Find(ctx, "subj-1", current.SessionID)
		if err != nil {
			t.Fatalf("Find old: %v", err)
		}
		if !old.Revoked() || old.RevokedReason != ReasonRotated {
			t.Fatalf("old session not rotated: %+v", old)
		}
		current = next
	}

	// Device metadata rides along the lineage.
	last, err := e.sessions.Find(ctx, "subj-1", current.SessionID)
	if err != nil {
		t.Fatalf("Find last: %v", err)
	}
	if last.DeviceID != "dev-1" || last.DeviceName != "laptop" || last.Platform != "linux" {
		t.Fatalf("device metadata lost: %+v", last)
	}

	active, err := e.sessions.ListActive(ctx, "subj-1", *e.now)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(active))
	}
}

func TestReplayedRefreshRevokesEverything(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	first, err := e.manager.Login(ctx, "alice", "correct horse", Device{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	e.advance(time.Minute)
	second, err := e.manager.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the rotated token is treated as theft: the whole subject
	// is logged out, successor included.
	e.advance(time.Minute)
	if _, err := e.manager.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("replayed token accepted: %v", err)
	}

	successor, err := e.sessions.Find(ctx, "subj-1", second.SessionID)
	if err != nil {
		t.Fatalf("Find successor: %v", err)
	}
	if !successor.Revoked() || successor.RevokedReason != ReasonReuseRotated {
		t.Fatalf("successor not revoked after reuse: %+v", successor)
	}

	if _, err := e.manager.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("successor token still usable: %v", err)
	}
}

func TestHashMismatchRevokesEverything(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	pair, err := e.manager.Login(ctx, "alice", "correct horse", Device{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Simulate a lineage whose stored hash no longer matches the
	// presented token.
	sess, err := e.sessions.Find(ctx, "subj-1", pair.SessionID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	sess.RefreshTokenHash = token.Hash("some other token")
	if err := e.sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := e.manager.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("mismatched token accepted: %v", err)
	}
	got, err := e.sessions.Find(ctx, "subj-1", pair.SessionID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !got.Revoked() || got.RevokedReason != ReasonReuseHashMismatch {
		t.Fatalf("session not revoked on mismatch: %+v", got)
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	pair, err := e.manager.Login(ctx, "alice", "correct horse", Device{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	e.advance(25 * time.Hour)
	if _, err := e.manager.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired refresh accepted: %v", err)
	}
}

func TestReplacePolicyRevokesSameDevice(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyReplace})
	ctx := context.Background()

	first, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "dev-1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	e.advance(time.Minute)
	if _, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "dev-1"}); err != nil {
		t.Fatalf("second Login: %v", err)
	}

	old, err := e.sessions.Find(ctx, "subj-1", first.SessionID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !old.Revoked() || old.RevokedReason != ReasonReplaced {
		t.Fatalf("previous device session not replaced: %+v", old)
	}

	// A different device keeps its own session.
	e.advance(time.Minute)
	if _, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "dev-2"}); err != nil {
		t.Fatalf("third Login: %v", err)
	}
	active, err := e.sessions.ListActive(ctx, "subj-1", *e.now)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active sessions = %d, want 2", len(active))
	}
}

func TestLimitPolicyEvictsOldest(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 2})
	ctx := context.Background()

	first, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "d1"})
	if err != nil {
		t.Fatalf("Login 1: %v", err)
	}
	e.advance(time.Minute)
	if _, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "d2"}); err != nil {
		t.Fatalf("Login 2: %v", err)
	}
	e.advance(time.Minute)
	if _, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "d3"}); err != nil {
		t.Fatalf("Login 3: %v", err)
	}

	evicted, err := e.sessions.Find(ctx, "subj-1", first.SessionID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !evicted.Revoked() || evicted.RevokedReason != ReasonLimitEviction {
		t.Fatalf("oldest session not evicted: %+v", evicted)
	}

	active, err := e.sessions.ListActive(ctx, "subj-1", *e.now)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active sessions = %d, want 2", len(active))
	}
}

func TestLogoutClosesOnlyCurrentSession(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	first, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "d1"})
	if err != nil {
		t.Fatalf("Login 1: %v", err)
	}
	e.advance(time.Minute)
	second, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "d2"})
	if err != nil {
		t.Fatalf("Login 2: %v", err)
	}

	if err := e.manager.Logout(ctx, "subj-1", first.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := e.manager.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("logged-out session refreshed: %v", err)
	}
	if _, err := e.manager.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("unrelated session broken by logout: %v", err)
	}
}

// logoutRevocations scrapes the metrics endpoint for the logout
// revocation counter; 0 when the series has not been written yet.
func logoutRevocations(t *testing.T) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	obs.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		rest, ok := strings.CutPrefix(line, `session_revocations_total{reason="logout"} `)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			t.Fatalf("parse counter %q: %v", line, err)
		}
		return v
	}
	return 0
}

func TestLogoutUnknownSessionCountsNoRevocation(t *testing.T) {
	obs.Init()
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	before := logoutRevocations(t)
	if err := e.manager.Logout(ctx, "subj-1", "no-such-session"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if got := logoutRevocations(t); got != before {
		t.Fatalf("revocations = %v after no-op logout, want %v", got, before)
	}

	pair, err := e.manager.Login(ctx, "alice", "correct horse", Device{ID: "d1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := e.manager.Logout(ctx, "subj-1", pair.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if got := logoutRevocations(t); got != before+1 {
		t.Fatalf("revocations = %v after real logout, want %v", got, before+1)
	}
}

func TestChangePasswordInvalidatesOutstandingTokens(t *testing.T) {
	e := newEnv(t, Policy{Mode: PolicyLimit, MaxActive: 5})
	ctx := context.Background()

	pair, err := e.manager.Login(ctx, "alice", "correct horse", Device{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := e.manager.ChangePassword(ctx, "subj-1", "wrong", "new password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong old password accepted: %v", err)
	}
	if err := e.manager.ChangePassword(ctx, "subj-1", "correct horse", "new password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Outstanding access token carries the old password version.
	if _, err := e.manager.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stale access token accepted: %v", err)
	}
	if _, err := e.manager.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stale refresh token accepted: %v", err)
	}

	// The new password works.
	if _, err := e.manager.Login(ctx, "alice", "new password", Device{}); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}
