package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "subject_id", "jti", "refresh_token_hash", "device_id", "device_name", "platform",
		"expires_at", "revoked_at", "revoked_reason", "refresh_count", "last_seen_at", "created_at",
	}).AddRow("sess-1", "subj-1", "jti-1", "hash", "dev-1", nil, nil,
		now.Add(time.Hour), nil, nil, 2, nil, now)
	mock.ExpectQuery("select .* from sessions where subject_id=\\$1 and jti=\\$2").
		WithArgs("subj-1", "jti-1").
		WillReturnRows(rows)

	store := NewPGStore(db)
	sess, err := store.Find(context.Background(), "subj-1", "jti-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if sess.ID != "sess-1" || sess.JTI != "jti-1" || sess.DeviceID != "dev-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.Revoked() {
		t.Fatal("session should not be revoked")
	}
	if sess.RefreshCount != 2 {
		t.Fatalf("refresh count = %d", sess.RefreshCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select .* from sessions").
		WithArgs("subj-1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPGStore(db)
	if _, err := store.Find(context.Background(), "subj-1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPGStoreMarkRevokedIsIdempotencyGuarded(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// The update matches only non-revoked rows; zero rows affected means
	// the session was missing or already closed.
	mock.ExpectExec("update sessions set revoked_at").
		WithArgs("subj-1", "jti-1", ReasonLogout, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	err = store.MarkRevoked(context.Background(), "subj-1", "jti-1", ReasonLogout, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPGStoreRevokeAllCountsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update sessions set revoked_at").
		WithArgs("subj-1", ReasonLogoutAll, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewPGStore(db)
	n, err := store.RevokeAllForSubject(context.Background(), "subj-1", ReasonLogoutAll, time.Now())
	if err != nil {
		t.Fatalf("RevokeAllForSubject: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked = %d, want 3", n)
	}
}
