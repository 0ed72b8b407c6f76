package identity

import (
	"context"
	"errors"
	"testing"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("password stored in plaintext")
	}
	if err := VerifyPassword(hash, "hunter2"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "hunter3"); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("empty password accepted")
	}
}

func TestCanAuthenticate(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusActive:   true,
		StatusInactive: false,
		StatusBanned:   false,
	} {
		s := Subject{Status: status}
		if got := s.CanAuthenticate(); got != want {
			t.Fatalf("CanAuthenticate(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	subject := &Subject{Username: "Alice", PasswordHash: "h", PasswordVersion: 1}
	if err := store.Create(ctx, subject); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if subject.ID == "" {
		t.Fatal("id not assigned")
	}

	// Username lookup is case-insensitive.
	found, err := store.FindByUsername(ctx, "  alice ")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if found.ID != subject.ID {
		t.Fatalf("found wrong subject: %s", found.ID)
	}

	if err := store.Create(ctx, &Subject{Username: "ALICE"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate username accepted: %v", err)
	}

	version, err := store.UpdatePassword(ctx, subject.ID, "h2")
	if err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if version != 2 {
		t.Fatalf("password version = %d, want 2", version)
	}

	if _, err := store.Find(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing subject: %v", err)
	}
	if err := store.SetStatus(ctx, subject.ID, StatusBanned); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	banned, err := store.Find(ctx, subject.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if banned.Status != StatusBanned {
		t.Fatalf("status = %q", banned.Status)
	}
}

func TestAuthContextRoundtrip(t *testing.T) {
	ctx := WithAuthContext(context.Background(), AuthContext{
		SubjectID: "subj-1",
		Roles:     []string{"Admin"},
	})
	ac, ok := AuthContextFrom(ctx)
	if !ok || ac.SubjectID != "subj-1" {
		t.Fatalf("auth context lost: %+v", ac)
	}
	if !ac.HasRole("admin") {
		t.Fatal("role match should be case-insensitive")
	}
	if ac.HasRole("auditor") {
		t.Fatal("unexpected role")
	}

	if _, ok := AuthContextFrom(context.Background()); ok {
		t.Fatal("auth context found in empty context")
	}
	if id, ok := SubjectIDFromContext(ctx); !ok || id != "subj-1" {
		t.Fatalf("subject id = %q, %v", id, ok)
	}
}
