package credential

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"authgate.org/internal/signing"
)

func TestCreateAppliesDefaults(t *testing.T) {
	box := testBox(t)
	svc := NewService(NewMemoryStore(), box)

	cred, err := svc.Create(context.Background(), CreateParams{AppID: "app1", Secret: "s"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if cred.KeyID != DefaultKeyID {
		t.Fatalf("key id = %q, want %q", cred.KeyID, DefaultKeyID)
	}
	if cred.Algorithm != signing.AlgSHA256 || cred.Encoding != signing.EncHex {
		t.Fatalf("defaults not applied: %+v", cred)
	}
	if cred.Status != StatusActive {
		t.Fatalf("status = %q", cred.Status)
	}
	if bytes.Equal(cred.SecretEnc, []byte("s")) {
		t.Fatal("secret stored in plaintext")
	}
	secret, err := box.Open(cred.SecretEnc)
	if err != nil || string(secret) != "s" {
		t.Fatalf("stored secret does not unwrap: %q %v", secret, err)
	}
}

func TestCreateValidatesParams(t *testing.T) {
	svc := NewService(NewMemoryStore(), testBox(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{Secret: "s"}); err == nil {
		t.Fatal("missing app id accepted")
	}
	if _, err := svc.Create(ctx, CreateParams{AppID: "a"}); err == nil {
		t.Fatal("missing secret accepted")
	}
	if _, err := svc.Create(ctx, CreateParams{AppID: "a", Secret: "s", Algorithm: "md5"}); err == nil {
		t.Fatal("unsupported algorithm accepted")
	}
	if _, err := svc.Create(ctx, CreateParams{AppID: "a", Secret: "s", Encoding: "binary"}); err == nil {
		t.Fatal("unsupported encoding accepted")
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	svc := NewService(NewMemoryStore(), testBox(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{AppID: "app1", Secret: "s"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, CreateParams{AppID: "app1", Secret: "s2"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate accepted: %v", err)
	}
}

func TestRevokeIsPermanentMetadata(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testBox(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{AppID: "app1", Secret: "s"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(ctx, "app1", "", "compromised"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The row survives revocation; only its status changes.
	cred, err := store.Find(ctx, "app1", DefaultKeyID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if cred.Status != StatusRevoked {
		t.Fatalf("status = %q, want revoked", cred.Status)
	}
}

func TestUpdatePreservesOmittedFields(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testBox(t))
	ctx := context.Background()

	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Create(ctx, CreateParams{
		AppID:       "app1",
		Secret:      "s",
		ExpiresAt:   &expires,
		AllowIPs:    []string{"10.0."},
		Description: "batch importer",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A description-only update must not touch status, window or
	// allowlist.
	if err := svc.Update(ctx, "app1", "", Meta{Description: "nightly importer"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	cred, err := store.Find(ctx, "app1", DefaultKeyID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if cred.Status != StatusActive {
		t.Fatalf("status = %q, want active", cred.Status)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(expires) {
		t.Fatalf("expiry dropped: %v", cred.ExpiresAt)
	}
	if len(cred.AllowIPs) != 1 || cred.AllowIPs[0] != "10.0." {
		t.Fatalf("allowlist dropped: %v", cred.AllowIPs)
	}
	if cred.Description != "nightly importer" {
		t.Fatalf("description = %q", cred.Description)
	}

	if err := svc.Update(ctx, "app1", "", Meta{Status: "frozen"}); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestUpdateCannotReactivateRevoked(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testBox(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{AppID: "app1", Secret: "s"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(ctx, "app1", "", "compromised"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// Metadata edits stay possible after revocation but the status is
	// pinned.
	if err := svc.Update(ctx, "app1", "", Meta{Description: "leaked 2026-08"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	cred, err := store.Find(ctx, "app1", DefaultKeyID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if cred.Status != StatusRevoked {
		t.Fatalf("status = %q, want revoked", cred.Status)
	}

	if err := svc.Update(ctx, "app1", "", Meta{Status: StatusActive}); !errors.Is(err, ErrRevoked) {
		t.Fatalf("reactivation accepted: %v", err)
	}
	if err := svc.Update(ctx, "app1", "", Meta{Status: StatusInactive}); !errors.Is(err, ErrRevoked) {
		t.Fatalf("downgrade from revoked accepted: %v", err)
	}
}

func TestRotateStagesNewKey(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testBox(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{AppID: "app1", Secret: "old"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Staged rotation: both keys stay usable until the old one is
	// revoked explicitly.
	cred, err := svc.Rotate(ctx, RotateParams{AppID: "app1", NewKeyID: "k2", NewSecret: "new"})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if cred.KeyID != "k2" {
		t.Fatalf("new key id = %q", cred.KeyID)
	}
	old, err := store.Find(ctx, "app1", DefaultKeyID)
	if err != nil {
		t.Fatalf("Find old: %v", err)
	}
	if old.Status != StatusActive {
		t.Fatalf("old key no longer active after staged rotation: %q", old.Status)
	}
}

func TestRotateWithImmediateRevoke(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testBox(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{AppID: "app1", Secret: "old"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Rotate(ctx, RotateParams{AppID: "app1", NewKeyID: "k2", NewSecret: "new", RevokeOld: true}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	old, err := store.Find(ctx, "app1", DefaultKeyID)
	if err != nil {
		t.Fatalf("Find old: %v", err)
	}
	if old.Status != StatusRevoked {
		t.Fatalf("old key not revoked: %q", old.Status)
	}

	list, err := svc.List(ctx, "app1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("credentials = %d, want 2 (rotation never deletes)", len(list))
	}
}
