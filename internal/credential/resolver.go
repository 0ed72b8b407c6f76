package credential

import (
	"context"
	"errors"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/secretbox"
	"authgate.org/internal/signing"
)

var _ signing.Resolver = (*Resolver)(nil)

// Resolver turns an application/key identifier into usable signing
// material at verification time. It decrypts the stored secret with the
// server's wrapping key; ciphertext never leaves it.
type Resolver struct {
	store Store
	box   *secretbox.Box
	now   func() time.Time

	touchTimeout time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, box *secretbox.Box, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:        store,
		box:          box,
		now:          time.Now,
		touchTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve selects the matching active credential, enforces the validity
// window and IP allowlist, and returns the decrypted secret. Every
// failure surfaces as ErrNoActiveCredential; the precise reason is
// recorded only in the audit sink.
func (r *Resolver) Resolve(ctx context.Context, appID, keyID, ip string) (signing.Credential, error) {
	if keyID == "" {
		keyID = DefaultKeyID
	}
	cred, err := r.store.Find(ctx, appID, keyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return signing.Credential{}, r.reject(ctx, appID, keyID, "not_found")
		}
		return signing.Credential{}, err
	}
	if !cred.UsableAt(r.now().UTC()) {
		return signing.Credential{}, r.reject(ctx, appID, keyID, "not_usable")
	}
	if !cred.AllowsIP(ip) {
		return signing.Credential{}, r.reject(ctx, appID, keyID, "ip_not_allowed")
	}
	secret, err := r.box.Open(cred.SecretEnc)
	if err != nil {
		return signing.Credential{}, r.reject(ctx, appID, keyID, "unwrap_failed")
	}
	return signing.Credential{
		AppID:     cred.AppID,
		KeyID:     cred.KeyID,
		Secret:    secret,
		Algorithm: cred.Algorithm,
		Encoding:  cred.Encoding,
	}, nil
}

// Touch records last-used metadata without blocking the response path.
// Failures are swallowed: usage metadata is best-effort.
func (r *Resolver) Touch(appID, keyID, ip string) {
	now := r.now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.touchTimeout)
		defer cancel()
		_ = r.store.TouchUsage(ctx, appID, keyID, now, ip)
	}()
}

func (r *Resolver) reject(ctx context.Context, appID, keyID, reason string) error {
	_ = audit.LogEvent(ctx, "auth.credential.rejected", map[string]any{
		"app_id": appID,
		"key_id": keyID,
		"reason": reason,
	})
	return ErrNoActiveCredential
}
