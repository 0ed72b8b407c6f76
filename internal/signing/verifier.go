package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/obs"
)

// ErrUnauthorized is the only error the verifier surfaces to callers.
// The distinguishing reason is recorded in the audit sink so rejections
// cannot be used as an oracle.
var ErrUnauthorized = errors.New("signing: unauthorized")

const (
	defaultMaxSkew     = 3 * time.Minute
	rateCounterWindow  = time.Minute
	defaultMaxAttempts = 120
)

// Credential is the resolved signing material for one application key.
type Credential struct {
	AppID     string
	KeyID     string
	Secret    []byte
	Algorithm Algorithm
	Encoding  Encoding
}

// Resolver yields usable signing credentials at verification time.
type Resolver interface {
	// Resolve returns the active credential for (appID, keyID) after
	// status, validity-window and IP-allowlist checks. It must not
	// distinguish between failure causes.
	Resolve(ctx context.Context, appID, keyID, ip string) (Credential, error)
	// Touch records last-used metadata without blocking verification.
	Touch(appID, keyID, ip string)
}

// ReplayCache is the atomic conditional-write cache backing replay
// prevention and the per-IP attempt counter.
type ReplayCache interface {
	// SetNX stores key with ttl only if absent; reports whether this
	// caller won. Exactly one of two concurrent writers wins.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IncrWindow increments a sliding counter with ttl and returns the
	// new value.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Request carries the signed components extracted from an incoming call.
type Request struct {
	AppID     string
	KeyID     string
	Method    string
	Path      string
	Timestamp int64 // epoch milliseconds from x-ts
	Nonce     string
	Signature string
	BodyHash  string // hex SHA-256 of the request body, "" when bodiless
	IP        string
}

// Verifier is the request-time gate for machine-to-machine traffic.
type Verifier struct {
	resolver    Resolver
	cache       ReplayCache
	maxSkew     time.Duration
	maxAttempts int64
	now         func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxSkew bounds accepted clock drift (and the replay window).
func WithMaxSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithMaxAttemptsPerMinute caps verification attempts per client IP.
func WithMaxAttemptsPerMinute(n int64) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.maxAttempts = n
		}
	}
}

// WithVerifierClock overrides the time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier.
func NewVerifier(resolver Resolver, cache ReplayCache, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		resolver:    resolver,
		cache:       cache,
		maxSkew:     defaultMaxSkew,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks one signed request. Any failure, including store
// unavailability, rejects the request: the gate fails closed.
func (v *Verifier) Verify(ctx context.Context, req Request) error {
	// The IP counter runs first so every attempt is counted regardless
	// of outcome.
	if req.IP != "" {
		count, err := v.cache.IncrWindow(ctx, "sigrate:"+req.IP, rateCounterWindow)
		if err != nil {
			return v.reject(ctx, req, "rate_counter_unavailable", err)
		}
		if count > v.maxAttempts {
			return v.reject(ctx, req, "rate_limited", nil)
		}
	}

	if req.AppID == "" || req.Timestamp == 0 || req.Nonce == "" || req.Signature == "" {
		return v.reject(ctx, req, "missing_headers", nil)
	}

	now := v.now().UnixMilli()
	skew := now - req.Timestamp
	if skew < 0 {
		skew = -skew
	}
	// Boundary is inclusive: |now-ts| == maxSkew is still accepted.
	if skew > v.maxSkew.Milliseconds() {
		return v.reject(ctx, req, "stale_clock", nil)
	}

	cred, err := v.resolver.Resolve(ctx, req.AppID, req.KeyID, req.IP)
	if err != nil {
		return v.reject(ctx, req, "no_active_credential", err)
	}

	expected, err := Compute(cred.Algorithm, cred.Encoding, cred.Secret,
		Canonical(req.Method, req.Path, req.Timestamp, req.Nonce, req.BodyHash))
	if err != nil {
		return v.reject(ctx, req, "bad_credential_config", err)
	}
	if !Equal(expected, req.Signature) {
		return v.reject(ctx, req, "signature_mismatch", nil)
	}

	// The method is uppercased the same way Canonical does, so differently
	// cased replays of the same signed material share one key.
	replayKey := fmt.Sprintf("sig:%s:%s:%s:%s:%d:%s",
		cred.AppID, cred.KeyID, strings.ToUpper(req.Method), NormalizePath(req.Path), req.Timestamp, req.Nonce)
	won, err := v.cache.SetNX(ctx, replayKey, v.maxSkew)
	if err != nil {
		return v.reject(ctx, req, "replay_cache_unavailable", err)
	}
	if !won {
		return v.reject(ctx, req, "replay_detected", nil)
	}

	v.resolver.Touch(cred.AppID, cred.KeyID, req.IP)
	obs.SignatureCheck("ok")
	return nil
}

func (v *Verifier) reject(ctx context.Context, req Request, reason string, cause error) error {
	obs.SignatureCheck(reason)
	fields := map[string]any{
		"reason": reason,
		"app_id": req.AppID,
		"key_id": req.KeyID,
		"method": req.Method,
		"path":   req.Path,
		"ip":     req.IP,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	_ = audit.LogEvent(ctx, "auth.signature.rejected", fields)
	return ErrUnauthorized
}
