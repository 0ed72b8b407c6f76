// Package token mints and validates the access/refresh token pair bound
// to one session. Both tokens share a jti; they are signed with distinct
// secrets and carry a domain discriminator so a token issued for one
// surface can never authenticate against another.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate.org/internal/identity"
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("token: invalid token")

// Token type discriminators.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the shared claim shape for access and refresh tokens.
type Claims struct {
	UserID          int64    `json:"uid,omitempty"`
	Username        string   `json:"username,omitempty"`
	Roles           []string `json:"roles,omitempty"`
	PasswordVersion int      `json:"pwd_ver"`
	Domain          string   `json:"domain"`
	TokenType       string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair is an issued access/refresh token pair sharing one session id.
type Pair struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issuer mints token pairs for one token domain.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	domain        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTTLs overrides the access and refresh token lifetimes.
func WithTTLs(access, refresh time.Duration) IssuerOption {
	return func(i *Issuer) {
		if access > 0 {
			i.accessTTL = access
		}
		if refresh > 0 {
			i.refreshTTL = refresh
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer. The access and refresh secrets must be
// distinct: a refresh token must never verify as an access token.
func NewIssuer(accessSecret, refreshSecret []byte, issuer, audience, domain string, opts ...IssuerOption) (*Issuer, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("token: both secrets are required")
	}
	if subtle.ConstantTimeCompare(accessSecret, refreshSecret) == 1 {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if strings.TrimSpace(domain) == "" {
		return nil, errors.New("token: domain is required")
	}
	i := &Issuer{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		issuer:        issuer,
		audience:      audience,
		domain:        domain,
		accessTTL:     15 * time.Minute,
		refreshTTL:    14 * 24 * time.Hour,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// RefreshTTL reports the configured refresh token lifetime; session rows
// expire together with the refresh token they hash.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Mint issues an access/refresh pair for the subject, both carrying
// sessionID as jti.
func (i *Issuer) Mint(subject *identity.Subject, sessionID string) (Pair, error) {
	if subject == nil || strings.TrimSpace(subject.ID) == "" {
		return Pair{}, errors.New("token: subject is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return Pair{}, errors.New("token: session id is required")
	}
	now := i.now().UTC()
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access, err := i.sign(subject, sessionID, TypeAccess, now, accessExp, i.accessSecret)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.sign(subject, sessionID, TypeRefresh, now, refreshExp, i.refreshSecret)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		SessionID:        sessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(subject *identity.Subject, sessionID, tokenType string, now, exp time.Time, secret []byte) (string, error) {
	claims := Claims{
		UserID:          subject.UserID,
		Username:        subject.Username,
		Roles:           subject.Roles,
		PasswordVersion: subject.PasswordVersion,
		Domain:          i.domain,
		TokenType:       tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			Subject:   subject.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        sessionID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseAccess verifies an access token and returns its claims.
func (i *Issuer) ParseAccess(token string) (*Claims, error) {
	return i.parse(token, TypeAccess, i.accessSecret)
}

// ParseRefresh verifies a refresh token and returns its claims.
func (i *Issuer) ParseRefresh(token string) (*Claims, error) {
	return i.parse(token, TypeRefresh, i.refreshSecret)
}

func (i *Issuer) parse(token, wantType string, secret []byte) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := i.validateClaims(claims, wantType); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) validateClaims(claims *Claims, wantType string) error {
	if claims.TokenType != wantType {
		return errors.New("token type mismatch")
	}
	if claims.Domain != i.domain {
		return errors.New("token domain mismatch")
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return errors.New("unexpected issuer")
	}
	if i.audience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == i.audience {
				found = true
				break
			}
		}
		if !found {
			return errors.New("unexpected audience")
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return errors.New("session id missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	return nil
}

// Hash returns the one-way hash under which a refresh token is persisted;
// the plaintext never reaches storage.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashEqual compares a stored token hash against a presented plaintext in
// constant time.
func HashEqual(storedHash, presented string) bool {
	actual := Hash(presented)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
