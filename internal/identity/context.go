package identity

import (
	"context"
	"strings"
)

type subjectContextKey struct{}

// AuthContext is the resolved identity threaded through the request call
// chain after authentication. It is attached to the context explicitly;
// nothing mutates the request object.
type AuthContext struct {
	SubjectID string
	UserID    int64
	Username  string
	Roles     []string
	SessionID string
	Domain    string
}

// HasRole reports whether the authenticated subject carries the role.
func (a AuthContext) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range a.Roles {
		if strings.ToLower(r) == role {
			return true
		}
	}
	return false
}

// WithAuthContext attaches the authenticated identity to the context.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, &ac)
}

// AuthContextFrom extracts the authenticated identity from the context.
func AuthContextFrom(ctx context.Context) (AuthContext, bool) {
	if ctx == nil {
		return AuthContext{}, false
	}
	v, ok := ctx.Value(subjectContextKey{}).(*AuthContext)
	if !ok || v == nil {
		return AuthContext{}, false
	}
	return *v, true
}

// SubjectIDFromContext returns the authenticated subject id if present.
func SubjectIDFromContext(ctx context.Context) (string, bool) {
	ac, ok := AuthContextFrom(ctx)
	if !ok || ac.SubjectID == "" {
		return "", false
	}
	return ac.SubjectID, true
}
