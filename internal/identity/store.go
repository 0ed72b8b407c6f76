package identity

import "context"

// Store describes persistence operations required for subject identities.
type Store interface {
	Create(ctx context.Context, subject *Subject) error
	Find(ctx context.Context, id string) (*Subject, error)
	FindByUsername(ctx context.Context, username string) (*Subject, error)
	// UpdatePassword replaces the password hash and bumps the password
	// version, invalidating every previously issued token on next use.
	UpdatePassword(ctx context.Context, id, passwordHash string) (newVersion int, err error)
	SetStatus(ctx context.Context, id string, status Status) error
}
