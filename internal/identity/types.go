package identity

import "time"

// Status describes whether a subject may authenticate.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBanned   Status = "banned"
)

// Subject is the minimal identity needed by the authentication core: a
// stable id, a password version bumped on every credential change, and an
// account status.
type Subject struct {
	ID              string
	UserID          int64
	Username        string
	PasswordHash    string
	PasswordVersion int
	Roles           []string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanAuthenticate reports whether the subject is allowed to log in or
// present tokens.
func (s *Subject) CanAuthenticate() bool {
	return s.Status == StatusActive
}
