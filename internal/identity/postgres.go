package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"authgate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, subject *Subject) error {
	if subject.ID == "" {
		subject.ID = ids.New()
	}
	if subject.Status == "" {
		subject.Status = StatusActive
	}
	roles, _ := json.Marshal(subject.Roles)
	_, err := s.db.ExecContext(ctx,
		`insert into subjects(id, user_id, username, password_hash, password_version, roles, status)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		subject.ID, subject.UserID, strings.ToLower(subject.Username),
		subject.PasswordHash, subject.PasswordVersion, roles, subject.Status,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*Subject, error) {
	return s.findBy(ctx, `id=$1`, id)
}

func (s *PGStore) FindByUsername(ctx context.Context, username string) (*Subject, error) {
	return s.findBy(ctx, `username=$1`, strings.ToLower(strings.TrimSpace(username)))
}

func (s *PGStore) findBy(ctx context.Context, cond string, arg any) (*Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, username, password_hash, password_version, roles, status, created_at, updated_at
		 from subjects where `+cond, arg)
	var (
		subject Subject
		roles   []byte
	)
	if err := row.Scan(&subject.ID, &subject.UserID, &subject.Username, &subject.PasswordHash,
		&subject.PasswordVersion, &roles, &subject.Status, &subject.CreatedAt, &subject.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(roles, &subject.Roles)
	return &subject, nil
}

func (s *PGStore) UpdatePassword(ctx context.Context, id, passwordHash string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`update subjects
		 set password_hash=$2, password_version=password_version+1, updated_at=now()
		 where id=$1
		 returning password_version`,
		id, passwordHash,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *PGStore) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`update subjects set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
