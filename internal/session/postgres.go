package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

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

const sessionColumns = `id, subject_id, jti, refresh_token_hash, device_id, device_name, platform,
	expires_at, revoked_at, revoked_reason, refresh_count, last_seen_at, created_at`

func (s *PGStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, subject_id, jti, refresh_token_hash, device_id, device_name, platform, expires_at)
		values($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.SubjectID, sess.JTI, sess.RefreshTokenHash,
		nullable(sess.DeviceID), nullable(sess.DeviceName), nullable(sess.Platform), sess.ExpiresAt,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, subjectID, jti string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where subject_id=$1 and jti=$2`, subjectID, jti)
	return scanSession(row)
}

func (s *PGStore) ListBySubject(ctx context.Context, subjectID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where subject_id=$1 order by created_at desc`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *PGStore) ListActive(ctx context.Context, subjectID string, now time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+` from sessions
		where subject_id=$1 and revoked_at is null and expires_at > $2
		order by created_at asc`, subjectID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *PGStore) MarkRevoked(ctx context.Context, subjectID, jti, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set revoked_at=$4, revoked_reason=$3
		where subject_id=$1 and jti=$2 and revoked_at is null`,
		subjectID, jti, reason, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) RevokeAllForSubject(ctx context.Context, subjectID, reason string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set revoked_at=$3, revoked_reason=$2
		where subject_id=$1 and revoked_at is null`,
		subjectID, reason, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) RevokeDevice(ctx context.Context, subjectID, deviceID, reason string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set revoked_at=$4, revoked_reason=$3
		where subject_id=$1 and device_id=$2 and revoked_at is null`,
		subjectID, deviceID, reason, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) RecordRefresh(ctx context.Context, subjectID, jti string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update sessions set last_seen_at=$3, refresh_count=refresh_count+1
		where subject_id=$1 and jti=$2`,
		subjectID, jti, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                    Session
		deviceID, deviceName    sql.NullString
		platform, revokedReason sql.NullString
		revokedAt, lastSeenAt   sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.SubjectID, &sess.JTI, &sess.RefreshTokenHash,
		&deviceID, &deviceName, &platform,
		&sess.ExpiresAt, &revokedAt, &revokedReason, &sess.RefreshCount, &lastSeenAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.DeviceID = deviceID.String
	sess.DeviceName = deviceName.String
	sess.Platform = platform.String
	sess.RevokedReason = revokedReason.String
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		sess.LastSeenAt = &t
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var res []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
