package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"authgate.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const credentialColumns = `id, app_id, key_id, secret_enc, algorithm, encoding, status,
	not_before, expires_at, allow_ips, description, last_used_at, last_used_ip, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, cred *Credential) error {
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	if cred.Status == "" {
		cred.Status = StatusActive
	}
	allowIPs, _ := json.Marshal(cred.AllowIPs)
	_, err := s.db.ExecContext(ctx, `
		insert into credentials(id, app_id, key_id, secret_enc, algorithm, encoding, status,
			not_before, expires_at, allow_ips, description)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		cred.ID, cred.AppID, cred.KeyID, cred.SecretEnc, cred.Algorithm, cred.Encoding, cred.Status,
		cred.NotBefore, cred.ExpiresAt, allowIPs, cred.Description,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PGStore) Find(ctx context.Context, appID, keyID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from credentials where app_id=$1 and key_id=$2`, appID, keyID)
	return scanCredential(row)
}

func (s *PGStore) ListByApp(ctx context.Context, appID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+credentialColumns+` from credentials where app_id=$1 order by created_at asc`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cred)
	}
	return res, rows.Err()
}

func (s *PGStore) UpdateMeta(ctx context.Context, appID, keyID string, meta Meta) error {
	allowIPs, _ := json.Marshal(meta.AllowIPs)
	res, err := s.db.ExecContext(ctx, `
		update credentials
		set status=$3, not_before=$4, expires_at=$5, allow_ips=$6, description=$7, updated_at=now()
		where app_id=$1 and key_id=$2`,
		appID, keyID, meta.Status, meta.NotBefore, meta.ExpiresAt, allowIPs, meta.Description,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetStatus(ctx context.Context, appID, keyID string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`update credentials set status=$3, updated_at=now() where app_id=$1 and key_id=$2`,
		appID, keyID, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) TouchUsage(ctx context.Context, appID, keyID string, at time.Time, ip string) error {
	_, err := s.db.ExecContext(ctx,
		`update credentials set last_used_at=$3, last_used_ip=$4 where app_id=$1 and key_id=$2`,
		appID, keyID, at, ip)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var (
		cred       Credential
		allowIPs   []byte
		notBefore  sql.NullTime
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
		lastUsedIP sql.NullString
	)
	err := row.Scan(&cred.ID, &cred.AppID, &cred.KeyID, &cred.SecretEnc, &cred.Algorithm, &cred.Encoding,
		&cred.Status, &notBefore, &expiresAt, &allowIPs, &cred.Description,
		&lastUsedAt, &lastUsedIP, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(allowIPs, &cred.AllowIPs)
	if notBefore.Valid {
		t := notBefore.Time
		cred.NotBefore = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		cred.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		cred.LastUsedAt = &t
	}
	cred.LastUsedIP = lastUsedIP.String
	return &cred, nil
}
