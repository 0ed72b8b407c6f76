package replay

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Cache = (*PGCache)(nil)

// PGCache implements Cache on a relational table. Each operation is a
// single upsert statement, so atomicity rides on the database: concurrent
// SetNX calls for one key conflict on the primary key and exactly one
// insert or update wins.
type PGCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGCache constructs a Postgres-backed cache.
func NewPGCache(db *sql.DB) *PGCache {
	return &PGCache{db: db, now: time.Now}
}

func (c *PGCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := c.now().UTC()
	var got string
	err := c.db.QueryRowContext(ctx, `
		insert into replay_cache(key, count, expires_at)
		values ($1, 1, $2)
		on conflict (key) do update
		set count = 1, expires_at = excluded.expires_at
		where replay_cache.expires_at <= $3
		returning key
	`, key, now.Add(ttl), now).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict with a live entry: another writer holds the key.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *PGCache) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := c.now().UTC()
	var count int64
	err := c.db.QueryRowContext(ctx, `
		insert into replay_cache(key, count, expires_at)
		values ($1, 1, $2)
		on conflict (key) do update
		set count = case when replay_cache.expires_at <= $3 then 1 else replay_cache.count + 1 end,
		    expires_at = case when replay_cache.expires_at <= $3 then $2 else replay_cache.expires_at end
		returning count
	`, key, now.Add(ttl), now).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Purge drops expired rows; intended for a periodic maintenance call.
func (c *PGCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `delete from replay_cache where expires_at <= $1`, c.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
