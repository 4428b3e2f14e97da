package blacklist

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildgate/guildgate/internal/db"
)

// PostgresStore is a Store over blacklist_entries and network_blacklist_entries.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) PutCommunity(ctx context.Context, communityID string, e Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blacklist_entries (community_id, name_key, reason, moderator, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (community_id, name_key)
		 DO UPDATE SET reason = EXCLUDED.reason, moderator = EXCLUDED.moderator, created_at = EXCLUDED.created_at`,
		communityID, e.NameKey, e.Reason, e.Moderator, pgtype.Timestamptz{Time: e.CreatedAt, Valid: true},
	)
	return err
}

func (s *PostgresStore) DeleteCommunity(ctx context.Context, communityID, nameKey string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM blacklist_entries WHERE community_id = $1 AND name_key = $2`, communityID, nameKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *PostgresStore) ListCommunity(ctx context.Context, communityID string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT name_key, reason, moderator, created_at, '' FROM blacklist_entries
		 WHERE community_id = $1 ORDER BY name_key`, communityID)
}

func (s *PostgresStore) FindCommunity(ctx context.Context, communityID string, keys []string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT name_key, reason, moderator, created_at, '' FROM blacklist_entries
		 WHERE community_id = $1 AND name_key = ANY($2)`, communityID, keys)
}

func (s *PostgresStore) PutNetwork(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO network_blacklist_entries (name_key, reason, moderator, origin_community, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name_key)
		 DO UPDATE SET reason = EXCLUDED.reason, moderator = EXCLUDED.moderator,
		   origin_community = EXCLUDED.origin_community, created_at = EXCLUDED.created_at`,
		e.NameKey, e.Reason, e.Moderator, e.OriginCommunity, pgtype.Timestamptz{Time: e.CreatedAt, Valid: true},
	)
	return err
}

func (s *PostgresStore) DeleteNetwork(ctx context.Context, nameKey string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM network_blacklist_entries WHERE name_key = $1`, nameKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *PostgresStore) ListNetwork(ctx context.Context) ([]Entry, error) {
	return s.query(ctx,
		`SELECT name_key, reason, moderator, created_at, origin_community
		 FROM network_blacklist_entries ORDER BY name_key`)
}

func (s *PostgresStore) FindNetwork(ctx context.Context, keys []string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT name_key, reason, moderator, created_at, origin_community
		 FROM network_blacklist_entries WHERE name_key = ANY($1)`, keys)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			created pgtype.Timestamptz
		)
		err := row.Scan(&e.NameKey, &e.Reason, &e.Moderator, &created, &e.OriginCommunity)
		e.CreatedAt = db.TimeFromPg(created)
		return e, err
	})
}
