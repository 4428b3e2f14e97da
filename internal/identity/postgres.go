package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildgate/guildgate/internal/db"
)

const (
	ownerConstraint = "identity_records_owner_unique"
	nameConstraint  = "identity_names_pkey"
)

// PostgresStore is a Store backed by the identity_* tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Store over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Record, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Record{}, ErrRecordNotFound
	}
	return loadRecord(ctx, s.pool, pgID)
}

func (s *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (Record, error) {
	return s.loadVia(ctx, `SELECT id FROM identity_records WHERE owner_id = $1`, ownerID)
}

func (s *PostgresStore) GetByNameKey(ctx context.Context, key string) (Record, error) {
	return s.loadVia(ctx, `SELECT record_id FROM identity_names WHERE name_key = $1`, key)
}

func (s *PostgresStore) loadVia(ctx context.Context, query, arg string) (Record, error) {
	if arg == "" {
		return Record{}, ErrRecordNotFound
	}
	var id pgtype.UUID
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return loadRecord(ctx, s.pool, id)
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	pgID, err := db.ParseUUID(rec.ID)
	if err != nil {
		return Record{}, err
	}
	rec.Version = 1
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var updated pgtype.Timestamptz
		err := tx.QueryRow(ctx,
			`INSERT INTO identity_records (id, owner_id, version, updated_at)
			 VALUES ($1, $2, 1, $3) RETURNING updated_at`,
			pgID, db.ToPgText(rec.OwnerID), timestamp(rec.LastModified),
		).Scan(&updated)
		if err != nil {
			return err
		}
		rec.LastModified = db.TimeFromPg(updated)
		return writeChildren(ctx, tx, pgID, rec)
	})
	if err != nil {
		return Record{}, mapWriteError(err)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, rec Record) (Record, error) {
	pgID, err := db.ParseUUID(rec.ID)
	if err != nil {
		return Record{}, ErrRecordNotFound
	}
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			version int64
			updated pgtype.Timestamptz
		)
		err := tx.QueryRow(ctx,
			`UPDATE identity_records
			 SET owner_id = $3, version = version + 1, updated_at = $4
			 WHERE id = $1 AND version = $2
			 RETURNING version, updated_at`,
			pgID, rec.Version, db.ToPgText(rec.OwnerID), timestamp(rec.LastModified),
		).Scan(&version, &updated)
		if errors.Is(err, pgx.ErrNoRows) {
			return missingOrStale(ctx, tx, pgID)
		}
		if err != nil {
			return err
		}
		rec.Version = version
		rec.LastModified = db.TimeFromPg(updated)
		if _, err := tx.Exec(ctx, `DELETE FROM identity_names WHERE record_id = $1`, pgID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM identity_activity WHERE record_id = $1`, pgID); err != nil {
			return err
		}
		return writeChildren(ctx, tx, pgID, rec)
	})
	if err != nil {
		return Record{}, mapWriteError(err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string, version int64) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrRecordNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM identity_records WHERE id = $1 AND version = $2`, pgID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missingOrStale(ctx, s.pool, pgID)
	}
	return nil
}

func writeChildren(ctx context.Context, q db.Querier, id pgtype.UUID, rec Record) error {
	names := make([]Name, 0, len(rec.Alternates)+1)
	if rec.Primary.Key != "" {
		names = append(names, rec.Primary)
	}
	names = append(names, rec.Alternates...)
	for i, n := range names {
		isPrimary := i == 0 && rec.Primary.Key != ""
		if _, err := q.Exec(ctx,
			`INSERT INTO identity_names (name_key, record_id, display, is_primary, position) VALUES ($1, $2, $3, $4, $5)`,
			n.Key, id, n.Display, isPrimary, i,
		); err != nil {
			return err
		}
	}
	for i, a := range rec.Activity {
		if _, err := q.Exec(ctx,
			`INSERT INTO identity_activity (record_id, community_id, position, popped, stored, runs_completed, runs_led)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, a.CommunityID, i, a.Popped, a.Stored, a.RunsCompleted, a.RunsLed,
		); err != nil {
			return err
		}
	}
	return nil
}

func loadRecord(ctx context.Context, q db.Querier, id pgtype.UUID) (Record, error) {
	var (
		owner   pgtype.Text
		updated pgtype.Timestamptz
		rec     Record
	)
	err := q.QueryRow(ctx,
		`SELECT owner_id, version, updated_at FROM identity_records WHERE id = $1`, id,
	).Scan(&owner, &rec.Version, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.ID = db.UUIDToString(id)
	rec.OwnerID = db.TextToString(owner)
	rec.LastModified = db.TimeFromPg(updated)

	rows, err := q.Query(ctx,
		`SELECT name_key, display, is_primary FROM identity_names WHERE record_id = $1 ORDER BY position`, id)
	if err != nil {
		return Record{}, fmt.Errorf("load names: %w", err)
	}
	for rows.Next() {
		var (
			n         Name
			isPrimary bool
		)
		if err := rows.Scan(&n.Key, &n.Display, &isPrimary); err != nil {
			rows.Close()
			return Record{}, err
		}
		if isPrimary {
			rec.Primary = n
		} else {
			rec.Alternates = append(rec.Alternates, n)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, err
	}

	rows, err = q.Query(ctx,
		`SELECT community_id, popped, stored, runs_completed, runs_led
		 FROM identity_activity WHERE record_id = $1 ORDER BY position`, id)
	if err != nil {
		return Record{}, fmt.Errorf("load activity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a ActivityCounters
		if err := rows.Scan(&a.CommunityID, &a.Popped, &a.Stored, &a.RunsCompleted, &a.RunsLed); err != nil {
			return Record{}, err
		}
		rec.Activity = append(rec.Activity, a)
	}
	return rec, rows.Err()
}

func missingOrStale(ctx context.Context, q db.Querier, id pgtype.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identity_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrRecordNotFound
}

func mapWriteError(err error) error {
	constraint, ok := db.UniqueViolation(err)
	if !ok {
		return err
	}
	if constraint == ownerConstraint {
		return ErrOwnerTaken
	}
	return ErrNameTaken
}

func timestamp(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
