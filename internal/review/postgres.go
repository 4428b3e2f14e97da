package review

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildgate/guildgate/internal/channel"
	"github.com/guildgate/guildgate/internal/db"
)

const selectRequest = `SELECT id, community_id, section_id, user_id, claimed_name, rank, fame,
  name_history, fail_reason, fail_detail, prompt_channel_id, prompt_message_id, created_at
FROM manual_reviews`

// PostgresStore is a Store over the manual_reviews table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, r Request) error {
	id, err := db.ParseUUID(r.ID)
	if err != nil {
		return err
	}
	history := r.Snapshot.NameHistory
	if history == nil {
		history = []string{}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO manual_reviews (id, community_id, section_id, user_id, claimed_name, rank, fame,
		   name_history, fail_reason, fail_detail, prompt_channel_id, prompt_message_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, r.CommunityID, r.SectionID, r.UserID, r.Snapshot.ClaimedName, r.Snapshot.Rank, r.Snapshot.Fame,
		history, r.Snapshot.FailReason, r.Snapshot.FailDetail, r.Prompt.ChannelID, r.Prompt.MessageID,
		pgtype.Timestamptz{Time: r.CreatedAt, Valid: true},
	)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyPending
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Request, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Request{}, ErrRequestNotFound
	}
	return s.one(ctx, selectRequest+` WHERE id = $1`, pgID)
}

func (s *PostgresStore) GetByMember(ctx context.Context, communityID, sectionID, userID string) (Request, error) {
	return s.one(ctx, selectRequest+` WHERE community_id = $1 AND lower(section_id) = lower($2) AND user_id = $3`,
		communityID, sectionID, userID)
}

func (s *PostgresStore) GetByPrompt(ctx context.Context, ref channel.MessageRef) (Request, error) {
	if ref.IsZero() {
		return Request{}, ErrRequestNotFound
	}
	return s.one(ctx, selectRequest+` WHERE prompt_channel_id = $1 AND prompt_message_id = $2`,
		ref.ChannelID, ref.MessageID)
}

func (s *PostgresStore) SetPrompt(ctx context.Context, id string, ref channel.MessageRef) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrRequestNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE manual_reviews SET prompt_channel_id = $2, prompt_message_id = $3 WHERE id = $1`,
		pgID, ref.ChannelID, ref.MessageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrRequestNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM manual_reviews WHERE id = $1`, pgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (s *PostgresStore) ListByMember(ctx context.Context, communityID, userID string) ([]Request, error) {
	return s.many(ctx, selectRequest+` WHERE community_id = $1 AND user_id = $2 ORDER BY created_at`,
		communityID, userID)
}

func (s *PostgresStore) List(ctx context.Context, communityID string) ([]Request, error) {
	if communityID == "" {
		return s.many(ctx, selectRequest+` ORDER BY created_at`)
	}
	return s.many(ctx, selectRequest+` WHERE community_id = $1 ORDER BY created_at`, communityID)
}

func (s *PostgresStore) one(ctx context.Context, sql string, args ...any) (Request, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return Request{}, err
	}
	r, err := pgx.CollectOneRow(rows, scanRequest)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrRequestNotFound
	}
	return r, err
}

func (s *PostgresStore) many(ctx context.Context, sql string, args ...any) ([]Request, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRequest)
}

func scanRequest(row pgx.CollectableRow) (Request, error) {
	var (
		r       Request
		id      pgtype.UUID
		created pgtype.Timestamptz
	)
	err := row.Scan(&id, &r.CommunityID, &r.SectionID, &r.UserID,
		&r.Snapshot.ClaimedName, &r.Snapshot.Rank, &r.Snapshot.Fame, &r.Snapshot.NameHistory,
		&r.Snapshot.FailReason, &r.Snapshot.FailDetail, &r.Prompt.ChannelID, &r.Prompt.MessageID, &created)
	r.ID = db.UUIDToString(id)
	r.CreatedAt = db.TimeFromPg(created)
	return r, err
}
