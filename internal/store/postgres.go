package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagen/crowdqueue/internal/models"
)

// Postgres error codes the store maps to sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping checks the connection pool.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const pgEntryColumns = `e.id, e.submitter_id, e.source, e.media_id, e.url, e.title, e.thumbnail, e.active, e.created_at,
	(SELECT COUNT(*) FROM votes v WHERE v.entry_id = e.id)`

func scanPgEntry(row pgx.Row) (*models.QueueEntry, error) {
	var e models.QueueEntry
	if err := row.Scan(&e.ID, &e.SubmitterID, &e.Source, &e.MediaID, &e.URL, &e.Title, &e.Thumbnail,
		&e.Active, &e.CreatedAt, &e.VoteCount); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// CreateEntry inserts an inactive entry.
func (p *Postgres) CreateEntry(ctx context.Context, e *models.QueueEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO queue_entries (id, submitter_id, source, media_id, url, title, thumbnail, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`,
		e.ID, e.SubmitterID, e.Source, e.MediaID, e.URL, e.Title, e.Thumbnail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateEntry: %w", err)
	}
	e.Active = false
	return nil
}

// GetEntry returns a single entry by id.
func (p *Postgres) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	e, err := scanPgEntry(p.pool.QueryRow(ctx,
		`SELECT `+pgEntryColumns+` FROM queue_entries e WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetEntry: %w", err)
	}
	return e, nil
}

// ListEntries returns all entries in creation order.
func (p *Postgres) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgEntryColumns+` FROM queue_entries e ORDER BY e.created_at, e.id`)
	if err != nil {
		return nil, fmt.Errorf("ListEntries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.QueueEntry, error) {
		e, err := scanPgEntry(row)
		if err != nil {
			return models.QueueEntry{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ListEntries: %w", err)
	}
	return entries, nil
}

// UpdateEntryMetadata sets title and thumbnail.
func (p *Postgres) UpdateEntryMetadata(ctx context.Context, id, title, thumbnail string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE queue_entries SET title = $2, thumbnail = $3 WHERE id = $1`, id, title, thumbnail)
	if err != nil {
		return fmt.Errorf("UpdateEntryMetadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntry deletes the entry's votes and the entry in one transaction.
func (p *Postgres) DeleteEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	return p.deleteEntry(ctx, id, false)
}

// RetireActive deletes the entry only while it is the active one.
func (p *Postgres) RetireActive(ctx context.Context, id string) (*models.QueueEntry, error) {
	return p.deleteEntry(ctx, id, true)
}

func (p *Postgres) deleteEntry(ctx context.Context, id string, requireActive bool) (*models.QueueEntry, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR UPDATE makes concurrent deletes of the same row queue behind the
	// first; the loser then sees no row.
	e, err := scanPgEntry(tx.QueryRow(ctx,
		`SELECT `+pgEntryColumns+` FROM queue_entries e WHERE e.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock entry: %w", err)
	}
	if requireActive && !e.Active {
		return nil, ErrNotActive
	}

	if _, err := tx.Exec(ctx, `DELETE FROM votes WHERE entry_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete votes: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return e, nil
}

// ActivateEntry flags id active when no other entry is. The partial unique
// index rejects a concurrent second activation that slips past NOT EXISTS.
func (p *Postgres) ActivateEntry(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE queue_entries SET active = TRUE
		 WHERE id = $1 AND NOT active
		   AND NOT EXISTS (SELECT 1 FROM queue_entries WHERE active)`, id)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrActiveExists
		}
		return fmt.Errorf("ActivateEntry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Nothing updated: classify why, for the caller's benefit only.
	var active bool
	err = p.pool.QueryRow(ctx, `SELECT active FROM queue_entries WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ActivateEntry: %w", err)
	}
	return ErrActiveExists
}

// AddVote inserts a vote; the primary key rejects duplicates.
func (p *Postgres) AddVote(ctx context.Context, v models.VoteRecord) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO votes (participant_id, entry_id, created_at) VALUES ($1, $2, $3)`,
		v.ParticipantID, v.EntryID, v.CreatedAt)
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case pgUniqueViolation:
		return ErrAlreadyVoted
	case pgForeignKeyViolation:
		return ErrNotFound
	}
	return fmt.Errorf("AddVote: %w", err)
}

// RemoveVote deletes a vote.
func (p *Postgres) RemoveVote(ctx context.Context, entryID, participantID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM votes WHERE entry_id = $1 AND participant_id = $2`, entryID, participantID)
	if err != nil {
		return fmt.Errorf("RemoveVote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotVoted
	}
	return nil
}

// VotedEntries lists entry ids the participant has voted for.
func (p *Postgres) VotedEntries(ctx context.Context, participantID string) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, `SELECT entry_id FROM votes WHERE participant_id = $1`, participantID)
	if err != nil {
		return nil, fmt.Errorf("VotedEntries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("VotedEntries: %w", err)
	}
	voted := make(map[string]bool, len(ids))
	for _, id := range ids {
		voted[id] = true
	}
	return voted, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
